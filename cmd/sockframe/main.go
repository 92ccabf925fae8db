package main

import (
	"fmt"
	"os"
)

const usage = `usage: sockframe <command> [flags]

commands:
  serve    run an echo server with the admin HTTP surface
  send     send one message and print the reply
  bench    drive load through a broker
  config   write or validate a config file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "send":
		err = runSend(os.Args[2:])
	case "bench":
		err = runBench(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "sockframe %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
