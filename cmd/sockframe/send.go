package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andrei-cloud/sockframe"
)

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:9000", "server address")
	timeout := fs.Duration("timeout", 5*time.Second, "per-operation timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("message is required")
	}
	payload := strings.Join(fs.Args(), " ")

	result := sockframe.Connect(sockframe.ClientHandlerFunc(func(client *sockframe.Client) {
		c, err := client.Dial(context.Background(), *addr, *timeout)
		if err != nil {
			client.SetReturn(err)
			return
		}
		defer c.Close()

		if err := c.ReplyString(payload); err != nil {
			client.SetReturn(err)
			return
		}
		msg, err := c.Receive()
		if err != nil {
			client.SetReturn(err)
			return
		}
		client.SetReturn(msg.String())
	}))

	switch v := result.(type) {
	case string:
		fmt.Fprintln(os.Stdout, v)
		return nil
	case error:
		return fmt.Errorf("exchange with %s: %w", *addr, v)
	default:
		return fmt.Errorf("exchange with %s returned %T", *addr, v)
	}
}
