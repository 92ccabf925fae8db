package main

import (
	"flag"
	"log"

	"github.com/andrei-cloud/sockframe/internal/config"
)

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	output := fs.String("output", "sockframe.toml", "output path for config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", "sockframe.toml", "config path for validation")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *validate {
		if _, err := config.Load(*input); err != nil {
			return err
		}
		log.Printf("Validated config at %s", *input)
		return nil
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		return err
	}
	log.Printf("Wrote config template to %s", *output)
	return nil
}
