package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/GeekCmore/epwn/internal/external-adapters/yaml"
)

func runConfig(_ context.Context, args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: epwn config <subcommand> [options]

Subcommands:
  list             Show every configuration key and its value
  get <key>        Print one configuration value
  set <key> <val>  Assign one configuration value and save
  reset            Restore the built-in defaults

Keys:
`)
		for _, key := range yaml.ConfigKeys() {
			fmt.Fprintf(os.Stderr, "  %s\n", key)
		}
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		fatal("parsing flags: %v", err)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	path := *configPath
	if path == "" {
		var err error
		path, err = yaml.DefaultConfigPath()
		if err != nil {
			fatal("%v", err)
		}
	}

	switch fs.Arg(0) {
	case "list":
		cfg, err := yaml.LoadConfig(path)
		if err != nil {
			fatal("%v", err)
		}
		for _, key := range yaml.ConfigKeys() {
			value, err := cfg.Get(key)
			if err != nil {
				fatal("%v", err)
			}
			fmt.Printf("%s = %s\n", key, value)
		}

	case "get":
		if fs.NArg() < 2 {
			fatal("config get requires a key")
		}
		cfg, err := yaml.LoadConfig(path)
		if err != nil {
			fatal("%v", err)
		}
		value, err := cfg.Get(fs.Arg(1))
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println(value)

	case "set":
		if fs.NArg() < 3 {
			fatal("config set requires a key and a value")
		}
		cfg, err := yaml.LoadConfig(path)
		if err != nil {
			fatal("%v", err)
		}
		if err := cfg.Set(fs.Arg(1), fs.Arg(2)); err != nil {
			fatal("%v", err)
		}
		if err := cfg.Save(path); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s = %s\n", fs.Arg(1), fs.Arg(2))

	case "reset":
		if err := yaml.DefaultConfig().Save(path); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Configuration reset: %s\n", path)

	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}
}
