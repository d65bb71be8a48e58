package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func runClean(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	var (
		keep       = fs.Int("keep", 2, "Number of newest versions to keep per architecture")
		configPath = fs.String("config", "", "Config file path")
		verbose    = fs.Bool("verbose", false, "Verbose output")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: epwn clean [options]

Remove old installed glibc versions, keeping the newest ones per
architecture.

Examples:
  epwn clean             # Keep the 2 newest versions per architecture
  epwn clean --keep 0    # Remove everything

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		fatal("parsing flags: %v", err)
	}

	a, err := newApp(*configPath, *verbose)
	if err != nil {
		fatal("%v", err)
	}
	removed, err := a.installer.Prune(ctx, *keep)
	if err != nil {
		fatal("%v", err)
	}
	if len(removed) == 0 {
		fmt.Println("Nothing to remove.")
		return
	}
	for _, e := range removed {
		fmt.Printf("Removed glibc %s (%s)\n", e.Version.Raw, e.Architecture)
	}
}
