package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func runPatchChoose(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("patch-choose", flag.ExitOnError)
	var (
		arch       = fs.String("arch", detectArch(), "Architecture to choose from")
		noBackup   = fs.Bool("no-backup", false, "Skip the pre-patch backup")
		searchPath = fs.String("search-path", "", "Search path strategy: auto, always or never (default from config)")
		configPath = fs.String("config", "", "Config file path")
		verbose    = fs.Bool("verbose", false, "Verbose output")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: epwn patch-choose <binary> [options]

Pick one of the installed glibc versions interactively and patch the
binary against it. The compatibility check still applies.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		fatal("parsing flags: %v", err)
	}
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: target binary is required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	target := fs.Arg(0)

	a, err := newApp(*configPath, *verbose)
	if err != nil {
		fatal("%v", err)
	}
	entries, err := a.installer.List(ctx, *arch)
	if err != nil {
		fatal("%v", err)
	}
	if len(entries) == 0 {
		fatal("no glibc versions installed for %s; run \"epwn glibc install\" first", *arch)
	}

	fmt.Printf("Installed glibc versions (%s):\n", *arch)
	for i, e := range entries {
		fmt.Printf("  [%d] %s\n", i+1, e.Version.Raw)
	}
	fmt.Print("Select a version: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fatal("reading selection: %v", err)
	}
	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || choice < 1 || choice > len(entries) {
		fatal("selection must be a number between 1 and %d", len(entries))
	}
	picked := entries[choice-1]

	mode := a.cfg.Patch.SearchPath
	if *searchPath != "" {
		mode = *searchPath
	}
	backup := a.cfg.Patch.Backup && !*noBackup
	orch := a.patchOrchestrator(backup, mode, false)

	result, err := orch.PatchWith(ctx, target, picked.Version.Raw)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Patched %s with glibc %s\n", result.TargetPath, picked.Version.Raw)
	fmt.Printf("  interpreter: %s\n", result.Interpreter)
	if result.SearchPath != "" {
		fmt.Printf("  search path: %s\n", result.SearchPath)
	}
	if result.BackupPath != "" {
		fmt.Printf("  backup:      %s\n", result.BackupPath)
	}
}
