package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	orchestrators "github.com/GeekCmore/epwn/internal/domain-orchestrators"
	"github.com/GeekCmore/epwn/internal/domain/entities"
)

func runPatch(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	var (
		version    = fs.String("version", "", "Patch against this installed glibc version instead of resolving")
		dryRun     = fs.Bool("dry-run", false, "Resolve and report without modifying the target")
		noBackup   = fs.Bool("no-backup", false, "Skip the pre-patch backup")
		searchPath = fs.String("search-path", "", "Search path strategy: auto, always or never (default from config)")
		noFetch    = fs.Bool("no-fetch", false, "Never download: fail when no installed version satisfies the target")
		configPath = fs.String("config", "", "Config file path")
		verbose    = fs.Bool("verbose", false, "Verbose output")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: epwn patch <binary> [options]

Patch a binary's interpreter and library search path to run against a
managed glibc install. The version is resolved from the binary's own
GLIBC_x.y symbol references; missing versions are downloaded unless
--no-fetch is given.

Examples:
  epwn patch ./challenge                   # Resolve, fetch if needed, patch
  epwn patch ./challenge --dry-run         # Show what would be done
  epwn patch ./challenge --version 2.31-0ubuntu9.9
  epwn patch ./challenge --search-path never

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

	mode := a.cfg.Patch.SearchPath
	if *searchPath != "" {
		mode = *searchPath
	}
	backup := a.cfg.Patch.Backup && !*noBackup
	orch := a.patchOrchestrator(backup, mode, !*noFetch)

	if *dryRun {
		report, err := orch.Plan(ctx, target)
		if err != nil {
			fatal("%v", err)
		}
		printPlan(target, report)
		return
	}

	var result *entities.PatchResult
	if *version != "" {
		result, err = orch.PatchWith(ctx, target, *version)
	} else {
		result, err = orch.PatchTarget(ctx, target)
	}
	if err != nil {
		if errors.Is(err, orchestrators.ErrNoRequirement) {
			fatal("%s has no versioned glibc dependency, nothing to patch", target)
		}
		fatal("%v", err)
	}

	fmt.Printf("Patched %s\n", result.TargetPath)
	fmt.Printf("  interpreter: %s\n", result.Interpreter)
	if result.SearchPath != "" {
		fmt.Printf("  search path: %s\n", result.SearchPath)
	}
	if result.BackupPath != "" {
		fmt.Printf("  backup:      %s\n", result.BackupPath)
	}
}

func printPlan(target string, report *orchestrators.PlanReport) {
	fmt.Printf("Target: %s\n", target)
	fmt.Printf("  requires: GLIBC_%s (%s)\n",
		report.Requirement.MaxSymbolVersion, report.Requirement.Architecture)
	for _, r := range report.Rejections {
		fmt.Printf("  rejected: %s\n", r.String())
	}
	if report.NeedsFetch {
		fmt.Println("  no installed version satisfies the target; a download is required")
		return
	}
	fmt.Printf("  would patch with: %s (%s)\n",
		report.Candidate.Version.Raw, report.Candidate.Architecture)
}

func runRestore(_ context.Context, args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	var (
		backupPath = fs.String("backup", "", "Backup file location (default <target>.bak)")
		configPath = fs.String("config", "", "Config file path")
		verbose    = fs.Bool("verbose", false, "Verbose output")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: epwn restore <binary> [options]

Restore a patched binary from its backup copy.

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
	orch := a.patchOrchestrator(a.cfg.Patch.Backup, a.cfg.Patch.SearchPath, false)
	if err := orch.Restore(target, *backupPath); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Restored %s\n", target)
}
