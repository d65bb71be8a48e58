package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
)

func runGlibc(ctx context.Context, args []string) {
	if len(args) < 1 {
		printGlibcUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "list":
		runGlibcList(ctx, args[1:])
	case "search":
		runGlibcSearch(ctx, args[1:])
	case "install":
		runGlibcInstall(ctx, args[1:])
	case "remove":
		runGlibcRemove(ctx, args[1:])
	case "help", "-h", "--help":
		printGlibcUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown glibc subcommand: %s\n\n", args[0])
		printGlibcUsage()
		os.Exit(1)
	}
}

func printGlibcUsage() {
	fmt.Println(`Usage: epwn glibc <subcommand> [options]

Subcommands:
  list     List installed glibc versions
  search   Search versions published in the package archive
  install  Download and install a glibc version
  remove   Uninstall a glibc version`)
}

func runGlibcList(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("glibc list", flag.ExitOnError)
	var (
		arch       = fs.String("arch", "", "Only list this architecture")
		configPath = fs.String("config", "", "Config file path")
		verbose    = fs.Bool("verbose", false, "Verbose output")
	)
	if err := fs.Parse(args); err != nil {
		fatal("parsing flags: %v", err)
	}

	a, err := newApp(*configPath, *verbose)
	if err != nil {
		fatal("%v", err)
	}
	entries, err := a.installer.List(ctx, *arch)
	if err != nil {
		fatal("%v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No glibc versions installed.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tARCH\tLIBC\tINSTALLED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Version.Raw, e.Architecture, e.LibcPath, e.InstalledAt.Format("2006-01-02"))
	}
	//nolint:errcheck // Flush to stdout
	w.Flush()
}

func runGlibcSearch(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("glibc search", flag.ExitOnError)
	var (
		arch       = fs.String("arch", detectArch(), "Architecture to search")
		configPath = fs.String("config", "", "Config file path")
		verbose    = fs.Bool("verbose", false, "Verbose output")
	)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: epwn glibc search [prefix] [options]

Search the package archive for published glibc versions, optionally
filtered by version prefix (e.g. "2.31").

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fatal("parsing flags: %v", err)
	}
	prefix := ""
	if fs.NArg() >= 1 {
		prefix = fs.Arg(0)
	}

	a, err := newApp(*configPath, *verbose)
	if err != nil {
		fatal("%v", err)
	}
	versions, err := a.index.Versions(ctx, *arch, prefix)
	if err != nil {
		fatal("%v", err)
	}
	if len(versions) == 0 {
		fmt.Printf("No published versions found for %s.\n", *arch)
		return
	}
	for _, v := range versions {
		fmt.Println(v)
	}
}

func runGlibcInstall(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("glibc install", flag.ExitOnError)
	var (
		arch       = fs.String("arch", detectArch(), "Architecture to install")
		configPath = fs.String("config", "", "Config file path")
		verbose    = fs.Bool("verbose", false, "Verbose output")
	)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: epwn glibc install <version> [options]

Download and install one glibc version from the package archive.

Examples:
  epwn glibc install 2.31-0ubuntu9.9
  epwn glibc install 2.27-3ubuntu1 --arch i386

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fatal("parsing flags: %v", err)
	}
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: version is required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	version := fs.Arg(0)

	a, err := newApp(*configPath, *verbose)
	if err != nil {
		fatal("%v", err)
	}
	entry, err := a.installer.Install(ctx, version, *arch, a.cfg.PackageKinds())
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Installed glibc %s (%s)\n", entry.Version.Raw, entry.Architecture)
	fmt.Printf("  libc:        %s\n", entry.LibcPath)
	fmt.Printf("  interpreter: %s\n", entry.InterpreterPath)
	if entry.DebugPath != "" {
		fmt.Printf("  debug:       %s\n", entry.DebugPath)
	}
}

func runGlibcRemove(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("glibc remove", flag.ExitOnError)
	var (
		arch       = fs.String("arch", detectArch(), "Architecture to remove")
		configPath = fs.String("config", "", "Config file path")
		verbose    = fs.Bool("verbose", false, "Verbose output")
	)
	if err := fs.Parse(args); err != nil {
		fatal("parsing flags: %v", err)
	}
	if fs.NArg() < 1 {
		fatal("version is required")
	}
	version := fs.Arg(0)

	a, err := newApp(*configPath, *verbose)
	if err != nil {
		fatal("%v", err)
	}
	if err := a.installer.Uninstall(ctx, version, *arch); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Removed glibc %s (%s)\n", version, *arch)
}
