// Package main provides the epwn CLI for managing glibc versions and
// patching ELF binaries against them.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/GeekCmore/epwn/internal/domain-adapters/gateways"
	orchestrators "github.com/GeekCmore/epwn/internal/domain-orchestrators"
	"github.com/GeekCmore/epwn/internal/domain/entities"
	"github.com/GeekCmore/epwn/internal/domain/interfaces"
	"github.com/GeekCmore/epwn/internal/domain/services"
	"github.com/GeekCmore/epwn/internal/external-adapters/yaml"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	command := os.Args[1]

	// Dispatch to subcommand
	switch command {
	case "patch":
		runPatch(ctx, os.Args[2:])
	case "patch-choose":
		runPatchChoose(ctx, os.Args[2:])
	case "restore":
		runRestore(ctx, os.Args[2:])
	case "glibc":
		runGlibc(ctx, os.Args[2:])
	case "config":
		runConfig(ctx, os.Args[2:])
	case "clean":
		runClean(ctx, os.Args[2:])
	case "verify":
		runVerify(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`epwn - glibc version manager and ELF patcher

Usage:
  epwn <command> [options]

Commands:
  patch         Patch a binary to run against a managed glibc version
  patch-choose  Patch a binary against an interactively chosen version
  restore       Restore a patched binary from its backup
  glibc         List, search, install and remove glibc versions
  config        Inspect and modify the configuration
  clean         Remove old installed glibc versions
  verify        Verify a detached signature over a downloaded file

Use "epwn <command> --help" for more information about a command.`)
}

// detectArch maps the running platform to a Debian architecture name.
func detectArch() string {
	archMap := map[string]string{
		"amd64": "amd64",
		"arm64": "arm64",
		"386":   "i386",
		"arm":   "armhf",
	}
	if arch := archMap[runtime.GOARCH]; arch != "" {
		return arch
	}
	return runtime.GOARCH
}

// app holds the wired-up dependency graph shared by the subcommands.
type app struct {
	cfg       *yaml.Config
	log       interfaces.Logger
	store     *yaml.CatalogStore
	index     *gateways.LaunchpadGateway
	installer *orchestrators.InstallOrchestrator
}

// newApp loads the configuration and wires the gateways, repositories and
// orchestrators. An empty configPath falls back to the default location.
func newApp(configPath string, verbose bool) (*app, error) {
	if configPath == "" {
		var err error
		configPath, err = yaml.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := yaml.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log := &interfaces.StderrLogger{Verbose: verbose}
	store := yaml.NewCatalogStore(cfg.EffectiveCatalogPath())
	index := gateways.NewLaunchpadGateway(log)
	downloader := gateways.NewDownloader(cfg.Download.Concurrency, log)
	extractor := gateways.NewDebExtractor(log)
	materializer := gateways.NewGlibcMaterializer(index, downloader, extractor, cfg.DataDir, log)
	installer := orchestrators.NewInstallOrchestrator(store, materializer, materializer, log)

	return &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		index:     index,
		installer: installer,
	}, nil
}

// patchOrchestrator builds the patch workflow on top of the app graph.
func (a *app) patchOrchestrator(backup bool, searchPath string, autoInstall bool) *orchestrators.PatchOrchestrator {
	return orchestrators.NewPatchOrchestrator(
		a.store,
		services.NewResolver(),
		services.NewCompatibilityChecker(gateways.NewLibraryInspector()),
		gateways.NewRequirementExtractor(),
		gateways.NewElfPatcher(a.log),
		a.installer,
		a.index,
		orchestrators.PatchOrchestratorConfig{
			Backup:      backup,
			SearchPath:  entities.SearchPathMode(searchPath),
			Kinds:       a.cfg.PackageKinds(),
			AutoInstall: autoInstall,
		},
		a.log,
	)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
