// Package yaml provides YAML-backed configuration and catalog persistence.
package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	goyaml "gopkg.in/yaml.v3"

	"github.com/GeekCmore/epwn/internal/domain/entities"
	gatewayif "github.com/GeekCmore/epwn/internal/domain/interfaces/gateways"
)

// Config is the tool configuration, persisted as a YAML file under the user
// config directory.
type Config struct {
	// DataDir is the store root for downloaded and extracted glibc trees.
	DataDir string `yaml:"data_dir"`
	// CatalogPath is the catalog snapshot location. Defaults to
	// <data_dir>/catalog.yaml when empty.
	CatalogPath string `yaml:"catalog_path,omitempty"`

	Download DownloadConfig `yaml:"download"`
	Patch    PatchConfig    `yaml:"patch"`
}

// DownloadConfig tunes the package download pipeline.
type DownloadConfig struct {
	// Concurrency bounds parallel downloads.
	Concurrency int `yaml:"concurrency"`
	// Packages lists the package kinds fetched per install.
	Packages []string `yaml:"packages"`
}

// PatchConfig sets patch operation defaults.
type PatchConfig struct {
	// Backup writes <target>.bak before the first mutation.
	Backup bool `yaml:"backup"`
	// SearchPath is the DT_RUNPATH strategy: auto, always or never.
	SearchPath string `yaml:"search_path"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	dataDir := ".epwn"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "epwn")
	}
	return &Config{
		DataDir: dataDir,
		Download: DownloadConfig{
			Concurrency: 4,
			Packages:    []string{string(gatewayif.PackageLibc), string(gatewayif.PackageDebug)},
		},
		Patch: PatchConfig{
			Backup:     true,
			SearchPath: string(entities.SearchPathAuto),
		},
	}
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(dir, "epwn", "config.yaml"), nil
}

// LoadConfig reads the config file at path, layering it over the defaults. A
// missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the user's config file
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := goyaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := goyaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Download.Concurrency < 1 {
		return fmt.Errorf("download.concurrency must be at least 1")
	}
	for _, pkg := range c.Download.Packages {
		if !gatewayif.ValidPackageKind(pkg) {
			return fmt.Errorf("unknown package kind %q", pkg)
		}
	}
	switch entities.SearchPathMode(c.Patch.SearchPath) {
	case entities.SearchPathAuto, entities.SearchPathAlways, entities.SearchPathNever:
	default:
		return fmt.Errorf("patch.search_path must be auto, always or never")
	}
	return nil
}

// EffectiveCatalogPath resolves the catalog location.
func (c *Config) EffectiveCatalogPath() string {
	if c.CatalogPath != "" {
		return c.CatalogPath
	}
	return filepath.Join(c.DataDir, "catalog.yaml")
}

// PackageKinds converts the configured package names to typed kinds.
func (c *Config) PackageKinds() []gatewayif.PackageKind {
	kinds := make([]gatewayif.PackageKind, 0, len(c.Download.Packages))
	for _, pkg := range c.Download.Packages {
		kinds = append(kinds, gatewayif.PackageKind(pkg))
	}
	return kinds
}

// ConfigKeys lists the keys addressable through Get and Set, in display
// order.
func ConfigKeys() []string {
	return []string{
		"data_dir",
		"catalog_path",
		"download.concurrency",
		"download.packages",
		"patch.backup",
		"patch.search_path",
	}
}

// Get returns the string form of one configuration key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "data_dir":
		return c.DataDir, nil
	case "catalog_path":
		return c.EffectiveCatalogPath(), nil
	case "download.concurrency":
		return strconv.Itoa(c.Download.Concurrency), nil
	case "download.packages":
		return strings.Join(c.Download.Packages, ","), nil
	case "patch.backup":
		return strconv.FormatBool(c.Patch.Backup), nil
	case "patch.search_path":
		return c.Patch.SearchPath, nil
	}
	return "", fmt.Errorf("unknown config key %q", key)
}

// Set assigns one configuration key from its string form and validates the
// result.
func (c *Config) Set(key, value string) error {
	switch key {
	case "data_dir":
		c.DataDir = value
	case "catalog_path":
		c.CatalogPath = value
	case "download.concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("download.concurrency: %w", err)
		}
		c.Download.Concurrency = n
	case "download.packages":
		c.Download.Packages = strings.Split(value, ",")
	case "patch.backup":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("patch.backup: %w", err)
		}
		c.Patch.Backup = b
	case "patch.search_path":
		c.Patch.SearchPath = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return c.Validate()
}
