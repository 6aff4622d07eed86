// Package config holds all proofmesh server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all proofmesh configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Server settings for the HTTP surface.
	Server ServerConfig `yaml:"server"`

	// Library is the on-disk content library.
	Library LibraryConfig `yaml:"library"`

	// Build settings for the builder.
	Build BuildConfig `yaml:"build"`

	// Graph store settings.
	Graph GraphConfig `yaml:"graph"`

	// Trust settings gating author-supplied links and display code.
	Trust TrustConfig `yaml:"trust"`

	// Logging controls the categorized file logger.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LibraryConfig locates repositories and build products on disk.
type LibraryConfig struct {
	// Root is the library root; a repo's path under it equals its libpath.
	Root string `yaml:"root"`
	// BuildRoot receives build artifacts, laid out by repopath and version.
	BuildRoot string `yaml:"build_root"`
	// ShadowRoot holds the shadow version control repositories.
	ShadowRoot string `yaml:"shadow_root"`
	// DataDir holds the graph database, caches, and logs.
	DataDir string `yaml:"data_dir"`
}

// BuildConfig tunes the builder.
type BuildConfig struct {
	// Workers bounds the reading-phase worker pool.
	Workers int `yaml:"workers"`
	// CacheDir persists parsed-module caches per repo per version.
	CacheDir string `yaml:"cache_dir"`
	// Timeout bounds a single build job.
	Timeout time.Duration `yaml:"timeout"`
	// SkipNames are directory entries never scanned during the reading phase.
	SkipNames []string `yaml:"skip_names"`
}

// GraphConfig configures the graph store.
type GraphConfig struct {
	// Path of the SQLite database file.
	Path string `yaml:"path"`
	// ArtifactsInGraph stores build products in the graph store instead of
	// the filesystem build root.
	ArtifactsInGraph bool `yaml:"artifacts_in_graph"`
	// CacheSize bounds the per-kind artifact read caches.
	CacheSize int `yaml:"cache_size"`
}

// TrustConfig gates rendering of author-supplied content.
type TrustConfig struct {
	// Libpaths lists trusted libpath prefixes. Links, images, and display
	// code under these prefixes render without per-widget approval.
	Libpaths []string `yaml:"libpaths"`
}

// LoggingConfig mirrors logging.Settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "proofmesh",
		Version: "0.1.0",

		Server: ServerConfig{
			Addr:         ":7372",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},

		Library: LibraryConfig{
			Root:       "lib",
			BuildRoot:  "build",
			ShadowRoot: "shadow",
			DataDir:    "data",
		},

		Build: BuildConfig{
			Workers:   4,
			CacheDir:  "data/cache",
			Timeout:   10 * time.Minute,
			SkipNames: []string{"node_modules"},
		},

		Graph: GraphConfig{
			Path:             "data/proofmesh.db",
			ArtifactsInGraph: false,
			CacheSize:        512,
		},

		Trust: TrustConfig{},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file, layering it over the defaults, then applies
// environment overrides. A missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployments adjust key paths without editing the
// config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PROOFMESH_LIB_ROOT"); v != "" {
		c.Library.Root = v
	}
	if v := os.Getenv("PROOFMESH_BUILD_ROOT"); v != "" {
		c.Library.BuildRoot = v
	}
	if v := os.Getenv("PROOFMESH_DATA_DIR"); v != "" {
		c.Library.DataDir = v
		c.Graph.Path = filepath.Join(v, "proofmesh.db")
		c.Build.CacheDir = filepath.Join(v, "cache")
	}
	if v := os.Getenv("PROOFMESH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PROOFMESH_TRUSTED_LIBPATHS"); v != "" {
		c.Trust.Libpaths = strings.Split(v, ",")
	}
}

// Validate checks settings that would otherwise fail far from their cause.
func (c *Config) Validate() error {
	if c.Build.Workers < 1 {
		return fmt.Errorf("build.workers must be >= 1, got %d", c.Build.Workers)
	}
	if c.Graph.CacheSize < 1 {
		return fmt.Errorf("graph.cache_size must be >= 1, got %d", c.Graph.CacheSize)
	}
	if c.Library.Root == "" {
		return fmt.Errorf("library.root is required")
	}
	return nil
}

// IsTrusted reports whether a libpath falls at or under a trusted prefix.
func (c *Config) IsTrusted(libpath string) bool {
	for _, prefix := range c.Trust.Libpaths {
		if libpath == prefix || strings.HasPrefix(libpath, prefix+".") {
			return true
		}
	}
	return false
}
