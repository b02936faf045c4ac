package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MaxConcurrency caps MIRROR_CONCURRENCY.
const MaxConcurrency = 64

// Config holds all environment-based configuration for page-mirror.
type Config struct {
	// Local directory the page tree is mirrored into. Required.
	MirrorDir string `env:"MIRROR_DIR"`

	// Directory remote holding pages.yaml, bodies/ and attachments/.
	// Required by every command that talks to the remote.
	RemoteDir string `env:"MIRROR_REMOTE_DIR"`

	// bbolt state file. Defaults to <MIRROR_DIR>/.page-mirror/state.db.
	StatePath string `env:"MIRROR_STATE_PATH"`

	// Space key recorded with every page.
	SpaceKey string `env:"MIRROR_SPACE_KEY"`

	// When set, only this page's subtree is mirrored and its children are
	// placed at the mirror root.
	RootPageID string `env:"MIRROR_ROOT_PAGE_ID"`

	// Pages reconciled in parallel during a sync.
	Concurrency int `env:"MIRROR_CONCURRENCY" envDefault:"4"`

	// Quiet period after a local change before watch mode syncs.
	WatchDebounce time.Duration `env:"MIRROR_WATCH_DEBOUNCE" envDefault:"500ms"`

	// Address the mcp command serves streamable HTTP on. Empty means
	// stdio.
	MCPListen string `env:"MIRROR_MCP_LISTEN"`

	// Bearer token required on the HTTP MCP endpoint.
	MCPToken string `env:"MIRROR_MCP_TOKEN"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing configuration to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Parse reads configuration from environment variables without
// validating it. It first attempts to load a .env file if present.
// Command line flags are applied to the result before Resolve.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Load is Parse followed by Resolve.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Resolve validates the configuration, fills in derived defaults and
// makes every path absolute. Tree path checks compare string prefixes,
// which only works reliably with absolute paths.
func (c *Config) Resolve() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	absDir, err := filepath.Abs(c.MirrorDir)
	if err != nil {
		return fmt.Errorf("resolving mirror dir to absolute path: %w", err)
	}

	c.MirrorDir = absDir

	if c.StatePath == "" {
		c.StatePath = DefaultStatePath(c.MirrorDir)
	}

	if c.StatePath, err = filepath.Abs(c.StatePath); err != nil {
		return fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	if c.RemoteDir != "" {
		if c.RemoteDir, err = filepath.Abs(c.RemoteDir); err != nil {
			return fmt.Errorf("resolving remote dir to absolute path: %w", err)
		}
	}

	return nil
}

func (c *Config) validate() error {
	if c.MirrorDir == "" {
		return fmt.Errorf("MIRROR_DIR is required")
	}

	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("MIRROR_CONCURRENCY must be between 1 and %d, got %d", MaxConcurrency, c.Concurrency)
	}

	if c.WatchDebounce <= 0 {
		return fmt.Errorf("MIRROR_WATCH_DEBOUNCE must be positive, got %s", c.WatchDebounce)
	}

	if c.MCPListen != "" && c.MCPToken == "" {
		return fmt.Errorf("MIRROR_MCP_TOKEN is required when MIRROR_MCP_LISTEN is set")
	}

	return nil
}

// RequireRemote reports an error when no remote directory is configured.
func (c *Config) RequireRemote() error {
	if c.RemoteDir == "" {
		return fmt.Errorf("MIRROR_REMOTE_DIR is required for this command")
	}

	return nil
}

// DefaultStatePath returns the default state file for a mirror
// directory: <mirrorDir>/.page-mirror/state.db
func DefaultStatePath(mirrorDir string) string {
	return filepath.Join(mirrorDir, ".page-mirror", "state.db")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
