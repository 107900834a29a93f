package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the engine configuration
type Config struct {
	// Execution settings: how the SDPOR driver explores
	Execution struct {
		Parallelism     int    `toml:"parallelism"`       // sibling-subtree workers; 0 or 1 = sequential
		MaxPrefixDepth  int    `toml:"max_prefix_depth"`  // not read by the driver; exploration depth is unbounded
		ExploreMode     string `toml:"explore_mode"`      // first, all
		ExitOnError     bool   `toml:"exit_on_error"`     // not read by the driver; a Killed/Error state never halts exploration
		PointerBitwidth int    `toml:"pointer_bitwidth"`
	} `toml:"execution"`

	// Solver settings
	Solver struct {
		TimeoutMillis int `toml:"timeout_ms"` // 0 = no timeout
	} `toml:"solver"`

	// Statistics settings
	Statistics struct {
		OutputFile     string `toml:"output_file"`
		Format         string `toml:"format"` // text, json, csv
		CollectHotPath bool   `toml:"collect_hotpath"`
	} `toml:"statistics"`

	// Live progress server settings
	Live struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"live"`
}

// Timeout returns the solver timeout as a time.Duration, or 0 if unset.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Solver.TimeoutMillis) * time.Millisecond
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Execution defaults
	cfg.Execution.Parallelism = 1
	cfg.Execution.MaxPrefixDepth = 0
	cfg.Execution.ExploreMode = "first"
	cfg.Execution.ExitOnError = false
	cfg.Execution.PointerBitwidth = 64

	// Solver defaults
	cfg.Solver.TimeoutMillis = 5000

	// Statistics defaults
	cfg.Statistics.OutputFile = ""
	cfg.Statistics.Format = "text"
	cfg.Statistics.CollectHotPath = false

	// Live defaults
	cfg.Live.Enabled = false
	cfg.Live.Addr = "127.0.0.1:8787"

	return cfg
}

// GetConfigPath returns the platform-specific config file path
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: %APPDATA%\sbrace\config.toml
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "sbrace")

	case "darwin", "linux":
		// macOS/Linux: ~/.config/sbrace/config.toml
		homeDir, err := os.UserHomeDir()
		if err != nil {
			// Fallback to current directory
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "sbrace")

	default:
		// Unknown platform: use current directory
		return "config.toml"
	}

	// Ensure directory exists
	if err := os.MkdirAll(configDir, 0750); err != nil {
		// If we can't create the directory, fall back to current directory
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: %APPDATA%\sbrace\logs
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "sbrace", "logs")

	case "darwin", "linux":
		// macOS/Linux: ~/.local/share/sbrace/logs
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "sbrace", "logs")

	default:
		return "logs"
	}

	// Ensure directory exists
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}

	return logDir
}

// Load loads configuration from the default config file
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read and parse config file
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file
func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	// Encode to TOML
	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
