package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLines   int     `json:"log_lines"`
	LogsDir    string  `json:"logs_dir"`
	RecentDir  string  `json:"recent_dir"`
	CaptureDir string  `json:"capture_dir"`
	FeedAddr   string  `json:"feed_addr"` // empty disables the websocket feed
	Network    Network `json:"network"`
}

var (
	defaultConfig *Config
	defaultErr    error
	once          sync.Once
)

func Default() *Config {
	return &Config{
		LogLines:   1000,
		LogsDir:    "logs",
		RecentDir:  "recent",
		CaptureDir: "captures",
		Network:    DefaultNetwork(),
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		// Try default locations
		defaultPaths := []string{
			"scpsim.json",
			".scpsim.json",
			filepath.Join(os.Getenv("HOME"), ".config", "scpsim", "config.json"),
		}

		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// Apply defaults for any zero values
	if cfg.LogLines <= 0 {
		cfg.LogLines = 1000
	}
	if cfg.LogsDir == "" {
		cfg.LogsDir = "logs"
	}
	if cfg.RecentDir == "" {
		cfg.RecentDir = "recent"
	}
	if cfg.CaptureDir == "" {
		cfg.CaptureDir = "captures"
	}

	if err := cfg.Network.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays SCPSIM_* variables, reading a .env file first when present.
func applyEnv(cfg *Config) error {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	if v := os.Getenv("SCPSIM_LOG_LINES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCPSIM_LOG_LINES: %w", err)
		}
		cfg.LogLines = n
	}
	if v := os.Getenv("SCPSIM_LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("SCPSIM_RECENT_DIR"); v != "" {
		cfg.RecentDir = v
	}
	if v := os.Getenv("SCPSIM_CAPTURE_DIR"); v != "" {
		cfg.CaptureDir = v
	}
	if v := os.Getenv("SCPSIM_FEED_ADDR"); v != "" {
		cfg.FeedAddr = v
	}
	return nil
}

// LoadDefault loads the config from the default locations once and caches
// the result, including a failure.
func LoadDefault() (*Config, error) {
	once.Do(func() {
		defaultConfig, defaultErr = Load("")
	})
	if defaultErr != nil {
		return Default(), defaultErr
	}
	return defaultConfig, nil
}
