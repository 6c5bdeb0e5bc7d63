package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Config holds the nodeflow CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	PoolSize    int    `json:"pool_size"`
	StepTimeout string `json:"step_timeout"`
}

func defaultConfig() Config {
	return Config{
		DBPath:    filepath.Join(nodeflowDir(), "nodeflow.db"),
		LogLevel:  "warn",
		LogFormat: "text",
		PoolSize:  10,
	}
}

func nodeflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeflow"
	}
	return filepath.Join(home, ".nodeflow")
}

func settingsPath() string {
	return filepath.Join(nodeflowDir(), "settings.json")
}

// loadConfig layers settings.json and NODEFLOW_* env vars over the defaults.
func loadConfig() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	}

	// Layer 3: env vars override.
	if v := os.Getenv("NODEFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("NODEFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NODEFLOW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("NODEFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("NODEFLOW_STEP_TIMEOUT"); v != "" {
		cfg.StepTimeout = v
	}
	return cfg, nil
}

// applyFlags overrides cfg with the persistent flags the user set.
func (c *Config) applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db-path") {
		c.DBPath, _ = flags.GetString("db-path")
	}
	if flags.Changed("log-level") {
		c.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		c.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("pool-size") {
		c.PoolSize, _ = flags.GetInt("pool-size")
	}
	if flags.Changed("step-timeout") {
		c.StepTimeout, _ = flags.GetString("step-timeout")
	}
}

// stepTimeout parses StepTimeout; empty means no bound.
func (c Config) stepTimeout() (time.Duration, error) {
	if c.StepTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StepTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid step_timeout %q: %w", c.StepTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid step_timeout %q: negative", c.StepTimeout)
	}
	return d, nil
}
