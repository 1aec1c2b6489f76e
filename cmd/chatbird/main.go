package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.chatbird/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Logging ConfigLogging `toml:"logging"`
}

// ConfigDefault holds connection and view settings.
type ConfigDefault struct {
	Token    string `toml:"token"`
	BaseURL  string `toml:"base_url"`
	UserID   string `toml:"user_id"`
	PageSize int    `toml:"page_size"`
}

// ConfigLogging holds the log level for the CLI's stderr logger.
type ConfigLogging struct {
	Level string `toml:"level"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.chatbird, creating it if needed.
// CHATBIRD_HOME overrides the location.
func configDir() (string, error) {
	dir := os.Getenv("CHATBIRD_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".chatbird")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.token").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.token)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "token":
			cfg.Default.Token = value
		case "base_url":
			cfg.Default.BaseURL = value
		case "user_id":
			cfg.Default.UserID = value
		case "page_size":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("page_size must be a positive integer, got %q", value)
			}
			cfg.Default.PageSize = n
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "logging":
		switch field {
		case "level":
			if _, err := parseLevel(value); err != nil {
				return err
			}
			cfg.Logging.Level = value
		default:
			return fmt.Errorf("unknown field %q in section [logging]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, logging)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "chatbird",
	Short: "ChatBird channel CLI",
	Long:  "Command-line interface for ChatBird channels.\nManage configuration, read history, send messages and chat interactively.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
