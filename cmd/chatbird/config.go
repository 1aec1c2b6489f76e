package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/LuminPulse-AI/chatbird"
)

var configShowRaw bool

func init() {
	configShowCmd.Flags().BoolVar(&configShowRaw, "raw", false, "Print the config file verbatim")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ChatBird configuration",
	Long:  "View or modify the ChatBird CLI configuration stored in ~/.chatbird/config.toml\n(or $CHATBIRD_HOME/config.toml when CHATBIRD_HOME is set).",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No configuration file at %s. Run 'chatbird init <token>' to create one.\n", path)
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		if configShowRaw {
			fmt.Print(string(data))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		printConfig(os.Stdout, cfg, path, os.Getenv("CHATBIRD_HOME") != "")
		return nil
	},
}

// printConfig writes the settings a command would run with, defaults
// filled in and the token masked.
func printConfig(w io.Writer, cfg *Config, path string, fromEnv bool) {
	source := "default location"
	if fromEnv {
		source = "from CHATBIRD_HOME"
	}
	fmt.Fprintf(w, "File:       %s (%s)\n", path, source)

	token := "(not set)"
	if cfg.Default.Token != "" {
		token = maskKey(cfg.Default.Token)
	}
	pageSize := cfg.Default.PageSize
	if pageSize <= 0 {
		pageSize = chatbird.DefaultPageSize
	}
	fmt.Fprintf(w, "Token:      %s\n", token)
	fmt.Fprintf(w, "Base URL:   %s\n", valueOrDefault(cfg.Default.BaseURL, defaultBaseURL()))
	fmt.Fprintf(w, "User:       %s\n", valueOrDefault(cfg.Default.UserID, "(not set)"))
	fmt.Fprintf(w, "Page size:  %d\n", pageSize)
	fmt.Fprintf(w, "Log level:  %s\n", valueOrDefault(cfg.Logging.Level, "warn"))
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: chatbird config set default.page_size 50",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
