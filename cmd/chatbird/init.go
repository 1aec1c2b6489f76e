package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initBaseURL string
	initUserID  string
)

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "Server URL (default "+defaultBaseURL()+")")
	initCmd.Flags().StringVar(&initUserID, "user", "", "Your user id, used to tell your messages apart")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store access token in ~/.chatbird/config.toml",
	Long:  "Initialize the ChatBird CLI by storing your access token in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.Token = args[0]
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}
		if initUserID != "" {
			cfg.Default.UserID = initUserID
		}
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "warn"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}
