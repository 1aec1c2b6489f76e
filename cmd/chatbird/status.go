package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusChannel string

func init() {
	statusCmd.Flags().StringVar(&statusChannel, "channel", "", "Also fetch this channel to check connectivity")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and server reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:  %s\n", valueOrDefault(cfg.Default.BaseURL, defaultBaseURL()))
		if cfg.Default.Token != "" {
			fmt.Printf("  Token:     %s\n", maskKey(cfg.Default.Token))
		} else {
			fmt.Println("  Token:     (not set)")
		}
		fmt.Printf("  User ID:   %s\n", valueOrDefault(cfg.Default.UserID, "(not set)"))
		if cfg.Default.PageSize > 0 {
			fmt.Printf("  Page size: %d\n", cfg.Default.PageSize)
		} else {
			fmt.Println("  Page size: (default)")
		}
		fmt.Printf("  Log level: %s\n", valueOrDefault(cfg.Logging.Level, "warn"))

		if statusChannel == "" || cfg.Default.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		log := newLogger(cfg, os.Stderr)
		client := getClient(cfg, log)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ch, err := client.GetChannel(ctx, statusChannel)
		if err != nil {
			fmt.Printf("  Error fetching channel: %v\n", err)
			return nil
		}
		fmt.Printf("  Channel:   %s\n", ch.Title())
		fmt.Printf("  Members:   %d\n", ch.MemberCount)
		return nil
	},
}
