package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LuminPulse-AI/chatbird"
)

var (
	sendFile string
	sendMime string
)

func init() {
	sendCmd.Flags().StringVar(&sendFile, "file", "", "Send the file at this path instead of text")
	sendCmd.Flags().StringVar(&sendMime, "mime", "", "MIME type of --file (detected from the name if empty)")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <channel> [text...]",
	Short: "Send a message to a channel",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		if text == "" && sendFile == "" {
			return fmt.Errorf("nothing to send: pass text or --file")
		}

		cfg := mustLoadConfig()
		log := newLogger(cfg, os.Stderr)
		client := getClient(cfg, log)

		d, events := eventDelegate()
		view := chatbird.NewChannelView(chatbird.Channel{ID: args[0]}, client,
			append(viewOptions(cfg, log), chatbird.WithDelegate(d))...)
		defer view.Close()

		var reqID string
		if sendFile != "" {
			data, err := os.ReadFile(sendFile)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			reqID = view.SendFile(data, chatbird.FileInfo{
				Name:     filepath.Base(sendFile),
				MimeType: sendMime,
			})
		} else {
			reqID = view.SendText(text)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		m, err := waitForDelivery(ctx, view, events, reqID)
		if err != nil {
			return err
		}
		fmt.Printf("Sent message %d at %s\n", m.ID, formatTime(m.CreatedAt))
		return nil
	},
}

// waitForDelivery blocks until the message sent with reqID is confirmed or
// rejected.
func waitForDelivery(ctx context.Context, view *chatbird.ChannelView, events <-chan viewEvent, reqID string) (chatbird.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return chatbird.Message{}, fmt.Errorf("timed out waiting for delivery: %w", ctx.Err())
		case ev := <-events:
			if ev.err != nil {
				return chatbird.Message{}, ev.err
			}
			if m, ok := view.Message(reqID); ok && m.State == chatbird.StateSucceeded {
				return m, nil
			}
		}
	}
}
