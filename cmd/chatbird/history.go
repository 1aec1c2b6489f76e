package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LuminPulse-AI/chatbird"
)

var (
	historyPages int
	historyJSON  bool
)

func init() {
	historyCmd.Flags().IntVar(&historyPages, "pages", 1, "Number of pages to load, newest first")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <channel>",
	Short: "Print the most recent messages of a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		log := newLogger(cfg, os.Stderr)
		client := getClient(cfg, log)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		channel := lookupChannel(ctx, client, args[0], log)
		d, events := eventDelegate()
		view := chatbird.NewChannelView(channel, client, append(viewOptions(cfg, log), chatbird.WithDelegate(d))...)
		defer view.Close()

		view.LoadInitial()
		for page := 0; page < historyPages; page++ {
			if page > 0 {
				if !view.HasMoreOlder() {
					break
				}
				view.LoadOlder()
			}
			if err := waitForPage(ctx, view, events); err != nil {
				return err
			}
		}

		msgs := view.Messages()
		if historyJSON {
			out, err := json.MarshalIndent(msgs, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode messages: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}

		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		fmt.Printf("%s (%d members)\n\n", channel.Title(), channel.MemberCount)
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", formatTime(m.CreatedAt), m.Sender(), messageBody(m))
		}
		if view.HasMoreOlder() {
			fmt.Println("\n(more history available, use --pages)")
		}
		return nil
	},
}

// waitForPage blocks until the pending older-page load has finished.
func waitForPage(ctx context.Context, view *chatbird.ChannelView, events <-chan viewEvent) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out loading history: %w", ctx.Err())
		case ev := <-events:
			if ev.err != nil {
				return ev.err
			}
			switch ev.update {
			case chatbird.UpdateFirstLoad, chatbird.UpdatePagination:
				return nil
			case chatbird.UpdateNormal:
				// an empty page only removes the placeholder
				if !view.IsLoadingOlder() {
					return nil
				}
			}
		}
	}
}

func messageBody(m chatbird.Message) string {
	switch m.Kind {
	case chatbird.KindFile:
		if m.File == nil {
			return "[file]"
		}
		return fmt.Sprintf("[%s, %s, %d bytes]", m.File.Name, m.File.MimeType, m.File.Size)
	case chatbird.KindAdmin:
		return "** " + m.Text + " **"
	}
	return m.Text
}
