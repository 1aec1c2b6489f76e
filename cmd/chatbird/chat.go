package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/LuminPulse-AI/chatbird"
)

var chatDemo bool

func init() {
	chatCmd.Flags().BoolVar(&chatDemo, "demo", false, "Chat in a local simulated channel, no server needed")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [channel]",
	Short: "Open an interactive chat on a channel",
	Long: "Open a terminal chat UI on a channel. Scroll up to load history, Enter to send,\n" +
		"ctrl+r to retry the last failed message. Logs go to ~/.chatbird/chat.log.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !chatDemo && len(args) == 0 {
			return fmt.Errorf("channel is required unless --demo is set")
		}

		cfg := mustLoadConfig()
		dir, err := configDir()
		if err != nil {
			return err
		}
		logFile, err := os.OpenFile(filepath.Join(dir, "chat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		defer logFile.Close()
		log := newLogger(cfg, logFile)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var (
			backend    chatbird.Backend
			channel    chatbird.Channel
			userID     = cfg.Default.UserID
			beforeSend func(string)
		)

		if chatDemo {
			b, ch := newDemoBackend(log)
			peer := newDemoPeer(b, log)
			go peer.run(ctx)
			backend, channel, userID, beforeSend = b, ch, demoUserID, peer.beforeSend
		} else {
			client := getClient(cfg, log)
			channel = lookupChannel(ctx, client, args[0], log)
			stop := connectRealtime(ctx, client, channel.ID, log)
			defer stop()
			backend = client
		}

		d, events := eventDelegate()
		opts := append(viewOptions(cfg, log), chatbird.WithDelegate(d), chatbird.WithCurrentUser(userID))
		view := chatbird.NewChannelView(channel, backend, opts...)
		defer view.Close()

		model := newChatModel(view, events, userID, beforeSend)
		view.LoadInitial()

		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("chat error: %w", err)
		}
		return nil
	},
}

// connectRealtime opens a WebSocket for push events, falling back to SSE.
// The returned func disconnects whichever is open.
func connectRealtime(ctx context.Context, client *chatbird.Client, channelID string, log zerolog.Logger) func() {
	rtCfg := &chatbird.RealtimeConfig{AutoReconnect: true}

	ws := client.ConnectWS(rtCfg)
	err := ws.Connect(ctx)
	if err == nil {
		if err := ws.JoinChannel(ctx, channelID); err != nil {
			log.Warn().Err(err).Msg("Failed to join channel")
		}
		return func() { ws.Disconnect() }
	}
	log.Warn().Err(err).Msg("WebSocket unavailable, trying SSE")

	sse := client.ConnectSSE(rtCfg)
	if err := sse.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("Live updates unavailable")
		return func() {}
	}
	return func() { sse.Disconnect() }
}
