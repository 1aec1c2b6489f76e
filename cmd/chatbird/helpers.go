package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/LuminPulse-AI/chatbird"
)

func defaultBaseURL() string { return chatbird.DefaultBaseURL }

// parseLevel maps a config level name to a zerolog level. Empty means warn.
func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// newLogger builds a human-readable logger writing to w.
func newLogger(cfg *Config, w io.Writer) zerolog.Logger {
	lvl, err := parseLevel(cfg.Logging.Level)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

// mustLoadConfig loads the config or exits.
func mustLoadConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// getClient creates a client authenticated with the configured token.
func getClient(cfg *Config, log zerolog.Logger) *chatbird.Client {
	if cfg.Default.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'chatbird init <token>' first.")
		os.Exit(1)
	}

	opts := []chatbird.ClientOption{chatbird.WithClientLogger(log)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatbird.WithBaseURL(cfg.Default.BaseURL))
	}
	return chatbird.NewClient(cfg.Default.Token, opts...)
}

// channelGetter is implemented by both Client and MemoryBackend.
type channelGetter interface {
	GetChannel(ctx context.Context, channelID string) (chatbird.Channel, error)
}

// lookupChannel fetches channel metadata, falling back to a bare channel
// so that history still loads when the metadata endpoint is unavailable.
func lookupChannel(ctx context.Context, g channelGetter, channelID string, log zerolog.Logger) chatbird.Channel {
	ch, err := g.GetChannel(ctx, channelID)
	if err != nil {
		log.Warn().Err(err).Str("channel", channelID).Msg("Could not fetch channel metadata")
		return chatbird.Channel{ID: channelID}
	}
	return ch
}

func viewOptions(cfg *Config, log zerolog.Logger) []chatbird.ViewOption {
	opts := []chatbird.ViewOption{
		chatbird.WithLogger(log),
		chatbird.WithCurrentUser(cfg.Default.UserID),
	}
	if cfg.Default.PageSize > 0 {
		opts = append(opts, chatbird.WithPageSize(cfg.Default.PageSize))
	}
	return opts
}

// viewEvent is a delegate callback captured by eventDelegate.
type viewEvent struct {
	update chatbird.UpdateType
	err    error
}

// eventDelegate forwards delegate callbacks into a channel for commands
// that drive a ChannelView synchronously.
func eventDelegate() (chatbird.Delegate, <-chan viewEvent) {
	ch := make(chan viewEvent, 64)
	return chatbird.DelegateFuncs{
		OnUpdate: func(_ *chatbird.ChannelView, u chatbird.UpdateType) {
			select {
			case ch <- viewEvent{update: u}:
			default:
			}
		},
		OnError: func(_ *chatbird.ChannelView, err error) {
			select {
			case ch <- viewEvent{err: err}:
			default:
			}
		},
	}, ch
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

// maskKey shows the first 4 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
