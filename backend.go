package chatbird

import "context"

// Outgoing is a message the client asks the backend to deliver. Resends
// reuse the RequestID of the original attempt.
type Outgoing struct {
	RequestID string      `json:"requestId"`
	Kind      ContentKind `json:"kind"`
	Text      string      `json:"text,omitempty"`
	File      *FileInfo   `json:"file,omitempty"`
	Data      []byte      `json:"data,omitempty"`
}

// Backend is the messaging service a ChannelView synchronizes against.
//
// MessagesBefore and MessagesAfter take a non-inclusive timestamp cursor and
// return at most limit messages in ascending timestamp order. Subscribe
// delivers push events for channelID until the returned token is passed to
// Unsubscribe. Callbacks may arrive on any goroutine.
type Backend interface {
	MessagesBefore(ctx context.Context, channelID string, ts int64, limit int) ([]Message, error)
	MessagesAfter(ctx context.Context, channelID string, ts int64, limit int) ([]Message, error)
	Send(ctx context.Context, channelID string, out Outgoing) (Message, error)
	MarkAsRead(ctx context.Context, channelID string) error
	Subscribe(channelID string, h Handlers) Token
	Unsubscribe(tok Token)
}
