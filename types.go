package chatbird

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the chat backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// apiResult is the generic backend response envelope.
type apiResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// decode unmarshals the Data field into v, turning a non-ok envelope into an *APIError.
func (r *apiResult) decode(v interface{}) error {
	if !r.OK {
		if r.Error != nil {
			return r.Error
		}
		return &APIError{Code: "UNKNOWN", Message: "request failed"}
	}
	if r.Data == nil || v == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Messages
// ============================================================================

// ContentKind tags the content carried by a Message.
type ContentKind int

const (
	KindText ContentKind = iota
	KindFile
	KindAdmin
)

func (k ContentKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	case KindAdmin:
		return "admin"
	}
	return fmt.Sprintf("ContentKind(%d)", int(k))
}

// ItemType is the renderer item type for this kind of content.
func (k ContentKind) ItemType() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "photo"
	case KindAdmin:
		return "admin"
	}
	return "unknown"
}

func (k ContentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ContentKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "text", "":
		*k = KindText
	case "file":
		*k = KindFile
	case "admin":
		*k = KindAdmin
	default:
		return fmt.Errorf("unknown content kind %q", string(b))
	}
	return nil
}

// DeliveryState is the send state of a message.
//
//	pending -> succeeded | failed
//	failed  -> pending (resend)
type DeliveryState int

const (
	StateSucceeded DeliveryState = iota
	StatePending
	StateFailed
)

func (s DeliveryState) String() string {
	switch s {
	case StateSucceeded:
		return "succeeded"
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("DeliveryState(%d)", int(s))
}

func (s DeliveryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *DeliveryState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "succeeded", "":
		*s = StateSucceeded
	case "pending":
		*s = StatePending
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown delivery state %q", string(b))
	}
	return nil
}

// FileInfo describes the payload of a file message.
type FileInfo struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
	URL      string `json:"url,omitempty"`
}

// Message is a chat message as seen by the client. ID is zero until the
// backend has confirmed the message; RequestID is assigned by the client
// that sent it.
type Message struct {
	ID         int64         `json:"id"`
	RequestID  string        `json:"requestId,omitempty"`
	ChannelID  string        `json:"channelId"`
	SenderID   string        `json:"senderId,omitempty"`
	CreatedAt  int64         `json:"createdAt"`
	UpdatedAt  int64         `json:"updatedAt,omitempty"`
	Kind       ContentKind   `json:"kind"`
	Text       string        `json:"text,omitempty"`
	File       *FileInfo     `json:"file,omitempty"`
	CustomType string        `json:"customType,omitempty"`
	State      DeliveryState `json:"state"`
}

const adminSenderID = "admin"

// Sender returns the id used to group the message by author.
func (m Message) Sender() string {
	if m.Kind == KindAdmin {
		return adminSenderID
	}
	if m.SenderID == "" {
		return "no-sender"
	}
	return m.SenderID
}

// IsIncoming reports whether the message was written by someone other than currentUserID.
func (m Message) IsIncoming(currentUserID string) bool {
	if m.Kind == KindAdmin {
		return true
	}
	return m.SenderID != "" && m.SenderID != currentUserID
}

// Date returns CreatedAt as a time.Time.
func (m Message) Date() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// Status maps the delivery state onto the renderer's sending status.
func (m Message) Status() string {
	if m.Kind == KindAdmin {
		return "success"
	}
	switch m.State {
	case StatePending:
		return "sending"
	case StateFailed:
		return "failed"
	}
	return "success"
}

func (m Message) UID() string {
	if m.ID == 0 && m.RequestID != "" {
		return "req-" + m.RequestID
	}
	return fmt.Sprintf("%d", m.ID)
}

func (m Message) ItemType() string { return m.Kind.ItemType() }

func (Message) chatItem() {}

// ============================================================================
// Chat Items
// ============================================================================

// ChatItem is one row of a ChannelView: either a Message or the
// LoadingPlaceholder. The set is closed.
type ChatItem interface {
	UID() string
	ItemType() string
	chatItem()
}

// LoadingPlaceholder marks the boundary currently being loaded.
type LoadingPlaceholder struct{}

const (
	loadingUID      = "loading"
	loadingItemType = "LoaderItem"
)

func (LoadingPlaceholder) UID() string      { return loadingUID }
func (LoadingPlaceholder) ItemType() string { return loadingItemType }
func (LoadingPlaceholder) chatItem()        {}

// UpdateType tells the renderer how the item list changed.
type UpdateType int

const (
	UpdateNormal UpdateType = iota
	UpdateFirstLoad
	UpdatePagination
	UpdateMessageCountReduction
)

func (u UpdateType) String() string {
	switch u {
	case UpdateNormal:
		return "normal"
	case UpdateFirstLoad:
		return "firstLoad"
	case UpdatePagination:
		return "pagination"
	case UpdateMessageCountReduction:
		return "messageCountReduction"
	}
	return fmt.Sprintf("UpdateType(%d)", int(u))
}

// ============================================================================
// Channels
// ============================================================================

type Member struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname,omitempty"`
}

type Channel struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	MemberCount int      `json:"memberCount"`
	Members     []Member `json:"members,omitempty"`
}

// Title returns the channel name, or the member nicknames when it has none.
func (c Channel) Title() string {
	if c.Name != "" {
		return c.Name
	}
	names := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Nickname != "" {
			names = append(names, m.Nickname)
		} else {
			names = append(names, m.UserID)
		}
	}
	if len(names) == 0 {
		return c.ID
	}
	return strings.Join(names, ", ")
}

// ============================================================================
// Events
// ============================================================================

// MessageEventType is the kind of change a MessageEvent carries.
type MessageEventType string

const (
	MessageReceived MessageEventType = "message.received"
	MessageUpdated  MessageEventType = "message.updated"
	MessageDeleted  MessageEventType = "message.deleted"
)

// MessageEvent is a push notification about one message in a channel.
// MessageID is set for deletions, Message otherwise.
type MessageEvent struct {
	Type      MessageEventType `json:"type"`
	ChannelID string           `json:"channelId"`
	Message   Message          `json:"message,omitempty"`
	MessageID int64            `json:"messageId,omitempty"`
}

// ReadReceipt reports that UserID has read ChannelID up to ReadAt.
type ReadReceipt struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	ReadAt    int64  `json:"readAt"`
}

type TypingStatus struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
}

type MemberEvent struct {
	ChannelID string `json:"channelId"`
	Member    Member `json:"member"`
	Joined    bool   `json:"joined"`
}
