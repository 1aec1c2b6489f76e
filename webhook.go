package chatbird

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body.
const SignatureHeader = "X-ChatBird-Signature"

// ============================================================================
// Webhook Types
// ============================================================================

// WebhookPayload is a channel event delivered by HTTP POST. Which of the
// optional fields is set depends on Event, using the same event names as
// the realtime transports.
type WebhookPayload struct {
	Event       string        `json:"event"`
	ChannelID   string        `json:"channelId"`
	Timestamp   int64         `json:"timestamp,omitempty"`
	Message     *Message      `json:"message,omitempty"`
	MessageID   int64         `json:"messageId,omitempty"`
	ReadReceipt *ReadReceipt  `json:"readReceipt,omitempty"`
	Typing      *TypingStatus `json:"typing,omitempty"`
	Member      *Member       `json:"member,omitempty"`
}

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature checks an HMAC-SHA256 signature, with or without
// the "sha256=" prefix, in constant time.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// SignWebhookBody returns the signature header value for body.
func SignWebhookBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhookPayload parses and validates a raw webhook body.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if payload.ChannelID == "" {
		return nil, fmt.Errorf("missing channelId in webhook payload")
	}

	switch payload.Event {
	case EventMessageReceived, EventMessageUpdated:
		if payload.Message == nil || payload.Message.ID == 0 {
			return nil, fmt.Errorf("%s webhook without message", payload.Event)
		}
		if payload.Message.ChannelID == "" {
			payload.Message.ChannelID = payload.ChannelID
		}
	case EventMessageDeleted:
		if payload.MessageID == 0 && payload.Message != nil {
			payload.MessageID = payload.Message.ID
		}
		if payload.MessageID == 0 {
			return nil, fmt.Errorf("%s webhook without messageId", payload.Event)
		}
	case EventReadReceipt:
		if payload.ReadReceipt == nil || payload.ReadReceipt.UserID == "" {
			return nil, fmt.Errorf("%s webhook without readReceipt", payload.Event)
		}
		payload.ReadReceipt.ChannelID = payload.ChannelID
	case EventTypingStatus:
		if payload.Typing == nil || payload.Typing.UserID == "" {
			return nil, fmt.Errorf("%s webhook without typing", payload.Event)
		}
		payload.Typing.ChannelID = payload.ChannelID
	case EventMemberJoined, EventMemberLeft:
		if payload.Member == nil || payload.Member.UserID == "" {
			return nil, fmt.Errorf("%s webhook without member", payload.Event)
		}
	default:
		return nil, fmt.Errorf("unknown webhook event: %s", payload.Event)
	}

	return &payload, nil
}

// ============================================================================
// Webhook
// ============================================================================

// Webhook verifies channel-event webhooks and publishes them into a
// Registry, typically a Client's, so that attached ChannelViews see them
// exactly like realtime pushes.
type Webhook struct {
	secret   string
	registry *Registry
	log      zerolog.Logger
}

// NewWebhook creates a webhook handler publishing into registry.
func NewWebhook(secret string, registry *Registry, log zerolog.Logger) (*Webhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("webhook registry is required")
	}
	return &Webhook{
		secret:   secret,
		registry: registry,
		log:      log,
	}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Parse parses a raw body into a typed WebhookPayload.
func (w *Webhook) Parse(body string) (*WebhookPayload, error) {
	return ParseWebhookPayload(body)
}

// Publish hands a parsed payload to the registry's subscribers.
func (w *Webhook) Publish(p *WebhookPayload) {
	switch p.Event {
	case EventMessageReceived, EventMessageUpdated:
		w.registry.PublishMessage(MessageEvent{
			Type:      MessageEventType(p.Event),
			ChannelID: p.ChannelID,
			Message:   *p.Message,
		})
	case EventMessageDeleted:
		w.registry.PublishMessage(MessageEvent{
			Type:      MessageDeleted,
			ChannelID: p.ChannelID,
			MessageID: p.MessageID,
		})
	case EventReadReceipt:
		w.registry.PublishReadReceipt(*p.ReadReceipt)
	case EventTypingStatus:
		w.registry.PublishTyping(*p.Typing)
	case EventMemberJoined, EventMemberLeft:
		w.registry.PublishMember(MemberEvent{
			ChannelID: p.ChannelID,
			Member:    *p.Member,
			Joined:    p.Event == EventMemberJoined,
		})
	}
}

// Handle processes a webhook request (verify + parse + publish).
// Returns the status code and response body for the caller to write.
func (w *Webhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		w.log.Warn().Msg("Rejected webhook with invalid signature")
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := w.Parse(body)
	if err != nil {
		w.log.Warn().Err(err).Msg("Rejected malformed webhook")
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	w.log.Debug().Str("event", payload.Event).Str("channel", payload.ChannelID).Msg("Webhook received")
	w.Publish(payload)
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := chatbird.NewWebhook("secret", client.Registry, logger)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := w.Handle(string(bodyBytes), r.Header.Get(SignatureHeader))
		writeJSON(rw, statusCode, data)
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
