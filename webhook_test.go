package chatbird

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testSecret = "test-webhook-secret-key"

func makeTestPayload() map[string]any {
	return map[string]any{
		"event":     "message.received",
		"channelId": "c1",
		"timestamp": 1700000000000,
		"message": map[string]any{
			"id":        1001,
			"senderId":  "user-001",
			"createdAt": 1700000000000,
			"kind":      "text",
			"text":      "Hello from test",
		},
	}
}

func marshalPayload(data map[string]any) string {
	b, _ := json.Marshal(data)
	return string(b)
}

func makeTestPayloadString() string {
	return marshalPayload(makeTestPayload())
}

func newTestWebhook(t *testing.T) (*Webhook, *Registry) {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	wh, err := NewWebhook(testSecret, reg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	return wh, reg
}

// ============================================================================
// VerifyWebhookSignature
// ============================================================================

func TestVerifyWebhookSignature(t *testing.T) {
	t.Run("valid signature", func(t *testing.T) {
		body := makeTestPayloadString()
		sig := SignWebhookBody(body, testSecret)
		if !VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected valid signature")
		}
	})

	t.Run("valid without prefix", func(t *testing.T) {
		body := makeTestPayloadString()
		sig := strings.TrimPrefix(SignWebhookBody(body, testSecret), "sha256=")
		if !VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected valid signature without prefix")
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		body := makeTestPayloadString()
		sig := "sha256=" + strings.Repeat("0", 64)
		if VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected invalid signature")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		body := makeTestPayloadString()
		sig := SignWebhookBody(body, "wrong-secret")
		if VerifyWebhookSignature(body, sig, testSecret) {
			t.Fatal("expected invalid signature with wrong secret")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		body := makeTestPayloadString()
		sig := SignWebhookBody(body, testSecret)
		if VerifyWebhookSignature(body+"tampered", sig, testSecret) {
			t.Fatal("expected invalid for tampered body")
		}
	})

	t.Run("empty inputs", func(t *testing.T) {
		if VerifyWebhookSignature("", "sha256=abc", testSecret) {
			t.Fatal("expected false for empty body")
		}
		if VerifyWebhookSignature("body", "", testSecret) {
			t.Fatal("expected false for empty signature")
		}
		if VerifyWebhookSignature("body", "sha256=abc", "") {
			t.Fatal("expected false for empty secret")
		}
		if VerifyWebhookSignature("body", "sha256=", testSecret) {
			t.Fatal("expected false for sha256= prefix only")
		}
	})
}

// ============================================================================
// ParseWebhookPayload
// ============================================================================

func TestParseWebhookPayload(t *testing.T) {
	t.Run("message received", func(t *testing.T) {
		payload, err := ParseWebhookPayload(makeTestPayloadString())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payload.Event != EventMessageReceived {
			t.Fatalf("expected event message.received, got %s", payload.Event)
		}
		if payload.Message.ID != 1001 || payload.Message.Text != "Hello from test" {
			t.Fatalf("unexpected message: %+v", payload.Message)
		}
		if payload.Message.ChannelID != "c1" {
			t.Fatalf("expected message channel filled from envelope, got %q", payload.Message.ChannelID)
		}
	})

	t.Run("deleted falls back to message id", func(t *testing.T) {
		data := makeTestPayload()
		data["event"] = "message.deleted"
		payload, err := ParseWebhookPayload(marshalPayload(data))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payload.MessageID != 1001 {
			t.Fatalf("expected messageId 1001, got %d", payload.MessageID)
		}
	})

	t.Run("read receipt", func(t *testing.T) {
		body := `{"event":"read.receipt","channelId":"c1","readReceipt":{"userId":"u2","readAt":42}}`
		payload, err := ParseWebhookPayload(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payload.ReadReceipt.ChannelID != "c1" || payload.ReadReceipt.ReadAt != 42 {
			t.Fatalf("unexpected receipt: %+v", payload.ReadReceipt)
		}
	})

	errCases := []struct {
		name string
		body string
		want string
	}{
		{"invalid JSON", "not json", "invalid JSON"},
		{"missing event", `{"channelId":"c1"}`, "missing event"},
		{"missing channel", `{"event":"message.received"}`, "missing channelId"},
		{"message without id", `{"event":"message.updated","channelId":"c1","message":{"text":"x"}}`, "without message"},
		{"delete without id", `{"event":"message.deleted","channelId":"c1"}`, "without messageId"},
		{"typing without user", `{"event":"typing.status","channelId":"c1","typing":{"isTyping":true}}`, "without typing"},
		{"member without user", `{"event":"member.joined","channelId":"c1","member":{}}`, "without member"},
		{"unknown event", `{"event":"channel.frozen","channelId":"c1"}`, "unknown webhook event"},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseWebhookPayload(tc.body)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got: %v", tc.want, err)
			}
		})
	}
}

// ============================================================================
// NewWebhook
// ============================================================================

func TestNewWebhook(t *testing.T) {
	t.Run("empty secret", func(t *testing.T) {
		if _, err := NewWebhook("", NewRegistry(zerolog.Nop()), zerolog.Nop()); err == nil {
			t.Fatal("expected error for empty secret")
		}
	})

	t.Run("nil registry", func(t *testing.T) {
		if _, err := NewWebhook(testSecret, nil, zerolog.Nop()); err == nil {
			t.Fatal("expected error for nil registry")
		}
	})

	t.Run("valid creation", func(t *testing.T) {
		wh, _ := newTestWebhook(t)
		if wh == nil {
			t.Fatal("expected non-nil webhook")
		}
	})
}

// ============================================================================
// Webhook.Handle
// ============================================================================

func TestWebhookHandle(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		wh, _ := newTestWebhook(t)
		status, data := wh.Handle(makeTestPayloadString(), "sha256=bad")
		if status != 401 {
			t.Fatalf("expected 401, got %d", status)
		}
		m := data.(map[string]string)
		if m["error"] != "Invalid signature" {
			t.Fatalf("unexpected error: %s", m["error"])
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		wh, _ := newTestWebhook(t)
		body := `{"event": "unknown"}`
		status, _ := wh.Handle(body, SignWebhookBody(body, testSecret))
		if status != 400 {
			t.Fatalf("expected 400, got %d", status)
		}
	})

	t.Run("publishes to subscribers", func(t *testing.T) {
		wh, reg := newTestWebhook(t)
		var got []MessageEvent
		reg.Subscribe("c1", Handlers{OnMessage: func(ev MessageEvent) { got = append(got, ev) }})

		body := makeTestPayloadString()
		status, data := wh.Handle(body, SignWebhookBody(body, testSecret))
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if !data.(map[string]bool)["ok"] {
			t.Fatal("expected ok:true")
		}
		if len(got) != 1 || got[0].Type != MessageReceived || got[0].Message.ID != 1001 {
			t.Fatalf("unexpected events: %+v", got)
		}
	})

	t.Run("member and typing events", func(t *testing.T) {
		wh, reg := newTestWebhook(t)
		var members []MemberEvent
		var typing []TypingStatus
		reg.Subscribe("c1", Handlers{
			OnMember: func(ev MemberEvent) { members = append(members, ev) },
			OnTyping: func(ts TypingStatus) { typing = append(typing, ts) },
		})

		for _, body := range []string{
			`{"event":"member.joined","channelId":"c1","member":{"userId":"u9"}}`,
			`{"event":"member.left","channelId":"c1","member":{"userId":"u9"}}`,
			`{"event":"typing.status","channelId":"c1","typing":{"userId":"u2","isTyping":true}}`,
		} {
			if status, _ := wh.Handle(body, SignWebhookBody(body, testSecret)); status != 200 {
				t.Fatalf("expected 200 for %s, got %d", body, status)
			}
		}
		if len(members) != 2 || !members[0].Joined || members[1].Joined {
			t.Fatalf("unexpected member events: %+v", members)
		}
		if len(typing) != 1 || typing[0].ChannelID != "c1" || !typing[0].IsTyping {
			t.Fatalf("unexpected typing events: %+v", typing)
		}
	})
}

// ============================================================================
// Webhook.HTTPHandler
// ============================================================================

func TestWebhookHTTPHandler(t *testing.T) {
	t.Run("GET returns 405", func(t *testing.T) {
		wh, _ := newTestWebhook(t)
		req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 405 {
			t.Fatalf("expected 405, got %d", w.Code)
		}
	})

	t.Run("invalid signature returns 401", func(t *testing.T) {
		wh, _ := newTestWebhook(t)
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(makeTestPayloadString()))
		req.Header.Set(SignatureHeader, "sha256=bad")
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 401 {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("valid returns 200", func(t *testing.T) {
		wh, _ := newTestWebhook(t)
		body := makeTestPayloadString()
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, SignWebhookBody(body, testSecret))
		w := httptest.NewRecorder()
		wh.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("expected 200, got %d", w.Code)
		}

		var result map[string]any
		json.NewDecoder(w.Body).Decode(&result)
		if result["ok"] != true {
			t.Fatal("expected ok:true")
		}
	})

	t.Run("attached view sees webhook events", func(t *testing.T) {
		client := NewClient("tok")
		wh, err := NewWebhook(testSecret, client.Registry, zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		b := newFakeBackend()
		b.Registry = client.Registry

		v, rec := newTestView(t, b)
		loadFirstPage(t, v, b, rec, page(1, 100, 100, 3))

		data := makeTestPayload()
		data["channelId"] = testChannel
		body := marshalPayload(data)
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, SignWebhookBody(body, testSecret))
		wh.HTTPHandler().ServeHTTP(httptest.NewRecorder(), req)

		rec.expectUpdate(t, UpdateNormal)
		syncView(t, v)
		if v.Len() != 4 {
			t.Fatalf("Len = %d, want 4", v.Len())
		}
	})
}
