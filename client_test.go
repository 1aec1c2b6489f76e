package chatbird

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ============================================================================
// Test server
// ============================================================================

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   []byte
}

type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(w http.ResponseWriter, r *http.Request)
}

func newTestServer(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) *testServer {
	t.Helper()
	s := &testServer{respond: respond}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			method: r.Method,
			path:   r.URL.EscapedPath(),
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   body,
		})
		s.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		s.respond(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) last(t *testing.T) recordedRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("no request recorded")
	}
	return s.requests[len(s.requests)-1]
}

func okEnvelope(w http.ResponseWriter, data any) {
	raw, _ := json.Marshal(data)
	writeJSON(w, http.StatusOK, apiResult{OK: true, Data: raw})
}

// ============================================================================
// Client
// ============================================================================

func TestNewClient(t *testing.T) {
	c := NewClient("tok", WithBaseURL("http://example.test/"))
	if c.BaseURL() != "http://example.test" {
		t.Errorf("BaseURL = %q", c.BaseURL())
	}
	if c.Registry == nil {
		t.Fatal("expected a registry")
	}
	if NewClient("tok").BaseURL() != DefaultBaseURL {
		t.Errorf("default BaseURL = %q", NewClient("tok").BaseURL())
	}
}

func TestClientMessages(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		okEnvelope(w, page(1, 100, 100, 2))
	})
	c := NewClient("secret-token", WithBaseURL(srv.URL))

	t.Run("before", func(t *testing.T) {
		msgs, err := c.MessagesBefore(context.Background(), "team/general", 5000, 20)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(msgs) != 2 || msgs[1].ID != 2 {
			t.Fatalf("unexpected messages: %+v", msgs)
		}

		req := srv.last(t)
		if req.method != http.MethodGet {
			t.Errorf("method = %s", req.method)
		}
		if req.path != "/api/channels/team%2Fgeneral/messages" {
			t.Errorf("path = %s", req.path)
		}
		if req.query != "before=5000&limit=20" {
			t.Errorf("query = %s", req.query)
		}
		if req.auth != "Bearer secret-token" {
			t.Errorf("auth = %q", req.auth)
		}
	})

	t.Run("after", func(t *testing.T) {
		if _, err := c.MessagesAfter(context.Background(), "c1", 2000, 10); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req := srv.last(t); req.query != "after=2000&limit=10" {
			t.Errorf("query = %s", req.query)
		}
	})
}

func TestClientErrors(t *testing.T) {
	t.Run("error envelope", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, apiResult{Error: &APIError{Code: "CHANNEL_NOT_FOUND", Message: "no such channel"}})
		})
		c := NewClient("tok", WithBaseURL(srv.URL))

		_, err := c.MessagesBefore(context.Background(), "missing", 1, 20)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != "CHANNEL_NOT_FOUND" {
			t.Fatalf("expected APIError, got %v", err)
		}
	})

	t.Run("non-JSON body", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		})
		c := NewClient("tok", WithBaseURL(srv.URL))

		err := c.MarkAsRead(context.Background(), "c1")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != "HTTP_502" || apiErr.Message != "bad gateway" {
			t.Fatalf("expected HTTP_502 APIError, got %v", err)
		}
	})

	t.Run("not ok without error", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": false})
		})
		c := NewClient("tok", WithBaseURL(srv.URL))

		_, err := c.GetChannel(context.Background(), "c1")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != "UNKNOWN" {
			t.Fatalf("expected UNKNOWN APIError, got %v", err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { okEnvelope(w, nil) })
		c := NewClient("tok", WithBaseURL(srv.URL))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := c.MessagesBefore(ctx, "c1", 1, 20); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestClientSend(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var out Outgoing
		json.NewDecoder(r.Body).Decode(&out)
		okEnvelope(w, Message{ID: 7, ChannelID: "c1", CreatedAt: 9000, Kind: out.Kind, Text: out.Text, File: out.File})
	})
	c := NewClient("tok", WithBaseURL(srv.URL))

	t.Run("text", func(t *testing.T) {
		m, err := c.Send(context.Background(), "c1", Outgoing{RequestID: "r1", Kind: KindText, Text: "hi"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.ID != 7 || m.Text != "hi" {
			t.Fatalf("unexpected message: %+v", m)
		}
		if m.RequestID != "r1" {
			t.Errorf("RequestID = %q, want r1", m.RequestID)
		}

		req := srv.last(t)
		if req.method != http.MethodPost || req.path != "/api/channels/c1/messages" {
			t.Errorf("unexpected request %s %s", req.method, req.path)
		}
		var body map[string]any
		json.Unmarshal(req.body, &body)
		if body["requestId"] != "r1" || body["kind"] != "text" {
			t.Errorf("unexpected body: %s", req.body)
		}
	})

	t.Run("file mime is guessed", func(t *testing.T) {
		m, err := c.Send(context.Background(), "c1", Outgoing{
			RequestID: "r2",
			Kind:      KindFile,
			File:      &FileInfo{Name: "notes.md", Size: 3},
			Data:      []byte("abc"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.File == nil || m.File.MimeType != "text/markdown" {
			t.Fatalf("unexpected file: %+v", m.File)
		}
	})
}

func TestClientMarkAsReadAndChannel(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/read") {
			okEnvelope(w, nil)
			return
		}
		okEnvelope(w, Channel{ID: "c1", Name: "#general", MemberCount: 4})
	})
	c := NewClient("tok", WithBaseURL(srv.URL))

	if err := c.MarkAsRead(context.Background(), "c1"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if req := srv.last(t); req.method != http.MethodPost || req.path != "/api/channels/c1/read" {
		t.Errorf("unexpected request %s %s", req.method, req.path)
	}

	ch, err := c.GetChannel(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if ch.MemberCount != 4 || ch.Title() != "#general" {
		t.Errorf("unexpected channel: %+v", ch)
	}
}

func TestRealtimeURLs(t *testing.T) {
	tests := []struct {
		base, token, ws, sse string
	}{
		{"https://api.chatbird.io", "a b", "wss://api.chatbird.io/ws?token=a+b", "https://api.chatbird.io/sse?token=a+b"},
		{"http://localhost:3000", "", "ws://localhost:3000/ws", "http://localhost:3000/sse"},
	}
	for _, tt := range tests {
		c := NewClient("x", WithBaseURL(tt.base))
		if got := c.WSURL(tt.token); got != tt.ws {
			t.Errorf("WSURL(%q) = %q, want %q", tt.token, got, tt.ws)
		}
		if got := c.SSEURL(tt.token); got != tt.sse {
			t.Errorf("SSEURL(%q) = %q, want %q", tt.token, got, tt.sse)
		}
	}
}

func TestGuessMimeType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"photo.png", "image/png"},
		{"PHOTO.JPG", "image/jpeg"},
		{"doc.pdf", "application/pdf"},
		{"README.md", "text/markdown"},
		{"config.yml", "text/yaml"},
		{"clip.webm", "video/webm"},
		{"noext", "application/octet-stream"},
		{"weird.zzzz", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := guessMimeType(tt.name); got != tt.want {
			t.Errorf("guessMimeType(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// A view on a real HTTP client loads pages and confirms sends end to end.
func TestClientBackedView(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			okEnvelope(w, page(1, 100, 100, 5))
		case strings.HasSuffix(r.URL.Path, "/read"):
			okEnvelope(w, nil)
		default:
			var out Outgoing
			json.NewDecoder(r.Body).Decode(&out)
			okEnvelope(w, Message{ID: 100, ChannelID: testChannel, SenderID: testUser, CreatedAt: 9000, Text: out.Text})
		}
	})
	c := NewClient("tok", WithBaseURL(srv.URL))
	v, rec := newTestView(t, c)

	v.LoadInitial()
	rec.expectUpdate(t, UpdateNormal)
	rec.expectUpdate(t, UpdateFirstLoad)
	syncView(t, v)
	if v.Len() != 5 || v.HasMoreOlder() {
		t.Fatalf("Len = %d HasMoreOlder = %v", v.Len(), v.HasMoreOlder())
	}

	reqID := v.SendText("over http")
	rec.expectUpdate(t, UpdateNormal) // provisional
	rec.expectUpdate(t, UpdateNormal) // confirmed
	syncView(t, v)
	if m, ok := v.Message(reqID); !ok || m.ID != 100 || m.State != StateSucceeded {
		t.Fatalf("unexpected message: %+v", m)
	}
}
