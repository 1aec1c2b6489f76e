package chatbird

import (
	"errors"
	"testing"
)

func TestSendText(t *testing.T) {
	t.Run("pending then confirmed", func(t *testing.T) {
		b := newFakeBackend()
		v, rec := newTestView(t, b)
		loadFirstPage(t, v, b, rec, page(1, 100, 100, 20))

		reqID := v.SendText("hello")
		if reqID == "" {
			t.Fatal("expected a request id")
		}
		rec.expectUpdate(t, UpdateNormal)
		call := b.expectSend(t)
		if call.out.RequestID != reqID || call.out.Text != "hello" || call.channelID != testChannel {
			t.Fatalf("unexpected send call: %+v", call)
		}

		syncView(t, v)
		m, ok := v.Message(reqID)
		if !ok || m.State != StatePending || m.ID != 0 {
			t.Fatalf("expected provisional pending message, got %+v (%v)", m, ok)
		}
		if m.SenderID != testUser || m.CreatedAt != 5000 {
			t.Errorf("provisional sender/time = %q/%d", m.SenderID, m.CreatedAt)
		}
		if v.Len() != 21 {
			t.Errorf("Len = %d, want 21", v.Len())
		}
		if ts, _ := v.NewestTimestamp(); ts != 2000 {
			t.Errorf("provisional item moved newest cursor to %d", ts)
		}

		sent := Message{ID: 99, ChannelID: testChannel, SenderID: testUser, CreatedAt: 5100, Kind: KindText, Text: "hello"}
		call.respond(sent, nil)
		rec.expectUpdate(t, UpdateNormal)
		syncView(t, v)

		m, ok = v.Message(reqID)
		if !ok || m.ID != 99 || m.State != StateSucceeded {
			t.Fatalf("expected confirmed message, got %+v (%v)", m, ok)
		}
		if v.Len() != 21 {
			t.Errorf("Len = %d, want 21", v.Len())
		}
		if ts, _ := v.NewestTimestamp(); ts != 5100 {
			t.Errorf("NewestTimestamp = %d, want 5100", ts)
		}
		rec.expectQuiet(t)
	})

	t.Run("echo before confirmation", func(t *testing.T) {
		b := newFakeBackend()
		v, rec := newTestView(t, b)
		loadFirstPage(t, v, b, rec, page(1, 100, 100, 3))

		reqID := v.SendText("hi")
		rec.expectUpdate(t, UpdateNormal)
		call := b.expectSend(t)

		echo := Message{ID: 50, RequestID: reqID, ChannelID: testChannel, SenderID: testUser, CreatedAt: 5100, Text: "hi"}
		b.PublishMessage(MessageEvent{Type: MessageReceived, ChannelID: testChannel, Message: echo})
		rec.expectUpdate(t, UpdateNormal)

		call.respond(echo, nil)
		rec.expectUpdate(t, UpdateNormal)
		syncView(t, v)

		if v.Len() != 4 {
			t.Errorf("echo duplicated the message: Len = %d", v.Len())
		}
		if m, _ := v.Message(reqID); m.ID != 50 || m.State != StateSucceeded {
			t.Errorf("unexpected message: %+v", m)
		}
	})

	t.Run("pushes while pending", func(t *testing.T) {
		b := newFakeBackend()
		v, rec := newTestView(t, b)
		loadFirstPage(t, v, b, rec, page(1, 100, 100, 3))

		reqID := v.SendText("mine")
		rec.expectUpdate(t, UpdateNormal)
		call := b.expectSend(t)

		b.PublishMessage(MessageEvent{Type: MessageReceived, ChannelID: testChannel, Message: msgAt(4, 6000)})
		rec.expectUpdate(t, UpdateNormal)
		b.PublishMessage(MessageEvent{Type: MessageDeleted, ChannelID: testChannel, MessageID: 1})
		rec.expectUpdate(t, UpdateMessageCountReduction)

		call.respond(Message{ID: 77, ChannelID: testChannel, SenderID: testUser, CreatedAt: 5100, Text: "mine"}, nil)
		rec.expectUpdate(t, UpdateNormal)
		syncView(t, v)

		if got := messageIDs(v); len(got) != 4 || got[2] != 77 || got[3] != 4 {
			t.Errorf("ids = %v, want [2 3 77 4]", got)
		}
		if m, ok := v.Message(reqID); !ok || m.ID != 77 {
			t.Errorf("confirmation replaced the wrong item: %+v", m)
		}
	})
}

func TestSendFailureAndResend(t *testing.T) {
	b := newFakeBackend()
	v, rec := newTestView(t, b)
	loadFirstPage(t, v, b, rec, page(1, 100, 100, 3))

	reqID := v.SendText("flaky")
	rec.expectUpdate(t, UpdateNormal)
	b.expectSend(t).respond(Message{}, errBoom)

	rec.expectUpdate(t, UpdateNormal)
	err := rec.expectError(t)
	var se *SendError
	if !errors.As(err, &se) || se.RequestID != reqID || !errors.Is(err, ErrSendFailed) || !errors.Is(err, errBoom) {
		t.Fatalf("expected SendError for %s, got %v", reqID, err)
	}
	syncView(t, v)
	if m, _ := v.Message(reqID); m.State != StateFailed {
		t.Fatalf("state = %s, want failed", m.State)
	}
	if v.Len() != 4 {
		t.Errorf("failed message should stay in the list, Len = %d", v.Len())
	}

	if err := v.Resend(reqID); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	rec.expectUpdate(t, UpdateNormal)
	call := b.expectSend(t)
	if call.out.RequestID != reqID || call.out.Text != "flaky" {
		t.Fatalf("resend did not reuse the request: %+v", call.out)
	}
	syncView(t, v)
	if m, _ := v.Message(reqID); m.State != StatePending {
		t.Errorf("state = %s, want pending", m.State)
	}
	if err := v.Resend(reqID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resend while pending = %v, want ErrInvalidState", err)
	}

	call.respond(Message{ID: 10, ChannelID: testChannel, SenderID: testUser, CreatedAt: 5200, Text: "flaky"}, nil)
	rec.expectUpdate(t, UpdateNormal)
	syncView(t, v)
	if m, _ := v.Message(reqID); m.ID != 10 || m.State != StateSucceeded {
		t.Errorf("unexpected message after resend: %+v", m)
	}
	if err := v.Resend(reqID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resend after success = %v, want ErrNotFound", err)
	}
}

func TestResendUnknown(t *testing.T) {
	b := newFakeBackend()
	v, _ := newTestView(t, b)
	if err := v.Resend("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resend = %v, want ErrNotFound", err)
	}
}

func TestSendFile(t *testing.T) {
	b := newFakeBackend()
	v, rec := newTestView(t, b)
	loadFirstPage(t, v, b, rec, nil)

	data := []byte("\x89PNG....")
	reqID := v.SendFile(data, FileInfo{Name: "Cat.PNG"})
	rec.expectUpdate(t, UpdateNormal)
	call := b.expectSend(t)

	if call.out.Kind != KindFile || call.out.File == nil {
		t.Fatalf("expected file send, got %+v", call.out)
	}
	if call.out.File.MimeType != "image/png" {
		t.Errorf("MimeType = %q, want image/png", call.out.File.MimeType)
	}
	if call.out.File.Size != len(data) {
		t.Errorf("Size = %d, want %d", call.out.File.Size, len(data))
	}
	if string(call.out.Data) != string(data) {
		t.Error("payload not forwarded")
	}

	syncView(t, v)
	m, ok := v.Message(reqID)
	if !ok || m.Kind != KindFile || m.ItemType() != "photo" || m.Status() != "sending" {
		t.Errorf("unexpected provisional file message: %+v", m)
	}

	unnamed := v.SendFile([]byte("x"), FileInfo{MimeType: "application/octet-stream"})
	rec.expectUpdate(t, UpdateNormal)
	if c := b.expectSend(t); c.out.File.Name == "" || c.out.RequestID != unnamed {
		t.Errorf("expected a generated name, got %+v", c.out.File)
	}
}
