package chatbird

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Test Helpers
// ============================================================================

const (
	testChannel = "c1"
	testUser    = "me"
	waitTimeout = 2 * time.Second
	quietPeriod = 50 * time.Millisecond
)

func msgAt(id, ts int64) Message {
	return Message{
		ID:        id,
		ChannelID: testChannel,
		SenderID:  "u2",
		CreatedAt: ts,
		Kind:      KindText,
		Text:      fmt.Sprintf("m%d", id),
	}
}

// page returns n messages with ids firstID.. and timestamps firstTS, firstTS+step, ...
func page(firstID, firstTS, step int64, n int) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = msgAt(firstID+int64(i), firstTS+int64(i)*step)
	}
	return out
}

// ── fakeBackend ──────────────────────────────────────────

type fetchReply struct {
	msgs []Message
	err  error
}

type fetchCall struct {
	dir   Direction
	ts    int64
	limit int
	reply chan fetchReply
}

func (c fetchCall) respond(msgs []Message, err error) {
	c.reply <- fetchReply{msgs: msgs, err: err}
}

type sendReply struct {
	msg Message
	err error
}

type sendCall struct {
	channelID string
	out       Outgoing
	reply     chan sendReply
}

func (c sendCall) respond(m Message, err error) {
	c.reply <- sendReply{msg: m, err: err}
}

// fakeBackend hands every request to the test, which answers it when it
// chooses to.
type fakeBackend struct {
	*Registry
	fetches chan fetchCall
	sends   chan sendCall
	marks   chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		Registry: NewRegistry(zerolog.Nop()),
		fetches:  make(chan fetchCall, 16),
		sends:    make(chan sendCall, 16),
		marks:    make(chan string, 64),
	}
}

func (b *fakeBackend) fetch(ctx context.Context, dir Direction, ts int64, limit int) ([]Message, error) {
	call := fetchCall{dir: dir, ts: ts, limit: limit, reply: make(chan fetchReply, 1)}
	b.fetches <- call
	select {
	case r := <-call.reply:
		return r.msgs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *fakeBackend) MessagesBefore(ctx context.Context, channelID string, ts int64, limit int) ([]Message, error) {
	return b.fetch(ctx, Older, ts, limit)
}

func (b *fakeBackend) MessagesAfter(ctx context.Context, channelID string, ts int64, limit int) ([]Message, error) {
	return b.fetch(ctx, Newer, ts, limit)
}

func (b *fakeBackend) Send(ctx context.Context, channelID string, out Outgoing) (Message, error) {
	call := sendCall{channelID: channelID, out: out, reply: make(chan sendReply, 1)}
	b.sends <- call
	select {
	case r := <-call.reply:
		return r.msg, r.err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (b *fakeBackend) MarkAsRead(ctx context.Context, channelID string) error {
	select {
	case b.marks <- channelID:
	default:
	}
	return nil
}

func (b *fakeBackend) expectFetch(t *testing.T, dir Direction) fetchCall {
	t.Helper()
	select {
	case c := <-b.fetches:
		if c.dir != dir {
			t.Fatalf("expected %s fetch, got %s", dir, c.dir)
		}
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s fetch", dir)
	}
	return fetchCall{}
}

func (b *fakeBackend) expectNoFetch(t *testing.T) {
	t.Helper()
	select {
	case c := <-b.fetches:
		t.Fatalf("unexpected %s fetch (ts=%d)", c.dir, c.ts)
	case <-time.After(quietPeriod):
	}
}

func (b *fakeBackend) expectSend(t *testing.T) sendCall {
	t.Helper()
	select {
	case c := <-b.sends:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for send")
	}
	return sendCall{}
}

func (b *fakeBackend) expectMarkAsRead(t *testing.T) {
	t.Helper()
	select {
	case <-b.marks:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for MarkAsRead")
	}
}

// ── recorder ─────────────────────────────────────────────

// recorder is a Delegate that queues every callback for the test.
type recorder struct {
	updates chan UpdateType
	errs    chan error
}

func newRecorder() *recorder {
	return &recorder{
		updates: make(chan UpdateType, 128),
		errs:    make(chan error, 16),
	}
}

func (r *recorder) ChannelViewDidUpdate(_ *ChannelView, u UpdateType) { r.updates <- u }
func (r *recorder) ChannelViewDidFail(_ *ChannelView, err error)      { r.errs <- err }

// expectUpdate requires the next notification to be want.
func (r *recorder) expectUpdate(t *testing.T, want UpdateType) {
	t.Helper()
	select {
	case got := <-r.updates:
		if got != want {
			t.Fatalf("expected %s update, got %s", want, got)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s update", want)
	}
}

func (r *recorder) expectError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for error callback")
	}
	return nil
}

// expectQuiet requires that no notification is pending.
func (r *recorder) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case u := <-r.updates:
		t.Fatalf("unexpected %s update", u)
	case err := <-r.errs:
		t.Fatalf("unexpected error callback: %v", err)
	case <-time.After(quietPeriod):
	}
}

// ── view setup ───────────────────────────────────────────

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestView(t *testing.T, b Backend, opts ...ViewOption) (*ChannelView, *recorder) {
	t.Helper()
	rec := newRecorder()
	base := []ViewOption{
		WithDelegate(rec),
		WithCurrentUser(testUser),
		WithClock(fixedClock(5000)),
	}
	ch := Channel{
		ID:          testChannel,
		MemberCount: 3,
		Members:     []Member{{UserID: testUser}, {UserID: "u2"}, {UserID: "u3"}},
	}
	v := NewChannelView(ch, b, append(base, opts...)...)
	t.Cleanup(func() { v.Close() })
	return v, rec
}

func syncView(t *testing.T, v *ChannelView) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := v.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

// loadFirstPage runs LoadInitial against b and answers it with msgs.
func loadFirstPage(t *testing.T, v *ChannelView, b *fakeBackend, rec *recorder, msgs []Message) {
	t.Helper()
	v.LoadInitial()
	call := b.expectFetch(t, Older)
	rec.expectUpdate(t, UpdateNormal) // placeholder
	call.respond(msgs, nil)
	if len(msgs) > 0 {
		rec.expectUpdate(t, UpdateFirstLoad)
	} else {
		rec.expectUpdate(t, UpdateNormal)
	}
	b.expectMarkAsRead(t)
	syncView(t, v)
}
