package chatbird

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// MemoryBackend
// ============================================================================

// MemoryBackend is an in-process Backend. It stores channels and messages
// in memory, publishes every change through its Registry and lets callers
// act as other channel members (Post, Edit, Delete, SetReadReceipt). It is
// safe for concurrent use.
type MemoryBackend struct {
	*Registry

	userID  string
	now     func() time.Time
	latency time.Duration
	log     zerolog.Logger

	mu        sync.RWMutex
	channels  map[string]*Channel
	messages  map[string][]Message // ascending by CreatedAt
	readMarks map[string]map[string]int64
	nextID    int64
	failSend  []error
	failFetch []error
}

var _ Backend = (*MemoryBackend)(nil)

type MemoryOption func(*MemoryBackend)

// WithMemoryUser sets the user that Send and MarkAsRead act for.
func WithMemoryUser(userID string) MemoryOption {
	return func(b *MemoryBackend) { b.userID = userID }
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = now }
}

// WithMemoryLatency delays every fetch and send by d.
func WithMemoryLatency(d time.Duration) MemoryOption {
	return func(b *MemoryBackend) { b.latency = d }
}

func WithMemoryLogger(log zerolog.Logger) MemoryOption {
	return func(b *MemoryBackend) { b.log = log }
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		userID:    "me",
		now:       time.Now,
		log:       zerolog.Nop(),
		channels:  make(map[string]*Channel),
		messages:  make(map[string][]Message),
		readMarks: make(map[string]map[string]int64),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Registry = NewRegistry(b.log)
	return b
}

// ── Channels ─────────────────────────────────────────────

// AddChannel creates or replaces a channel.
func (b *MemoryBackend) AddChannel(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.MemberCount < len(ch.Members) {
		ch.MemberCount = len(ch.Members)
	}
	b.channels[ch.ID] = &ch
}

func (b *MemoryBackend) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[channelID]
	if !ok {
		return Channel{}, ErrNotFound
	}
	out := *ch
	out.Members = append([]Member(nil), ch.Members...)
	return out, nil
}

// Join adds m to the channel and publishes member.joined.
func (b *MemoryBackend) Join(channelID string, m Member) {
	b.mu.Lock()
	ch := b.channel(channelID)
	replaced := false
	for i := range ch.Members {
		if ch.Members[i].UserID == m.UserID {
			ch.Members[i] = m
			replaced = true
		}
	}
	if !replaced {
		ch.Members = append(ch.Members, m)
		ch.MemberCount++
	}
	b.mu.Unlock()

	b.PublishMember(MemberEvent{ChannelID: channelID, Member: m, Joined: true})
}

// Leave removes userID from the channel and publishes member.left.
func (b *MemoryBackend) Leave(channelID, userID string) error {
	b.mu.Lock()
	ch, ok := b.channels[channelID]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	idx := -1
	for i, m := range ch.Members {
		if m.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return ErrNotFound
	}
	left := ch.Members[idx]
	ch.Members = append(ch.Members[:idx], ch.Members[idx+1:]...)
	if ch.MemberCount > 0 {
		ch.MemberCount--
	}
	delete(b.readMarks[channelID], userID)
	b.mu.Unlock()

	b.PublishMember(MemberEvent{ChannelID: channelID, Member: left})
	return nil
}

// channel returns the channel, creating it on first use. Callers hold mu.
func (b *MemoryBackend) channel(channelID string) *Channel {
	ch, ok := b.channels[channelID]
	if !ok {
		ch = &Channel{ID: channelID}
		b.channels[channelID] = ch
	}
	return ch
}

// ── Failure injection ────────────────────────────────────

// FailNextSend makes the next Send return err.
func (b *MemoryBackend) FailNextSend(err error) {
	b.mu.Lock()
	b.failSend = append(b.failSend, err)
	b.mu.Unlock()
}

// FailNextFetch makes the next MessagesBefore or MessagesAfter return err.
func (b *MemoryBackend) FailNextFetch(err error) {
	b.mu.Lock()
	b.failFetch = append(b.failFetch, err)
	b.mu.Unlock()
}

func popErr(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

func (b *MemoryBackend) wait(ctx context.Context) error {
	if b.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Backend ──────────────────────────────────────────────

func (b *MemoryBackend) MessagesBefore(ctx context.Context, channelID string, ts int64, limit int) ([]Message, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := popErr(&b.failFetch); err != nil {
		return nil, err
	}

	msgs := b.messages[channelID]
	end := sort.Search(len(msgs), func(i int) bool { return msgs[i].CreatedAt >= ts })
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	return append([]Message(nil), msgs[start:end]...), nil
}

func (b *MemoryBackend) MessagesAfter(ctx context.Context, channelID string, ts int64, limit int) ([]Message, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := popErr(&b.failFetch); err != nil {
		return nil, err
	}

	msgs := b.messages[channelID]
	start := sort.Search(len(msgs), func(i int) bool { return msgs[i].CreatedAt > ts })
	end := len(msgs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return append([]Message(nil), msgs[start:end]...), nil
}

// Send stores out as a message from the backend's user and echoes it to
// subscribers, as a server would.
func (b *MemoryBackend) Send(ctx context.Context, channelID string, out Outgoing) (Message, error) {
	if err := b.wait(ctx); err != nil {
		return Message{}, err
	}
	b.mu.Lock()
	if err := popErr(&b.failSend); err != nil {
		b.mu.Unlock()
		b.log.Debug().Err(err).Str("request_id", out.RequestID).Msg("Injected send failure")
		return Message{}, err
	}
	m := b.store(Message{
		RequestID: out.RequestID,
		ChannelID: channelID,
		SenderID:  b.userID,
		Kind:      out.Kind,
		Text:      out.Text,
		File:      out.File,
	})
	b.mu.Unlock()

	b.PublishMessage(MessageEvent{Type: MessageReceived, ChannelID: channelID, Message: m})
	return m, nil
}

func (b *MemoryBackend) MarkAsRead(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.setReadMark(channelID, b.userID, b.now().UnixMilli())
	b.mu.Unlock()
	return nil
}

// ── Acting as other members ──────────────────────────────

// Seed appends history without publishing events. Messages without an id
// or timestamp get one.
func (b *MemoryBackend) Seed(channelID string, msgs ...Message) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		m.ChannelID = channelID
		out = append(out, b.store(m))
	}
	return out
}

// Post stores a text message from senderID and publishes message.received.
func (b *MemoryBackend) Post(channelID, senderID, text string) Message {
	b.mu.Lock()
	m := b.store(Message{ChannelID: channelID, SenderID: senderID, Kind: KindText, Text: text})
	b.mu.Unlock()

	b.PublishMessage(MessageEvent{Type: MessageReceived, ChannelID: channelID, Message: m})
	return m
}

// Edit replaces the text of a message and publishes message.updated.
func (b *MemoryBackend) Edit(channelID string, id int64, text string) (Message, error) {
	b.mu.Lock()
	msgs := b.messages[channelID]
	i := indexByID(msgs, id)
	if i < 0 {
		b.mu.Unlock()
		return Message{}, ErrNotFound
	}
	msgs[i].Text = text
	msgs[i].UpdatedAt = b.now().UnixMilli()
	m := msgs[i]
	b.mu.Unlock()

	b.PublishMessage(MessageEvent{Type: MessageUpdated, ChannelID: channelID, Message: m})
	return m, nil
}

// Delete removes a message and publishes message.deleted.
func (b *MemoryBackend) Delete(channelID string, id int64) error {
	b.mu.Lock()
	msgs := b.messages[channelID]
	i := indexByID(msgs, id)
	if i < 0 {
		b.mu.Unlock()
		return ErrNotFound
	}
	b.messages[channelID] = append(msgs[:i], msgs[i+1:]...)
	b.mu.Unlock()

	b.PublishMessage(MessageEvent{Type: MessageDeleted, ChannelID: channelID, MessageID: id})
	return nil
}

// SetReadReceipt records that userID read the channel at readAt and
// publishes read.receipt.
func (b *MemoryBackend) SetReadReceipt(channelID, userID string, readAt int64) {
	b.mu.Lock()
	b.setReadMark(channelID, userID, readAt)
	b.mu.Unlock()

	b.PublishReadReceipt(ReadReceipt{ChannelID: channelID, UserID: userID, ReadAt: readAt})
}

// SetTyping publishes typing.status for userID.
func (b *MemoryBackend) SetTyping(channelID, userID string, typing bool) {
	b.PublishTyping(TypingStatus{ChannelID: channelID, UserID: userID, IsTyping: typing})
}

// ── Inspection ───────────────────────────────────────────

// Messages returns the stored messages of a channel.
func (b *MemoryBackend) Messages(channelID string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Message(nil), b.messages[channelID]...)
}

// ReadMark returns when userID last read the channel.
func (b *MemoryBackend) ReadMark(channelID, userID string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ts, ok := b.readMarks[channelID][userID]
	return ts, ok
}

// ── Internal ─────────────────────────────────────────────

// store assigns an id and a timestamp strictly after the channel's last
// message where missing, and inserts m in order. Callers hold mu.
func (b *MemoryBackend) store(m Message) Message {
	b.channel(m.ChannelID)
	msgs := b.messages[m.ChannelID]

	if m.ID == 0 {
		b.nextID++
		m.ID = b.nextID
	} else if m.ID > b.nextID {
		b.nextID = m.ID
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = b.now().UnixMilli()
		if n := len(msgs); n > 0 && m.CreatedAt <= msgs[n-1].CreatedAt {
			m.CreatedAt = msgs[n-1].CreatedAt + 1
		}
	}
	m.State = StateSucceeded

	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].CreatedAt > m.CreatedAt })
	msgs = append(msgs, Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	b.messages[m.ChannelID] = msgs
	return m
}

func (b *MemoryBackend) setReadMark(channelID, userID string, ts int64) {
	marks, ok := b.readMarks[channelID]
	if !ok {
		marks = make(map[string]int64)
		b.readMarks[channelID] = marks
	}
	if ts > marks[userID] {
		marks[userID] = ts
	}
}

func indexByID(msgs []Message, id int64) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
