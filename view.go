// Package chatbird keeps an ordered, paginated and live-updated view of a
// chat channel for a rendering layer.
//
// A ChannelView loads pages of history from a Backend, merges the backend's
// push events into the list and tracks messages sent from this client until
// the backend confirms them. The renderer reads Items and is told about
// every change through its Delegate.
//
// Usage:
//
//	view := chatbird.NewChannelView(channel, client,
//		chatbird.WithDelegate(renderer),
//		chatbird.WithLogger(logger),
//	)
//	defer view.Close()
//
//	view.LoadInitial()
//	view.SendText("hello")
package chatbird

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPageSize is the number of messages requested per page.
const DefaultPageSize = 20

// Delegate receives change notifications from a ChannelView. Calls are made
// on the view's executor, one at a time, after the change has been applied.
// The view does not keep the delegate alive beyond its own lifetime and
// drops it on Close.
type Delegate interface {
	ChannelViewDidUpdate(v *ChannelView, update UpdateType)
	ChannelViewDidFail(v *ChannelView, err error)
}

// DelegateFuncs adapts plain functions to Delegate. Nil fields are skipped.
type DelegateFuncs struct {
	OnUpdate func(v *ChannelView, update UpdateType)
	OnError  func(v *ChannelView, err error)
}

func (d DelegateFuncs) ChannelViewDidUpdate(v *ChannelView, update UpdateType) {
	if d.OnUpdate != nil {
		d.OnUpdate(v, update)
	}
}

func (d DelegateFuncs) ChannelViewDidFail(v *ChannelView, err error) {
	if d.OnError != nil {
		d.OnError(v, err)
	}
}

// ============================================================================
// Options
// ============================================================================

type ViewOption func(*ChannelView)

func WithPageSize(n int) ViewOption {
	return func(v *ChannelView) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

func WithLogger(log zerolog.Logger) ViewOption {
	return func(v *ChannelView) { v.log = log }
}

// WithExecutor runs the view's mutations on e instead of a private goroutine.
func WithExecutor(e Executor) ViewOption {
	return func(v *ChannelView) { v.exec = e }
}

func WithDelegate(d Delegate) ViewOption {
	return func(v *ChannelView) { v.delegate = d }
}

// WithCurrentUser sets the sender id stamped on provisional messages.
func WithCurrentUser(userID string) ViewOption {
	return func(v *ChannelView) { v.userID = userID }
}

// WithClock overrides the clock used to timestamp provisional messages.
func WithClock(now func() time.Time) ViewOption {
	return func(v *ChannelView) { v.now = now }
}

// ============================================================================
// ChannelView
// ============================================================================

type pendingSend struct {
	index int
	out   Outgoing
}

// ChannelView is the synchronized message list of one channel. All
// mutations happen on its executor; the accessors may be called from any
// goroutine.
type ChannelView struct {
	backend  Backend
	pageSize int
	userID   string
	log      zerolog.Logger
	exec     Executor
	ownExec  *serialExecutor
	now      func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once

	mu       sync.RWMutex
	channel  Channel
	delegate Delegate
	list     *itemList

	isLoadingOlder bool
	isLoadingNewer bool
	loadedFirst    bool

	attached bool
	token    Token

	pending map[string]pendingSend
	readAt  map[string]int64
	typing  map[string]bool
}

// NewChannelView creates a view of channel backed by backend. Nothing is
// fetched until LoadInitial is called.
func NewChannelView(channel Channel, backend Backend, opts ...ViewOption) *ChannelView {
	v := &ChannelView{
		backend:  backend,
		pageSize: DefaultPageSize,
		log:      zerolog.Nop(),
		now:      time.Now,
		channel:  channel,
		pending:  make(map[string]pendingSend),
		readAt:   make(map[string]int64),
		typing:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.exec == nil {
		v.ownExec = newSerialExecutor()
		v.exec = v.ownExec
	}
	v.list = newItemList(v.pageSize)
	v.log = v.log.With().Str("channel", channel.ID).Logger()
	v.ctx, v.cancel = context.WithCancel(context.Background())
	return v
}

// SetDelegate replaces the delegate. Pass nil to stop notifications.
func (v *ChannelView) SetDelegate(d Delegate) {
	v.mu.Lock()
	v.delegate = d
	v.mu.Unlock()
}

// Close detaches the view from the backend's push events, abandons in-flight
// requests and stops the executor. Completions that arrive afterwards are
// ignored. Close is idempotent.
func (v *ChannelView) Close() error {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		v.cancel()
		v.detach()

		v.mu.Lock()
		v.delegate = nil
		v.mu.Unlock()

		if v.ownExec != nil {
			v.ownExec.Stop()
		}
		v.log.Debug().Msg("Channel view closed")
	})
	return nil
}

// Closed reports whether Close has been called.
func (v *ChannelView) Closed() bool {
	return v.closed.Load()
}

// Sync waits until every task posted to the executor before the call has run.
func (v *ChannelView) Sync(ctx context.Context) error {
	if v.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	v.exec.Post(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-v.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Accessors ────────────────────────────────────────────

func (v *ChannelView) Channel() Channel {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.channel
}

// Items returns a copy of the current item list.
func (v *ChannelView) Items() []ChatItem {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.list.snapshot()
}

// Messages returns the messages of the item list, without the placeholder.
func (v *ChannelView) Messages() []Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Message, 0, len(v.list.items))
	for _, it := range v.list.items {
		switch it := it.(type) {
		case Message:
			out = append(out, it)
		case LoadingPlaceholder:
		}
	}
	return out
}

// Message returns the message sent with requestID.
func (v *ChannelView) Message(requestID string) (Message, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.list.messageByRequest(requestID)
}

func (v *ChannelView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.list.items)
}

func (v *ChannelView) HasMoreOlder() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.list.hasMoreOlder
}

func (v *ChannelView) HasMoreNewer() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.list.hasMoreNewer
}

func (v *ChannelView) IsLoadingOlder() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.isLoadingOlder
}

func (v *ChannelView) IsLoadingNewer() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.isLoadingNewer
}

// OldestTimestamp is the cursor for the next older page. It is math.MaxInt64
// until the first page arrives.
func (v *ChannelView) OldestTimestamp() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.list.oldest
}

// NewestTimestamp is the cursor for the next newer page; ok is false until a
// message has been loaded.
func (v *ChannelView) NewestTimestamp() (ts int64, ok bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.list.newest, v.list.hasNewest
}

// ── Internal plumbing ────────────────────────────────────

// post runs task on the executor unless the view has been closed by then.
func (v *ChannelView) post(task func()) {
	if v.closed.Load() {
		return
	}
	v.exec.Post(func() {
		if v.closed.Load() {
			v.log.Debug().Msg("Dropping task for closed view")
			return
		}
		task()
	})
}

func (v *ChannelView) currentDelegate() Delegate {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.delegate
}

func (v *ChannelView) notify(update UpdateType) {
	if d := v.currentDelegate(); d != nil {
		d.ChannelViewDidUpdate(v, update)
	}
}

func (v *ChannelView) fail(err error) {
	if d := v.currentDelegate(); d != nil {
		d.ChannelViewDidFail(v, err)
	}
}

// markAsRead is fire-and-forget.
func (v *ChannelView) markAsRead() {
	go func() {
		if err := v.backend.MarkAsRead(v.ctx, v.channel.ID); err != nil && v.ctx.Err() == nil {
			v.log.Warn().Err(err).Msg("Failed to mark channel as read")
		}
	}()
}

// ── Merge entry points (executor only) ───────────────────

func (v *ChannelView) prependMessages(msgs []Message, update UpdateType) {
	v.mu.Lock()
	hadLoading := v.list.hasLoading()
	inserted := v.list.prepend(msgs)
	v.mu.Unlock()

	switch {
	case inserted:
		v.notify(update)
	case hadLoading:
		v.notify(UpdateNormal)
	}
}

func (v *ChannelView) appendMessages(msgs []Message) {
	v.mu.Lock()
	changed := v.list.append(msgs)
	v.mu.Unlock()

	if !changed {
		return
	}
	v.notify(UpdateNormal)
	v.markAsRead()
}

func (v *ChannelView) upsertMessage(m Message) {
	v.mu.Lock()
	changed := v.list.upsert(m)
	v.mu.Unlock()

	if !changed {
		v.log.Debug().Int64("message_id", m.ID).Msg("Ignoring update for unknown message")
		return
	}
	v.notify(UpdateNormal)
}

func (v *ChannelView) removeMessage(id int64) {
	v.mu.Lock()
	changed := v.list.remove(id)
	v.mu.Unlock()

	if !changed {
		v.log.Debug().Int64("message_id", id).Msg("Ignoring delete for unknown message")
		return
	}
	v.notify(UpdateMessageCountReduction)
}
