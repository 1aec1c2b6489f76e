package chatbird

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Token identifies one registration in a Registry.
type Token string

// Handlers is the set of callbacks a subscriber is interested in. Nil
// fields are skipped.
type Handlers struct {
	OnMessage     func(MessageEvent)
	OnReadReceipt func(ReadReceipt)
	OnTyping      func(TypingStatus)
	OnMember      func(MemberEvent)
}

type registration struct {
	token     Token
	channelID string
	handlers  Handlers
}

// Registry fans backend push events out to per-channel subscribers. Each
// backend owns its own Registry; subscribers hold the Token returned by
// Subscribe and must hand it back to Unsubscribe.
//
// Handlers run synchronously on the publishing goroutine.
type Registry struct {
	mu   sync.RWMutex
	regs map[Token]*registration
	log  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		regs: make(map[Token]*registration),
		log:  log,
	}
}

// Subscribe registers h for events in channelID. An empty channelID matches
// every channel.
func (r *Registry) Subscribe(channelID string, h Handlers) Token {
	tok := Token(uuid.NewString())
	r.mu.Lock()
	r.regs[tok] = &registration{token: tok, channelID: channelID, handlers: h}
	r.mu.Unlock()
	r.log.Debug().Str("channel", channelID).Str("token", string(tok)).Msg("Subscribed")
	return tok
}

// Unsubscribe removes a registration. Unknown tokens are ignored.
func (r *Registry) Unsubscribe(tok Token) {
	r.mu.Lock()
	_, ok := r.regs[tok]
	delete(r.regs, tok)
	r.mu.Unlock()
	if ok {
		r.log.Debug().Str("token", string(tok)).Msg("Unsubscribed")
	}
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// ── Publishing ───────────────────────────────────────────

func (r *Registry) PublishMessage(ev MessageEvent) {
	for _, reg := range r.matching(ev.ChannelID) {
		if h := reg.handlers.OnMessage; h != nil {
			r.call(reg, func() { h(ev) })
		}
	}
}

func (r *Registry) PublishReadReceipt(rr ReadReceipt) {
	for _, reg := range r.matching(rr.ChannelID) {
		if h := reg.handlers.OnReadReceipt; h != nil {
			r.call(reg, func() { h(rr) })
		}
	}
}

func (r *Registry) PublishTyping(ts TypingStatus) {
	for _, reg := range r.matching(ts.ChannelID) {
		if h := reg.handlers.OnTyping; h != nil {
			r.call(reg, func() { h(ts) })
		}
	}
}

func (r *Registry) PublishMember(ev MemberEvent) {
	for _, reg := range r.matching(ev.ChannelID) {
		if h := reg.handlers.OnMember; h != nil {
			r.call(reg, func() { h(ev) })
		}
	}
}

func (r *Registry) matching(channelID string) []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*registration
	for _, reg := range r.regs {
		if reg.channelID == "" || reg.channelID == channelID {
			out = append(out, reg)
		}
	}
	return out
}

func (r *Registry) call(reg *registration, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("token", string(reg.token)).
				Str("channel", reg.channelID).Msg("Subscriber panicked")
		}
	}()
	fn()
}
