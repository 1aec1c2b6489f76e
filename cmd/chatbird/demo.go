package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/LuminPulse-AI/chatbird"
)

const (
	demoChannelID = "demo"
	demoUserID    = "me"
)

var demoLines = []string{
	"morning! anyone looked at the deploy logs?",
	"yeah, the canary is green",
	"nice. shipping the rest after lunch",
	"did the migration finish on eu-west?",
	"still running, 80% done",
	"coffee first",
	"can someone review the pagination PR?",
	"on it",
	"left two comments, looks good otherwise",
	"thanks, fixing now",
}

// newDemoBackend returns an in-memory channel with a few hours of history.
func newDemoBackend(log zerolog.Logger) (*chatbird.MemoryBackend, chatbird.Channel) {
	b := chatbird.NewMemoryBackend(
		chatbird.WithMemoryUser(demoUserID),
		chatbird.WithMemoryLatency(400*time.Millisecond),
		chatbird.WithMemoryLogger(log),
	)

	ch := chatbird.Channel{
		ID:   demoChannelID,
		Name: "#demo",
		Members: []chatbird.Member{
			{UserID: demoUserID, Nickname: "You"},
			{UserID: "ada", Nickname: "Ada"},
			{UserID: "linus", Nickname: "Linus"},
		},
	}
	b.AddChannel(ch)

	senders := []string{"ada", "linus", demoUserID}
	start := time.Now().Add(-3 * time.Hour)
	history := make([]chatbird.Message, 0, 90)
	for i := 0; i < 90; i++ {
		history = append(history, chatbird.Message{
			SenderID:  senders[i%len(senders)],
			CreatedAt: start.Add(time.Duration(i) * 2 * time.Minute).UnixMilli(),
			Kind:      chatbird.KindText,
			Text:      fmt.Sprintf("#%d %s", i+1, demoLines[i%len(demoLines)]),
		})
	}
	history[0] = chatbird.Message{
		CreatedAt: start.Add(-time.Minute).UnixMilli(),
		Kind:      chatbird.KindAdmin,
		Text:      "Ada created the channel",
	}
	b.Seed(demoChannelID, history...)

	ch, _ = b.GetChannel(context.Background(), demoChannelID)
	return b, ch
}

// demoPeer plays the other members of the demo channel: it reads and
// answers your messages and chats on its own now and then.
type demoPeer struct {
	backend *chatbird.MemoryBackend
	log     zerolog.Logger
	rnd     *rand.Rand
}

func newDemoPeer(b *chatbird.MemoryBackend, log zerolog.Logger) *demoPeer {
	return &demoPeer{
		backend: b,
		log:     log,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// beforeSend lets "/fail" in a message exercise the failed-send path.
func (p *demoPeer) beforeSend(text string) {
	if strings.Contains(text, "/fail") {
		p.backend.FailNextSend(errors.New("simulated network error"))
	}
}

func (p *demoPeer) run(ctx context.Context) {
	tok := p.backend.Subscribe(demoChannelID, chatbird.Handlers{
		OnMessage: func(ev chatbird.MessageEvent) {
			if ev.Type == chatbird.MessageReceived && ev.Message.SenderID == demoUserID {
				go p.react(ctx, ev.Message)
			}
		},
	})
	defer p.backend.Unsubscribe(tok)

	ticker := time.NewTicker(12 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.say(ctx, p.pickPeer(), demoLines[p.rnd.Intn(len(demoLines))])
		}
	}
}

func (p *demoPeer) react(ctx context.Context, m chatbird.Message) {
	if !sleepCtx(ctx, time.Second) {
		return
	}
	now := time.Now().UnixMilli()
	p.backend.SetReadReceipt(demoChannelID, "ada", now)
	if !sleepCtx(ctx, 2*time.Second) {
		return
	}
	p.backend.SetReadReceipt(demoChannelID, "linus", time.Now().UnixMilli())

	if strings.HasSuffix(strings.TrimSpace(m.Text), "?") {
		p.say(ctx, p.pickPeer(), "good question, let me check")
	}
}

func (p *demoPeer) say(ctx context.Context, userID, text string) {
	p.backend.SetTyping(demoChannelID, userID, true)
	ok := sleepCtx(ctx, 2*time.Second)
	p.backend.SetTyping(demoChannelID, userID, false)
	if !ok {
		return
	}
	m := p.backend.Post(demoChannelID, userID, text)
	p.log.Debug().Str("sender", userID).Int64("message_id", m.ID).Msg("Demo peer posted")
}

func (p *demoPeer) pickPeer() string {
	if p.rnd.Intn(2) == 0 {
		return "ada"
	}
	return "linus"
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
