package chatbird

import (
	"github.com/google/uuid"
)

// SendText appends a pending text message to the view and delivers it in
// the background. It returns the request id that identifies the message
// until, and after, the backend confirms it.
func (v *ChannelView) SendText(text string) string {
	return v.send(Outgoing{Kind: KindText, Text: text})
}

// SendFile is SendText for binary content. A missing mime type is derived
// from the file name and a missing name is generated.
func (v *ChannelView) SendFile(data []byte, info FileInfo) string {
	if info.Name == "" {
		info.Name = uuid.NewString()
	}
	if info.MimeType == "" {
		info.MimeType = guessMimeType(info.Name)
	}
	if info.Size == 0 {
		info.Size = len(data)
	}
	return v.send(Outgoing{Kind: KindFile, File: &info, Data: data})
}

// Resend retries a message whose delivery failed.
func (v *ChannelView) Resend(requestID string) error {
	if v.closed.Load() {
		return ErrClosed
	}
	v.mu.RLock()
	m, ok := v.list.messageByRequest(requestID)
	_, tracked := v.pending[requestID]
	v.mu.RUnlock()
	if !ok || !tracked {
		return ErrNotFound
	}
	if m.State != StateFailed {
		return ErrInvalidState
	}

	v.post(func() {
		v.mu.Lock()
		p, tracked := v.pending[requestID]
		cur, ok := v.list.messageByRequest(requestID)
		if !tracked || !ok || cur.State != StateFailed {
			v.mu.Unlock()
			return
		}
		v.list.setState(requestID, StatePending)
		v.mu.Unlock()

		v.log.Info().Str("request_id", requestID).Msg("Resending message")
		v.notify(UpdateNormal)
		v.deliver(p)
	})
	return nil
}

func (v *ChannelView) send(out Outgoing) string {
	out.RequestID = uuid.NewString()
	v.post(func() {
		m := Message{
			RequestID: out.RequestID,
			ChannelID: v.channel.ID,
			SenderID:  v.userID,
			CreatedAt: v.now().UnixMilli(),
			Kind:      out.Kind,
			Text:      out.Text,
			File:      out.File,
			State:     StatePending,
		}

		v.mu.Lock()
		p := pendingSend{index: v.list.insertProvisional(m), out: out}
		v.pending[out.RequestID] = p
		v.mu.Unlock()

		v.notify(UpdateNormal)
		v.deliver(p)
	})
	return out.RequestID
}

func (v *ChannelView) deliver(p pendingSend) {
	go func() {
		sent, err := v.backend.Send(v.ctx, v.channel.ID, p.out)
		v.post(func() { v.finishSend(p, sent, err) })
	}()
}

func (v *ChannelView) finishSend(p pendingSend, sent Message, err error) {
	reqID := p.out.RequestID
	if err != nil {
		v.mu.Lock()
		changed := v.list.setState(reqID, StateFailed)
		v.mu.Unlock()

		v.log.Warn().Err(err).Str("request_id", reqID).Msg("Failed to send message")
		if changed {
			v.notify(UpdateNormal)
		}
		v.fail(&SendError{ChannelID: v.channel.ID, RequestID: reqID, Err: err})
		return
	}

	if sent.RequestID == "" {
		sent.RequestID = reqID
	}
	sent.State = StateSucceeded

	v.mu.Lock()
	replaced := v.list.confirm(reqID, p.index, sent)
	delete(v.pending, reqID)
	v.mu.Unlock()

	if !replaced {
		v.log.Debug().Str("request_id", reqID).Int64("message_id", sent.ID).
			Msg("Confirmed message is no longer in the view")
		return
	}
	v.notify(UpdateNormal)
}
