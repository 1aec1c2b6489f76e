package chatbird

// attach registers the view's push handlers with the backend. It runs on
// the executor and only the first call has an effect.
func (v *ChannelView) attach() {
	v.mu.RLock()
	attached := v.attached
	v.mu.RUnlock()
	if attached {
		return
	}

	tok := v.backend.Subscribe(v.channel.ID, Handlers{
		OnMessage:     v.onMessageEvent,
		OnReadReceipt: v.onReadReceipt,
		OnTyping:      v.onTyping,
		OnMember:      v.onMember,
	})

	v.mu.Lock()
	if v.closed.Load() {
		// Close already ran its detach; give the registration back here.
		v.mu.Unlock()
		v.backend.Unsubscribe(tok)
		return
	}
	v.attached = true
	v.token = tok
	v.mu.Unlock()
	v.log.Debug().Str("token", string(tok)).Msg("Attached to channel events")
}

func (v *ChannelView) detach() {
	v.mu.Lock()
	tok := v.token
	wasAttached := v.attached
	v.attached = false
	v.token = ""
	v.mu.Unlock()

	if wasAttached {
		v.backend.Unsubscribe(tok)
		v.log.Debug().Str("token", string(tok)).Msg("Detached from channel events")
	}
}

// Attached reports whether push handlers are registered.
func (v *ChannelView) Attached() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.attached
}

// The handlers below run on the backend's goroutine and only hand the
// event over to the executor.

func (v *ChannelView) onMessageEvent(ev MessageEvent) {
	v.post(func() {
		switch ev.Type {
		case MessageReceived:
			v.appendMessages([]Message{ev.Message})
		case MessageUpdated:
			v.upsertMessage(ev.Message)
		case MessageDeleted:
			id := ev.MessageID
			if id == 0 {
				id = ev.Message.ID
			}
			v.removeMessage(id)
		default:
			v.log.Warn().Str("type", string(ev.Type)).Msg("Unknown message event")
		}
	})
}

func (v *ChannelView) onReadReceipt(rr ReadReceipt) {
	v.post(func() {
		v.mu.Lock()
		if rr.UserID != "" && rr.ReadAt > v.readAt[rr.UserID] {
			v.readAt[rr.UserID] = rr.ReadAt
		}
		v.mu.Unlock()
		v.notify(UpdateNormal)
	})
}

func (v *ChannelView) onTyping(ts TypingStatus) {
	v.post(func() {
		v.mu.Lock()
		changed := v.typing[ts.UserID] != ts.IsTyping
		if ts.IsTyping {
			v.typing[ts.UserID] = true
		} else {
			delete(v.typing, ts.UserID)
		}
		v.mu.Unlock()
		if changed {
			v.notify(UpdateNormal)
		}
	})
}

func (v *ChannelView) onMember(ev MemberEvent) {
	v.post(func() {
		v.mu.Lock()
		members := v.channel.Members[:0:0]
		for _, m := range v.channel.Members {
			if m.UserID != ev.Member.UserID {
				members = append(members, m)
			}
		}
		// The count moves only when the member list does.
		known := len(members) < len(v.channel.Members)
		if ev.Joined {
			members = append(members, ev.Member)
			if !known {
				v.channel.MemberCount++
			}
		} else {
			if known && v.channel.MemberCount > 0 {
				v.channel.MemberCount--
			}
			delete(v.readAt, ev.Member.UserID)
			delete(v.typing, ev.Member.UserID)
		}
		v.channel.Members = members
		v.mu.Unlock()
		v.notify(UpdateNormal)
	})
}
