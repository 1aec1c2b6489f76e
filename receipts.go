package chatbird

import "sort"

// UnreadCount returns how many members other than the sender have not yet
// read m, according to the read receipts seen since the view attached.
func (v *ChannelView) UnreadCount(m Message) int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	readers := 0
	for userID, readAt := range v.readAt {
		if userID != m.SenderID && readAt >= m.CreatedAt {
			readers++
		}
	}
	n := v.channel.MemberCount - 1 - readers
	if n < 0 {
		return 0
	}
	return n
}

// TypingUsers returns the ids of members currently typing, sorted.
func (v *ChannelView) TypingUsers() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]string, 0, len(v.typing))
	for userID := range v.typing {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}
