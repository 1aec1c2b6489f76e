package chatbird

import "math"

// itemList is the ordered item sequence of a ChannelView together with its
// pagination cursors. It is not safe for concurrent use; the owning view
// serializes access.
//
// Messages are kept ascending by CreatedAt with ties in arrival order. At
// most one LoadingPlaceholder exists and it always sits at index 0.
type itemList struct {
	items    []ChatItem
	pageSize int

	oldest    int64 // cursor for older pages; MaxInt64 means "most recent"
	newest    int64
	hasNewest bool

	hasMoreOlder bool
	hasMoreNewer bool
}

func newItemList(pageSize int) *itemList {
	return &itemList{
		pageSize: pageSize,
		oldest:   math.MaxInt64,
	}
}

// ── Placeholder ──────────────────────────────────────────

func (l *itemList) hasLoading() bool {
	return len(l.items) > 0 && l.items[0].UID() == loadingUID
}

func (l *itemList) showLoading() bool {
	if l.hasLoading() {
		return false
	}
	l.items = append([]ChatItem{LoadingPlaceholder{}}, l.items...)
	return true
}

func (l *itemList) hideLoading() bool {
	if !l.hasLoading() {
		return false
	}
	l.items = l.items[1:]
	return true
}

// ── Merge operations ─────────────────────────────────────

// prepend splices an older page at the head. It reports whether any
// message was inserted; the placeholder is removed either way.
//
// A full page is taken to mean more history exists. That is wrong when the
// channel holds an exact multiple of pageSize messages: the next load then
// returns an empty page and clears hasMoreOlder.
func (l *itemList) prepend(msgs []Message) bool {
	l.hideLoading()
	if len(msgs) == 0 {
		l.hasMoreOlder = false
		return false
	}
	l.hasMoreOlder = len(msgs) >= l.pageSize
	if first := msgs[0].CreatedAt; first < l.oldest {
		l.oldest = first
	}
	l.bumpNewest(msgs[len(msgs)-1].CreatedAt)

	fresh := make([]ChatItem, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != 0 && l.indexOfID(m.ID) >= 0 {
			continue
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return false
	}
	l.items = append(fresh, l.items...)
	return true
}

// append merges newer messages. Messages already present are skipped, echoes
// of a local provisional send replace it in place and anything older than
// the tail is inserted at its sorted position.
func (l *itemList) append(msgs []Message) bool {
	if len(msgs) == 0 {
		l.hasMoreNewer = false
		return false
	}
	l.hasMoreNewer = len(msgs) >= l.pageSize
	l.bumpNewest(msgs[len(msgs)-1].CreatedAt)

	changed := false
	for _, m := range msgs {
		if m.ID != 0 && l.indexOfID(m.ID) >= 0 {
			continue
		}
		if m.RequestID != "" {
			if i := l.indexOfRequest(m.RequestID); i >= 0 {
				l.items[i] = m
				changed = true
				continue
			}
		}
		l.insertSorted(m)
		changed = true
	}
	return changed
}

// upsert replaces the message with the same id in place. Updates for
// messages not in the list are dropped.
func (l *itemList) upsert(m Message) bool {
	i := l.indexOfID(m.ID)
	if i < 0 {
		return false
	}
	l.items[i] = m
	return true
}

func (l *itemList) remove(id int64) bool {
	i := l.indexOfID(id)
	if i < 0 {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return true
}

// ── Provisional sends ────────────────────────────────────

// insertProvisional places a local message at the tail and returns the
// index it was recorded at. Cursors are left alone until the backend
// confirms the message.
func (l *itemList) insertProvisional(m Message) int {
	l.items = append(l.items, m)
	return len(l.items) - 1
}

// confirm replaces the provisional item for requestID with the backend's
// copy. hint is the index recorded at send time; it is used when it still
// holds the request, otherwise the item is looked up by request id.
func (l *itemList) confirm(requestID string, hint int, m Message) bool {
	i := -1
	if hint >= 0 && hint < len(l.items) {
		if cur, ok := l.items[hint].(Message); ok && cur.RequestID == requestID {
			i = hint
		}
	}
	if i < 0 {
		i = l.indexOfRequest(requestID)
	}
	if i < 0 {
		return false
	}
	l.items[i] = m
	l.bumpNewest(m.CreatedAt)
	return true
}

func (l *itemList) setState(requestID string, state DeliveryState) bool {
	i := l.indexOfRequest(requestID)
	if i < 0 {
		return false
	}
	m := l.items[i].(Message)
	if m.State == state {
		return false
	}
	m.State = state
	l.items[i] = m
	return true
}

// ── Lookup ───────────────────────────────────────────────

// indexOfID never matches provisional items, which have no id yet.
func (l *itemList) indexOfID(id int64) int {
	if id == 0 {
		return -1
	}
	for i, it := range l.items {
		if m, ok := it.(Message); ok && m.ID == id {
			return i
		}
	}
	return -1
}

func (l *itemList) indexOfRequest(requestID string) int {
	for i := len(l.items) - 1; i >= 0; i-- {
		if m, ok := l.items[i].(Message); ok && m.RequestID == requestID {
			return i
		}
	}
	return -1
}

func (l *itemList) messageByRequest(requestID string) (Message, bool) {
	i := l.indexOfRequest(requestID)
	if i < 0 {
		return Message{}, false
	}
	return l.items[i].(Message), true
}

func (l *itemList) insertSorted(m Message) {
	pos := len(l.items)
	for pos > 0 {
		prev, ok := l.items[pos-1].(Message)
		if !ok || prev.CreatedAt <= m.CreatedAt {
			break
		}
		pos--
	}
	l.items = append(l.items, nil)
	copy(l.items[pos+1:], l.items[pos:])
	l.items[pos] = m
}

func (l *itemList) bumpNewest(ts int64) {
	if !l.hasNewest || ts > l.newest {
		l.newest = ts
		l.hasNewest = true
	}
}

func (l *itemList) snapshot() []ChatItem {
	out := make([]ChatItem, len(l.items))
	copy(out, l.items)
	return out
}
