package chatbird

// LoadInitial attaches the view to the backend's push events and loads the
// most recent page. Calling it again after the first page has loaded only
// retries the older-direction load.
func (v *ChannelView) LoadInitial() {
	v.post(func() {
		v.attach()
		v.loadOlder()
	})
}

// LoadOlder fetches the page before the oldest loaded message. It is a no-op
// while an older-direction load is in flight.
func (v *ChannelView) LoadOlder() {
	v.post(v.loadOlder)
}

// LoadNewer fetches the page after the newest loaded message. It is a no-op
// while a newer-direction load is in flight or before anything was loaded.
func (v *ChannelView) LoadNewer() {
	v.post(v.loadNewer)
}

func (v *ChannelView) loadOlder() {
	v.mu.Lock()
	if v.isLoadingOlder {
		v.mu.Unlock()
		v.log.Debug().Msg("Older page already loading")
		return
	}
	v.isLoadingOlder = true
	cursor := v.list.oldest
	first := !v.loadedFirst
	shown := v.list.showLoading()
	v.mu.Unlock()

	if shown {
		v.notify(UpdateNormal)
	}

	v.log.Debug().Int64("before", cursor).Int("limit", v.pageSize).Msg("Loading older messages")
	go func() {
		msgs, err := v.backend.MessagesBefore(v.ctx, v.channel.ID, cursor, v.pageSize)
		v.post(func() { v.finishOlder(msgs, err, first) })
	}()
}

func (v *ChannelView) finishOlder(msgs []Message, err error, first bool) {
	if err != nil {
		v.mu.Lock()
		v.isLoadingOlder = false
		hidden := v.list.hideLoading()
		v.mu.Unlock()

		v.log.Warn().Err(err).Msg("Failed to load older messages")
		if hidden {
			v.notify(UpdateNormal)
		}
		v.fail(&FetchError{ChannelID: v.channel.ID, Direction: Older, Err: err})
		return
	}

	update := UpdatePagination
	if first {
		update = UpdateFirstLoad
	}

	v.mu.Lock()
	v.isLoadingOlder = false
	v.loadedFirst = true
	v.mu.Unlock()

	v.prependMessages(msgs, update)
	if first {
		v.markAsRead()
	}
}

func (v *ChannelView) loadNewer() {
	v.mu.Lock()
	if v.isLoadingNewer || !v.list.hasNewest {
		v.mu.Unlock()
		return
	}
	v.isLoadingNewer = true
	cursor := v.list.newest
	v.mu.Unlock()

	v.log.Debug().Int64("after", cursor).Int("limit", v.pageSize).Msg("Loading newer messages")
	go func() {
		msgs, err := v.backend.MessagesAfter(v.ctx, v.channel.ID, cursor, v.pageSize)
		v.post(func() { v.finishNewer(msgs, err) })
	}()
}

func (v *ChannelView) finishNewer(msgs []Message, err error) {
	v.mu.Lock()
	v.isLoadingNewer = false
	v.mu.Unlock()

	if err != nil {
		v.log.Warn().Err(err).Msg("Failed to load newer messages")
		v.fail(&FetchError{ChannelID: v.channel.ID, Direction: Newer, Err: err})
		return
	}
	v.appendMessages(msgs)
}
