package mcphub

// Subscription delivers state snapshots to one observer. Delivery is
// non-blocking: a subscriber that stops draining loses intermediate
// snapshots, never the hub's progress.
type Subscription struct {
	hub *Hub
	ch  chan Snapshot
}

// Updates returns the snapshot channel. It is closed by Close and by hub
// disposal.
func (s *Subscription) Updates() <-chan Snapshot { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.hub.unsubscribe(s) }

// Subscribe registers a snapshot observer. buffer bounds how many undrained
// snapshots are held before drops begin; values below 1 get a single slot.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{hub: h, ch: make(chan Snapshot, buffer)}
	h.subMu.Lock()
	h.subs[sub] = struct{}{}
	h.subMu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.subMu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
	h.subMu.Unlock()
}

// Snapshot returns the current server set in settings-document order.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap := make(Snapshot, 0, len(h.order))
	for _, name := range h.order {
		st, ok := h.states[name]
		if !ok {
			continue
		}
		snap = append(snap, st.view())
	}
	return snap
}

// publish pushes the current snapshot to every subscriber. A full subscriber
// channel drops the snapshot rather than stalling the hub.
func (h *Hub) publish() {
	snap := h.Snapshot()
	h.subMu.Lock()
	for sub := range h.subs {
		select {
		case sub.ch <- snap:
		default:
			h.opts.Logger.Debug("dropping snapshot for slow subscriber")
		}
	}
	h.subMu.Unlock()
}
