// ABOUTME: Read-only views of pool occupancy for health checks, the HTTP API and metrics.
// ABOUTME: Also provides the DialFunc that opens real websocket links.

package pool

import (
	"context"
	"log/slog"

	"github.com/2389/asr-gateway/internal/link"
)

// Stats summarizes pool occupancy.
type Stats struct {
	Size        int    `json:"size"`
	Open        int    `json:"open"`
	Closed      int    `json:"closed"`
	Unconnected int    `json:"unconnected"`
	Bound       int    `json:"bound"`
	Available   int    `json:"available"`
	Acquired    uint64 `json:"acquired_total"`
	Rejected    uint64 `json:"rejected_total"`
	Released    uint64 `json:"released_total"`
	Evicted     uint64 `json:"evicted_total"`
	Redialed    uint64 `json:"redialed_total"`
}

// SlotInfo describes one slot.
type SlotInfo struct {
	Index     int    `json:"index"`
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Queued    bool   `json:"queued"`
}

// Stats returns current occupancy. A slot counts as Available when it is
// queued and its link is Open.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		Size:     len(p.slots),
		Acquired: p.counters.acquired,
		Rejected: p.counters.rejected,
		Released: p.counters.released,
		Evicted:  p.counters.evicted,
		Redialed: p.counters.redialed,
	}
	for _, s := range p.slots {
		switch {
		case s.open():
			st.Open++
		case s.conn == nil && s.health == link.Unconnected:
			st.Unconnected++
		default:
			st.Closed++
		}
		if s.session != "" {
			st.Bound++
		}
		if s.queued && s.open() {
			st.Available++
		}
	}
	return st
}

// Slots returns one entry per slot in index order.
func (p *Pool) Slots() []SlotInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]SlotInfo, 0, len(p.slots))
	for _, s := range p.slots {
		state := s.health
		if s.health == link.Open && !s.open() {
			state = link.Closed
		}
		out = append(out, SlotInfo{
			Index:     s.index,
			State:     state.String(),
			SessionID: s.session,
			Queued:    s.queued,
		})
	}
	return out
}

// SlotOf returns the slot bound to a session.
func (p *Pool) SlotOf(sessionID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.bySession[sessionID]
	return idx, ok
}

// LinkDialer returns a DialFunc that opens a link.Link to uri for every slot.
func LinkDialer(uri string, logger *slog.Logger, opts ...link.Option) DialFunc {
	return func(ctx context.Context, index int, hooks Hooks) (Conn, error) {
		all := make([]link.Option, 0, len(opts)+1)
		all = append(all, opts...)
		all = append(all, link.WithLogger(logger.With("slot", index)))

		l := link.New(uri, all...)
		l.OnMessage(hooks.OnMessage)
		l.OnDisconnect(func(*link.Link) { hooks.OnDisconnect() })
		if err := l.Open(ctx); err != nil {
			return nil, err
		}
		return l, nil
	}
}
