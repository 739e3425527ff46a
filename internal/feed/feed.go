// ABOUTME: In-memory fan-out of session events to live observers
// ABOUTME: Subscribers key on a session id or All; slow subscribers drop events

package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// All subscribes to every session.
const All = "*"

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Event types.
const (
	TypeBound    = "bound"
	TypeDeclared = "declared"
	TypeResult   = "result"
	TypeClosed   = "closed"
)

// Event is one thing that happened to a session.
type Event struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	At         time.Time `json:"at"`
	Slot       int       `json:"slot,omitempty"`
	SequenceID int       `json:"sequence_id,omitempty"`
	Cmd        string    `json:"cmd,omitempty"`
	UttID      string    `json:"utt_id,omitempty"`
	Text       string    `json:"text,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Broadcaster provides in-memory pub/sub for session events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // key -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "feed"),
	}
}

// Subscribe registers for events of key, a session id or All. The
// subscription is removed when ctx is cancelled. After Close the returned
// channel is already closed.
func (b *Broadcaster) Subscribe(ctx context.Context, key string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan Event)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(key, subID)
	}()

	return ch, subID
}

// Publish delivers ev to subscribers of its session and of All without blocking.
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	var targets []chan Event
	for _, key := range []string{ev.SessionID, All} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	// Sends happen under the read lock so Unsubscribe cannot close a target mid-send.
	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber", "session_id", ev.SessionID, "type", ev.Type)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Subscribers returns the number of live subscriptions for key.
func (b *Broadcaster) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("feed closed")
}
