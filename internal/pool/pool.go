// ABOUTME: Fixed-size pool of backend ASR links with FIFO admission and lazy health checks.
// ABOUTME: Binds slots to sessions, frames streams with markers and routes backend results.

package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/asr-gateway/internal/link"
)

// Stream markers sent on a slot around one session's audio.
const (
	StartMarker byte = 0x00
	EndMarker   byte = 0x01
)

// ErrPoolExhausted indicates no Open slot was available.
var ErrPoolExhausted = errors.New("no available backend slot")

// ErrBackendLinkDown indicates the session's backend link is no longer open.
var ErrBackendLinkDown = errors.New("backend link is down")

// ErrNotBound indicates the session holds no slot.
var ErrNotBound = errors.New("session has no bound slot")

// ErrAlreadyBound indicates the session already holds a slot.
var ErrAlreadyBound = errors.New("session already bound to a slot")

// Conn is the part of a backend link the pool uses.
type Conn interface {
	SendBinary(data []byte) error
	State() link.State
	Disconnect()
}

// Hooks are installed on a link when it is dialed.
type Hooks struct {
	OnMessage    func(link.Message)
	OnDisconnect func()
}

// DialFunc opens the link for slot index and installs hooks on it.
type DialFunc func(ctx context.Context, index int, hooks Hooks) (Conn, error)

// Handler receives backend messages for the session bound to a slot.
type Handler func(msg link.Message)

// Config controls pool size and reconnection behaviour.
type Config struct {
	Size           int
	ConnectDelay   time.Duration
	Replenish      bool
	ReplenishDelay time.Duration
}

type slot struct {
	index     int
	gen       uint64
	conn      Conn
	health    link.State
	session   string
	handler   Handler
	queued    bool
	redialing bool
}

// open reports whether the slot is usable right now.
func (s *slot) open() bool {
	return s.conn != nil && s.health == link.Open && s.conn.State() == link.Open
}

// Pool owns the backend links.
type Pool struct {
	cfg    Config
	dial   DialFunc
	logger *slog.Logger

	mu        sync.Mutex
	slots     []*slot
	avail     []int
	bySession map[string]int
	closed    bool
	counters  counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type counters struct {
	acquired uint64
	rejected uint64
	released uint64
	evicted  uint64
	redialed uint64
}

// New creates a pool. Nothing is dialed until Start.
func New(cfg Config, dial DialFunc, logger *slog.Logger) *Pool {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.ReplenishDelay <= 0 {
		cfg.ReplenishDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	slots := make([]*slot, cfg.Size)
	for i := range slots {
		slots[i] = &slot{index: i + 1, health: link.Unconnected}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:       cfg,
		dial:      dial,
		logger:    logger,
		slots:     slots,
		bySession: make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start dials every slot in order, pausing ConnectDelay between attempts.
// Slots that fail to connect are Closed. It only fails if ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	for i, s := range p.slots {
		if i > 0 && p.cfg.ConnectDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.ConnectDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		p.connect(ctx, s)
	}

	stats := p.Stats()
	if stats.Open == 0 {
		p.logger.Warn("no backend slot connected", "size", stats.Size)
	} else {
		p.logger.Info("backend pool ready", "open", stats.Open, "size", stats.Size)
	}
	return nil
}

// connect dials one slot and queues it when it comes up Open.
func (p *Pool) connect(ctx context.Context, s *slot) bool {
	p.mu.Lock()
	s.gen++
	gen := s.gen
	p.mu.Unlock()

	conn, err := p.dial(ctx, s.index, p.hooks(s.index, gen))

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		s.health = link.Closed
		p.logger.Error("backend slot failed to connect", "slot", s.index, "error", err)
		p.scheduleRedialLocked(s)
		return false
	}
	if p.closed {
		go conn.Disconnect()
		return false
	}

	s.conn = conn
	if conn.State() != link.Open {
		s.health = link.Closed
		p.scheduleRedialLocked(s)
		return false
	}
	s.health = link.Open
	if !s.queued && s.session == "" {
		p.avail = append(p.avail, s.index)
		s.queued = true
	}
	p.logger.Info("backend slot connected", "slot", s.index)
	return true
}

func (p *Pool) hooks(index int, gen uint64) Hooks {
	return Hooks{
		OnMessage:    func(msg link.Message) { p.dispatch(index, gen, msg) },
		OnDisconnect: func() { p.linkClosed(index, gen) },
	}
}

// Acquire binds the first Open slot in the availability queue to sessionID and
// sends the start marker on it. Non-Open slots popped on the way are dropped.
// It never blocks waiting for capacity.
func (p *Pool) Acquire(sessionID string, h Handler) (int, error) {
	for {
		idx, conn, err := p.bindNext(sessionID, h)
		if err != nil {
			return 0, err
		}

		if err := conn.SendBinary([]byte{StartMarker}); err != nil {
			p.logger.Warn("start marker failed, dropping slot",
				"slot", idx, "session_id", sessionID, "error", err)
			p.unbind(sessionID, idx, false)
			conn.Disconnect()
			continue
		}

		p.logger.Info("slot acquired", "slot", idx, "session_id", sessionID)
		return idx, nil
	}
}

func (p *Pool) bindNext(sessionID string, h Handler) (int, Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.bySession[sessionID]; exists {
		return 0, nil, ErrAlreadyBound
	}

	for !p.closed && len(p.avail) > 0 {
		idx := p.avail[0]
		p.avail = p.avail[1:]
		s := p.slots[idx-1]
		s.queued = false

		if !s.open() {
			s.health = link.Closed
			p.counters.evicted++
			p.logger.Warn("evicting closed slot", "slot", idx)
			p.scheduleRedialLocked(s)
			continue
		}

		s.session = sessionID
		s.handler = h
		p.bySession[sessionID] = idx
		p.counters.acquired++
		return idx, s.conn, nil
	}

	p.counters.rejected++
	return 0, nil, ErrPoolExhausted
}

// unbind clears the session's binding. The slot is queued again only when
// requeue is set and it is still Open.
func (p *Pool) unbind(sessionID string, idx int, requeue bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.bySession[sessionID]; !ok || cur != idx {
		return
	}
	delete(p.bySession, sessionID)

	s := p.slots[idx-1]
	s.session = ""
	s.handler = nil

	if requeue && !p.closed && s.open() {
		p.avail = append(p.avail, idx)
		s.queued = true
		return
	}
	s.health = link.Closed
	p.scheduleRedialLocked(s)
}

// Release sends the end marker on the session's slot, unbinds it and returns
// it to the tail of the availability queue.
func (p *Pool) Release(sessionID string) error {
	p.mu.Lock()
	idx, ok := p.bySession[sessionID]
	var conn Conn
	if ok {
		conn = p.slots[idx-1].conn
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Error("release for session without a slot", "session_id", sessionID)
		return ErrNotBound
	}

	var markerErr error
	if conn.State() != link.Open {
		markerErr = link.ErrNotOpen
	} else {
		markerErr = conn.SendBinary([]byte{EndMarker})
	}

	p.unbind(sessionID, idx, markerErr == nil)

	p.mu.Lock()
	p.counters.released++
	p.mu.Unlock()

	if markerErr != nil {
		conn.Disconnect()
		p.logger.Warn("slot released without end marker", "slot", idx, "session_id", sessionID, "error", markerErr)
		return fmt.Errorf("slot %d: %w: %w", idx, ErrBackendLinkDown, markerErr)
	}

	p.logger.Info("slot released", "slot", idx, "session_id", sessionID)
	return nil
}

// Forward sends audio on the session's slot. When the link is not Open the
// slot is marked Closed and ErrBackendLinkDown is returned.
func (p *Pool) Forward(sessionID string, data []byte) error {
	p.mu.Lock()
	idx, ok := p.bySession[sessionID]
	var conn Conn
	if ok {
		conn = p.slots[idx-1].conn
	}
	p.mu.Unlock()

	if !ok {
		return ErrNotBound
	}

	if conn.State() != link.Open {
		p.markDown(idx)
		conn.Disconnect()
		return fmt.Errorf("slot %d: %w", idx, ErrBackendLinkDown)
	}
	if err := conn.SendBinary(data); err != nil {
		p.markDown(idx)
		conn.Disconnect()
		return fmt.Errorf("slot %d: %w: %w", idx, ErrBackendLinkDown, err)
	}
	return nil
}

func (p *Pool) markDown(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slots[idx-1].health != link.Closed {
		p.logger.Warn("backend slot down", "slot", idx)
	}
	p.slots[idx-1].health = link.Closed
}

// linkClosed runs when a slot's link reports a disconnect.
func (p *Pool) linkClosed(idx int, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.slots[idx-1]
	if s.gen != gen {
		return
	}
	s.health = link.Closed
	p.logger.Warn("backend link disconnected", "slot", idx, "session_id", s.session)

	// Queued slots are dropped when popped. Unqueued, unbound ones can be
	// redialed straight away.
	if !s.queued {
		p.scheduleRedialLocked(s)
	}
}

// dispatch routes a backend message to the handler bound to the slot.
func (p *Pool) dispatch(idx int, gen uint64, msg link.Message) {
	p.mu.Lock()
	s := p.slots[idx-1]
	h := s.handler
	sessionID := s.session
	current := s.gen == gen
	p.mu.Unlock()

	if !current || h == nil {
		p.logger.Debug("dropping message on unbound slot", "slot", idx, "bytes", len(msg.Data))
		return
	}
	p.logger.Debug("backend message", "slot", idx, "session_id", sessionID, "type", msg.Type)
	h(msg)
}

func (p *Pool) scheduleRedialLocked(s *slot) {
	if !p.cfg.Replenish || p.closed || s.redialing || s.session != "" || s.queued {
		return
	}
	s.redialing = true
	p.wg.Add(1)
	go p.redial(s)
}

func (p *Pool) redial(s *slot) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		s.redialing = false
		p.mu.Unlock()
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.cfg.ReplenishDelay):
		}

		p.logger.Info("redialing backend slot", "slot", s.index)
		p.mu.Lock()
		s.gen++
		gen := s.gen
		p.mu.Unlock()

		conn, err := p.dial(p.ctx, s.index, p.hooks(s.index, gen))
		if err != nil {
			p.logger.Warn("redial failed", "slot", s.index, "error", err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Disconnect()
			return
		}
		if conn.State() != link.Open || s.gen != gen {
			p.mu.Unlock()
			continue
		}
		s.conn = conn
		s.health = link.Open
		p.counters.redialed++
		if !s.queued && s.session == "" {
			p.avail = append(p.avail, s.index)
			s.queued = true
		}
		p.mu.Unlock()

		p.logger.Info("backend slot restored", "slot", s.index)
		return
	}
}

// Close disconnects every link and stops redials.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.avail = nil
	conns := make([]Conn, 0, len(p.slots))
	for _, s := range p.slots {
		if s.conn != nil {
			conns = append(conns, s.conn)
		}
	}
	p.mu.Unlock()

	p.cancel()
	for _, c := range conns {
		c.Disconnect()
	}
	p.wg.Wait()
}
