// ABOUTME: Per-client session lifecycle: authenticate, bind a pool slot, route audio and results, tear down
// ABOUTME: Also runs the keepalive ping loop and tracks the connection's lifecycle phase

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/asr-gateway/internal/feed"
	"github.com/2389/asr-gateway/internal/link"
	"github.com/2389/asr-gateway/internal/metrics"
	"github.com/2389/asr-gateway/internal/pool"
	"github.com/2389/asr-gateway/internal/session"
)

const (
	writeWait   = 10 * time.Second
	authTimeout = 10 * time.Second
)

// Phase is where a client connection is in its lifecycle.
type Phase int32

const (
	PhaseConnecting Phase = iota
	PhaseAuthenticating
	PhaseRejected
	PhaseBound
	PhaseStreaming
	PhaseIdle
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseRejected:
		return "rejected"
	case PhaseBound:
		return "bound"
	case PhaseStreaming:
		return "streaming"
	case PhaseIdle:
		return "idle"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// clientConn is one client websocket and its session.
type clientConn struct {
	gw     *Gateway
	ws     *websocket.Conn
	sess   *session.State
	remote string
	logger *slog.Logger

	phase    atomic.Int32
	bound    atomic.Bool
	lastPong atomic.Int64

	writeMu sync.Mutex

	stopKeepalive context.CancelFunc
	teardownOnce  sync.Once
}

func (c *clientConn) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *clientConn) setPhase(p Phase) {
	c.phase.Store(int32(p))
}

// transition moves from one phase to another only if the connection is still in from.
func (c *clientConn) transition(from, to Phase) {
	c.phase.CompareAndSwap(int32(from), int32(to))
}

// handleWebsocket upgrades a client connection and runs its session to completion.
func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		g.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := session.New(time.Now())
	c := &clientConn{
		gw:     g,
		ws:     ws,
		sess:   sess,
		remote: r.RemoteAddr,
		logger: g.logger.With("session_id", sess.ID),
	}
	c.setPhase(PhaseConnecting)

	if !g.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer g.untrack(sess.ID)

	c.logger.Info("client connected", "remote", c.remote)
	c.run(r.Header)
}

// run drives the session through authentication, slot binding and the read loop.
func (c *clientConn) run(header http.Header) {
	if !c.authenticate(header) {
		return
	}

	if err := c.gw.sessions.Add(c.sess); err != nil {
		c.logger.Error("registering session", "error", err)
		c.closeWith(websocket.CloseInternalServerErr, "session registration failed")
		return
	}
	if err := c.writeText(ackMessage(c.sess.ID)); err != nil {
		c.logger.Warn("sending session ack", "error", err)
		c.teardown("ack failed")
		return
	}
	c.startKeepalive()

	if !c.bind() {
		return
	}

	reason := c.readLoop()
	c.teardown(reason)
}

// authenticate runs the authorizer. On failure the client gets the fixed notice
// and the socket is closed.
func (c *clientConn) authenticate(header http.Header) bool {
	c.setPhase(PhaseAuthenticating)

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	ident, err := c.gw.auth.Authorize(ctx, header)
	if err != nil {
		c.setPhase(PhaseRejected)
		c.gw.metrics.SessionOpened(metrics.OutcomeUnauthorized)
		c.logger.Warn("client rejected", "remote", c.remote, "error", err)
		if err := c.writeText(msgAuthFailed); err != nil {
			c.logger.Debug("sending auth failure", "error", err)
		}
		c.closeWith(websocket.ClosePolicyViolation, "unauthorized")
		return false
	}

	c.sess.SetAuthenticated()
	c.logger.Info("client authenticated", "subject", ident.Subject, "method", ident.Method)
	return true
}

// bind acquires a backend slot. Exhaustion is terminal for this session.
func (c *clientConn) bind() bool {
	idx, err := c.gw.pool.Acquire(c.sess.ID, c.onBackendMessage)
	if err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) {
			c.gw.metrics.SessionOpened(metrics.OutcomeExhausted)
			c.logger.Warn("no backend slot available")
			if err := c.writeText(msgPoolExhausted); err != nil {
				c.logger.Debug("sending capacity notice", "error", err)
			}
		} else {
			c.logger.Error("acquiring backend slot", "error", err)
		}
		c.teardown("no backend slot")
		return false
	}

	c.sess.BindSlot(idx)
	c.bound.Store(true)
	c.transition(PhaseAuthenticating, PhaseBound)
	c.gw.metrics.SessionOpened(metrics.OutcomeAccepted)
	c.publish(feed.Event{Type: feed.TypeBound, Slot: idx})
	c.logger.Info("session bound", "slot", idx)
	return true
}

// readLoop handles client messages until the socket fails or the session ends.
// It returns the teardown reason.
func (c *clientConn) readLoop() string {
	c.ws.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return nil
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Warn("client read failed", "error", err)
			} else {
				c.logger.Debug("client read ended", "error", err)
			}
			return "client disconnected"
		}

		switch mt {
		case websocket.TextMessage:
			c.handleControl(data)
		case websocket.BinaryMessage:
			if err := c.handleAudio(data); err != nil {
				c.gw.metrics.BackendFailure()
				c.logger.Error("forwarding audio", "error", err)
				if werr := c.writeText(backendDownMessage(err)); werr != nil {
					c.logger.Debug("sending backend failure notice", "error", werr)
				}
				return "backend link down"
			}
		}
	}
}

// handleControl declares a sequence. Malformed messages are dropped.
func (c *clientConn) handleControl(data []byte) {
	ctl, err := parseControl(data, c.sess.ID)
	if err != nil {
		c.logger.Warn("dropping control message", "error", err)
		return
	}

	now := time.Now()
	if !c.sess.DeclareSequence(ctl.SequenceID, ctl.RightText, now) {
		c.logger.Debug("sequence already declared", "sequence_id", ctl.SequenceID)
	}
	c.gw.ledger.opened(c.sess.ID, ctl.SequenceID, ctl.RightText, now)
	c.publish(feed.Event{Type: feed.TypeDeclared, SequenceID: ctl.SequenceID, Text: ctl.RightText, At: now})
}

// handleAudio attributes a frame to the current sequence and forwards it.
// Frames arriving before any declaration are still forwarded, just not counted.
func (c *clientConn) handleAudio(data []byte) error {
	seqID, ok := c.sess.CurrentSequence()
	if ok {
		c.sess.AccumulateBytes(seqID, len(data))
	}

	if err := c.gw.pool.Forward(c.sess.ID, data); err != nil {
		return err
	}

	c.gw.metrics.AudioForwarded(len(data))
	c.transition(PhaseBound, PhaseStreaming)
	c.transition(PhaseIdle, PhaseStreaming)
	if c.gw.config.Database.StoreAudio {
		c.gw.ledger.playback(c.sess.ID, seqID, data)
	}
	return nil
}

// onBackendMessage runs on the slot's dispatch goroutine for every backend message.
// The message is always relayed verbatim; full results are also recorded.
func (c *clientConn) onBackendMessage(msg link.Message) {
	res, err := parseResult(msg.Data)
	if err != nil {
		c.logger.Debug("unparsed backend message", "error", err)
	} else {
		ev := feed.Event{Type: feed.TypeResult, Cmd: res.Cmd, UttID: res.UttID, Text: res.Result}
		if res.UttID != "" {
			ev.SequenceID = c.correlate(res)
		}
		c.publish(ev)
	}

	mt := websocket.TextMessage
	if msg.Type == link.Binary {
		mt = websocket.BinaryMessage
	}
	if err := c.write(mt, msg.Data); err != nil {
		c.logger.Debug("relaying backend message", "error", err)
		return
	}
	c.gw.metrics.ResultRelayed(res.Cmd)
}

// correlate maps a result to its sequence and records full results. It
// returns the sequence id, or 0 when none was pending.
func (c *clientConn) correlate(res result) int {
	seqID, ok := c.sess.CorrelateUtterance(res.UttID)
	if !ok {
		c.logger.Debug("backend result with no sequence", "utt_id", res.UttID, "cmd", res.Cmd)
		return 0
	}
	if res.Cmd != cmdFull {
		return seqID
	}

	joined, ok := c.sess.AppendPrediction(seqID, res.Result)
	if !ok {
		return seqID
	}
	rec, _ := c.sess.Snapshot(seqID)
	duration := session.Duration(rec.ByteCount, c.gw.config.ASR.SampleRate, c.gw.config.Audio.BytesPerSample)

	c.gw.ledger.updated(c.sess.ID, seqID, time.Now(), joined, duration)
	c.transition(PhaseStreaming, PhaseIdle)
	c.logger.Info("full result", "sequence_id", seqID, "utt_id", res.UttID, "duration_ms", duration.Milliseconds())
	return seqID
}

// startKeepalive pings the client every interval until teardown.
func (c *clientConn) startKeepalive() {
	ctx, cancel := context.WithCancel(context.Background())
	c.stopKeepalive = cancel
	c.lastPong.Store(time.Now().UnixNano())
	go c.keepalive(ctx, c.gw.config.Keepalive.Interval, c.gw.config.Keepalive.PongTimeout)
}

// keepalive treats a failed ping or a stale pong as fatal and closes the socket,
// which ends the read loop and tears the session down.
func (c *clientConn) keepalive(ctx context.Context, interval, pongTimeout time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if pongTimeout > 0 {
			since := time.Since(time.Unix(0, c.lastPong.Load()))
			if since > pongTimeout+interval {
				c.logger.Warn("client stopped answering pings", "since_last_pong", since)
				c.closeWith(websocket.CloseGoingAway, "keepalive timeout")
				return
			}
		}

		if err := c.ws.WriteControl(websocket.PingMessage, pingPayload, time.Now().Add(writeWait)); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("keepalive ping failed", "error", err)
			_ = c.ws.Close()
			return
		}
	}
}

func (c *clientConn) publish(ev feed.Event) {
	ev.SessionID = c.sess.ID
	c.gw.feed.Publish(ev)
}

func (c *clientConn) writeText(s string) error {
	return c.write(websocket.TextMessage, []byte(s))
}

// write serializes data frames from the read loop and the backend dispatch goroutine.
func (c *clientConn) write(mt int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(mt, data)
}

// closeWith sends a close frame and closes the socket. Safe to call repeatedly.
func (c *clientConn) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.logger.Debug("sending close frame", "error", err)
	}
	_ = c.ws.Close()
}

// teardown releases everything the session holds. It runs once.
func (c *clientConn) teardown(reason string) {
	c.teardownOnce.Do(func() {
		c.setPhase(PhaseClosing)

		if c.stopKeepalive != nil {
			c.stopKeepalive()
		}

		if c.bound.Load() {
			if err := c.gw.pool.Release(c.sess.ID); err != nil {
				c.logger.Warn("releasing backend slot", "error", err)
			}
			c.sess.BindSlot(0)
		}

		c.gw.sessions.Remove(c.sess.ID)
		c.closeWith(websocket.CloseNormalClosure, "")

		c.setPhase(PhaseClosed)
		c.publish(feed.Event{Type: feed.TypeClosed, Reason: reason})
		c.logger.Info("client disconnected", "reason", reason, "sequences", c.sess.SequenceCount())
	})
}
