// ABOUTME: Duplex websocket link with chunked sends, reassembled receives and lifecycle callbacks.
// ABOUTME: Used for backend ASR connections and by the playback harness to drive the gateway.

package link

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultFrameSize is the largest payload sent in a single websocket frame.
const DefaultFrameSize = 4096

// ErrNotOpen is returned when sending on a link that is not Open.
var ErrNotOpen = errors.New("link is not open")

// ErrAlreadyStarted is returned by Open when the link was already opened once.
var ErrAlreadyStarted = errors.New("link already started")

// State is the connection status of a Link.
type State int32

const (
	Unconnected State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MessageType distinguishes text from binary payloads.
type MessageType int

const (
	Text   MessageType = websocket.TextMessage
	Binary MessageType = websocket.BinaryMessage
)

func (t MessageType) String() string {
	if t == Binary {
		return "binary"
	}
	return "text"
}

// Message is one complete inbound message.
type Message struct {
	Type MessageType
	Data []byte
}

// Option configures a Link.
type Option func(*Link)

// WithHeader sets headers sent with the opening handshake.
func WithHeader(h http.Header) Option {
	return func(l *Link) { l.header = h.Clone() }
}

// WithTLSConfig sets the TLS configuration used for wss URIs.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(l *Link) { l.dialer.TLSClientConfig = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Link) { l.logger = logger }
}

// WithFrameSize sets the maximum outbound frame payload.
func WithFrameSize(n int) Option {
	return func(l *Link) {
		if n > 0 {
			l.frameSize = n
		}
	}
}

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(l *Link) { l.dialer.HandshakeTimeout = d }
}

// WithWriteTimeout bounds each outbound message.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Link) { l.writeTimeout = d }
}

// Link is one persistent websocket connection.
type Link struct {
	uri          string
	header       http.Header
	dialer       *websocket.Dialer
	frameSize    int
	writeTimeout time.Duration
	logger       *slog.Logger

	state   atomic.Int32
	started atomic.Bool
	conn    *websocket.Conn
	writeMu sync.Mutex

	cbMu         sync.RWMutex
	onMessage    func(Message)
	onConnect    func(*Link)
	onDisconnect func(*Link)

	events    *dispatcher
	closeOnce sync.Once
	done      chan struct{}
}

// New creates an unconnected Link to uri.
func New(uri string, opts ...Option) *Link {
	l := &Link{
		uri: uri,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		frameSize:    DefaultFrameSize,
		writeTimeout: 10 * time.Second,
		logger:       slog.Default(),
		events:       newDispatcher(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.dialer.WriteBufferSize = l.frameSize
	l.logger = l.logger.With("uri", uri)
	return l
}

// URI returns the address the link connects to.
func (l *Link) URI() string { return l.uri }

// State returns the current connection status.
func (l *Link) State() State { return State(l.state.Load()) }

// Done is closed once the link reaches Closed.
func (l *Link) Done() <-chan struct{} { return l.done }

// OnMessage registers the inbound message callback.
func (l *Link) OnMessage(fn func(Message)) {
	l.cbMu.Lock()
	l.onMessage = fn
	l.cbMu.Unlock()
}

// OnConnect registers the callback fired once the link is Open.
func (l *Link) OnConnect(fn func(*Link)) {
	l.cbMu.Lock()
	l.onConnect = fn
	l.cbMu.Unlock()
}

// OnDisconnect registers the callback fired when the link closes.
func (l *Link) OnDisconnect(fn func(*Link)) {
	l.cbMu.Lock()
	l.onDisconnect = fn
	l.cbMu.Unlock()
}

// Connect opens the link in the background. Failures are logged.
func (l *Link) Connect(ctx context.Context) {
	go func() {
		if err := l.Open(ctx); err != nil {
			l.logger.Error("link connect failed", "error", err)
		}
	}()
}

// Open dials the URI and starts the receive loop. A link can be opened once;
// a failed dial leaves it Closed.
func (l *Link) Open(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	conn, resp, err := l.dialer.DialContext(ctx, l.uri, l.header)
	if err != nil {
		l.state.Store(int32(Closed))
		l.closeOnce.Do(func() { close(l.done) })
		if resp != nil {
			return fmt.Errorf("dialing %s: %w (status %d)", l.uri, err, resp.StatusCode)
		}
		return fmt.Errorf("dialing %s: %w", l.uri, err)
	}

	l.conn = conn
	l.state.Store(int32(Open))
	go l.events.run(l.logger)

	l.cbMu.RLock()
	onConnect := l.onConnect
	l.cbMu.RUnlock()
	if onConnect != nil {
		l.events.push(func() { onConnect(l) })
	}

	l.logger.Debug("link open")
	go l.readLoop()
	return nil
}

// SendText sends a UTF-8 text message.
func (l *Link) SendText(msg string) error {
	return l.send(websocket.TextMessage, []byte(msg))
}

// SendBinary sends a binary message.
func (l *Link) SendBinary(data []byte) error {
	return l.send(websocket.BinaryMessage, data)
}

func (l *Link) send(messageType int, data []byte) error {
	if l.State() != Open {
		return ErrNotOpen
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.writeChunked(messageType, data); err != nil {
		l.terminate(err)
		return fmt.Errorf("sending %d bytes: %w", len(data), err)
	}
	return nil
}

// writeChunked writes data as one message. The writer flushes a non-final
// frame each time its frameSize buffer fills and the final frame on Close.
func (l *Link) writeChunked(messageType int, data []byte) error {
	if l.writeTimeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}

	w, err := l.conn.NextWriter(messageType)
	if err != nil {
		return err
	}
	for off := 0; off < len(data); off += l.frameSize {
		end := min(off+l.frameSize, len(data))
		if _, err := w.Write(data[off:end]); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}

// Disconnect performs a graceful close. It is a logged no-op unless the link
// is Open.
func (l *Link) Disconnect() {
	if l.State() != Open {
		l.logger.Debug("disconnect on link that is not open", "state", l.State())
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		l.terminate(err)
		return
	}

	// The read loop finishes the handshake when the peer echoes the close.
	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		l.terminate(errors.New("close handshake timed out"))
	}
}

func (l *Link) readLoop() {
	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			l.terminate(err)
			return
		}

		l.cbMu.RLock()
		onMessage := l.onMessage
		l.cbMu.RUnlock()
		if onMessage == nil {
			continue
		}

		msg := Message{Type: MessageType(messageType), Data: data}
		l.events.push(func() { onMessage(msg) })
	}
}

// terminate moves the link to Closed and schedules the disconnect callback.
func (l *Link) terminate(cause error) {
	l.closeOnce.Do(func() {
		l.state.Store(int32(Closed))
		_ = l.conn.Close()
		close(l.done)

		if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			l.logger.Warn("link closed", "error", cause)
		} else {
			l.logger.Debug("link closed")
		}

		l.cbMu.RLock()
		onDisconnect := l.onDisconnect
		l.cbMu.RUnlock()
		l.events.closeWith(func() {
			if onDisconnect != nil {
				onDisconnect(l)
			}
		})
	})
}
