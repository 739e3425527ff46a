// ABOUTME: Drives one gateway session: waits for the acknowledgement, declares a sequence,
// ABOUTME: paces audio frames in real time and reports relayed results until a full one arrives

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/2389/asr-gateway/internal/link"
)

type options struct {
	url            string
	file           string
	text           string
	sequence       int
	sampleRate     int
	bytesPerSample int
	frame          time.Duration
	timeout        time.Duration
	user           string
	password       string
	token          string
	insecure       bool
	verbose        bool
}

// frameBytes is the number of audio bytes in one frame, rounded down to whole samples.
func (o options) frameBytes() int {
	perSecond := o.sampleRate * o.bytesPerSample
	n := int(int64(perSecond) * int64(o.frame) / int64(time.Second))
	n -= n % max(o.bytesPerSample, 1)
	return max(n, max(o.bytesPerSample, 1))
}

// conn is the part of link.Link the player uses.
type conn interface {
	OnMessage(fn func(link.Message))
	SendText(msg string) error
	SendBinary(data []byte) error
	Done() <-chan struct{}
}

type backendResult struct {
	Cmd    string `json:"cmd"`
	UttID  string `json:"uttID"`
	Result string `json:"result"`
}

// errClosed is returned when the gateway closes the session before a full result.
var errClosed = errors.New("gateway closed the session")

type player struct {
	conn     conn
	opts     options
	out      io.Writer
	messages chan link.Message
}

func newPlayer(c conn, o options, out io.Writer) *player {
	p := &player{conn: c, opts: o, out: out, messages: make(chan link.Message, 64)}
	c.OnMessage(func(m link.Message) {
		select {
		case p.messages <- m:
		default:
		}
	})
	return p
}

// parseAck extracts the session id from `0{"session_id": "<id>"}`.
func parseAck(data []byte) (string, error) {
	s := string(data)
	if !strings.HasPrefix(s, "0") {
		return "", fmt.Errorf("unexpected greeting %q", s)
	}
	var ack struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(s[1:]), &ack); err != nil || ack.SessionID == "" {
		return "", fmt.Errorf("unexpected greeting %q", s)
	}
	return ack.SessionID, nil
}

func (p *player) play(ctx context.Context, audio []byte) error {
	sessionID, err := p.awaitAck(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "session %s\n", sessionID)

	declare, err := json.Marshal(map[string]any{
		"right_text":  p.opts.text,
		"session_id":  sessionID,
		"sequence_id": p.opts.sequence,
	})
	if err != nil {
		return err
	}
	if err := p.conn.SendText(string(declare)); err != nil {
		return fmt.Errorf("declaring sequence: %w", err)
	}

	sent := make(chan error, 1)
	go func() { sent <- p.stream(ctx, audio) }()

	for {
		select {
		case err := <-sent:
			if err != nil {
				return err
			}
			sent = nil
		case m := <-p.messages:
			done, err := p.report(m)
			if done || err != nil {
				return err
			}
		case <-p.conn.Done():
			return p.drain()
		case <-ctx.Done():
			return fmt.Errorf("waiting for a full result: %w", ctx.Err())
		}
	}
}

func (p *player) awaitAck(ctx context.Context) (string, error) {
	for {
		select {
		case m := <-p.messages:
			if m.Type != link.Text {
				continue
			}
			return parseAck(m.Data)
		case <-p.conn.Done():
			return "", errClosed
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for acknowledgement: %w", ctx.Err())
		}
	}
}

// stream sends audio one frame per tick.
func (p *player) stream(ctx context.Context, audio []byte) error {
	size := p.opts.frameBytes()
	ticker := time.NewTicker(p.opts.frame)
	defer ticker.Stop()

	for off := 0; off < len(audio); off += size {
		end := min(off+size, len(audio))
		if err := p.conn.SendBinary(audio[off:end]); err != nil {
			return fmt.Errorf("sending audio: %w", err)
		}
		if end == len(audio) {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// drain reports messages that arrived before the close.
func (p *player) drain() error {
	for {
		select {
		case m := <-p.messages:
			if done, _ := p.report(m); done {
				return nil
			}
		default:
			return errClosed
		}
	}
}

// report prints one relayed message and reports whether it was a full result.
func (p *player) report(m link.Message) (bool, error) {
	if m.Type != link.Text {
		fmt.Fprintf(p.out, "binary %d bytes\n", len(m.Data))
		return false, nil
	}
	var r backendResult
	if err := json.Unmarshal(m.Data, &r); err != nil || r.Cmd == "" {
		// Anything else from the gateway is a notice that precedes a close.
		fmt.Fprintf(p.out, "gateway: %s\n", m.Data)
		return false, nil
	}
	fmt.Fprintf(p.out, "%-8s utt=%s %s\n", r.Cmd, r.UttID, r.Result)
	return r.Cmd == "asrfull", nil
}
