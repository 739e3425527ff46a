// ABOUTME: The fake recognizer: one websocket per gateway slot, results keyed by utterance
// ABOUTME: Partial results every N bytes, a full result on the end-of-stream marker

package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	startMarker byte = 0x00
	endMarker   byte = 0x01
)

type result struct {
	Cmd    string `json:"cmd"`
	UttID  string `json:"uttID"`
	Result string `json:"result"`
}

type engine struct {
	every  int
	full   int
	words  []string
	logger *slog.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (e *engine) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/streamraw/{rate}", e.handleStream)
	return mux
}

func (e *engine) handleStream(w http.ResponseWriter, r *http.Request) {
	rate, err := strconv.Atoi(r.PathValue("rate"))
	if err != nil || rate <= 0 {
		http.Error(w, "bad sample rate", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := e.logger.With("remote", r.RemoteAddr, "rate", rate)
	logger.Info("slot connected")

	st := &stream{every: e.every, full: e.full, words: e.words}
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("slot read failed", "error", err)
			}
			logger.Info("slot disconnected")
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		for _, res := range st.feed(data) {
			payload, err := json.Marshal(res)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Warn("slot write failed", "error", err)
				return
			}
		}
	}
}

// stream tracks one slot's current utterance. A full result is produced on
// the end marker, or once full bytes were heard when full is set.
type stream struct {
	every   int
	full    int
	words   []string
	utt     int
	active  bool
	pending int
	heard   int
	emitted int
}

// feed consumes one binary frame and returns the results it produces.
func (s *stream) feed(data []byte) []result {
	if len(data) == 1 {
		switch data[0] {
		case startMarker:
			s.active = true
			s.next()
			return nil
		case endMarker:
			if !s.active {
				return nil
			}
			s.active = false
			return []result{s.result("asrfull")}
		}
	}
	if !s.active || s.every <= 0 {
		return nil
	}

	var out []result
	s.pending += len(data)
	s.heard += len(data)
	for s.pending >= s.every {
		s.pending -= s.every
		s.emitted++
		out = append(out, s.result("asrpart"))
	}
	if s.full > 0 && s.heard >= s.full {
		out = append(out, s.result("asrfull"))
		s.next()
	}
	return out
}

func (s *stream) next() {
	s.utt++
	s.pending, s.heard, s.emitted = 0, 0, 0
}

func (s *stream) result(cmd string) result {
	return result{Cmd: cmd, UttID: strconv.Itoa(s.utt), Result: s.text()}
}

// text is the words heard so far, one per emitted partial, at least one.
func (s *stream) text() string {
	if len(s.words) == 0 {
		return ""
	}
	n := s.emitted
	if n < 1 {
		n = 1
	}
	out := make([]string, n)
	for i := range out {
		out[i] = s.words[i%len(s.words)]
	}
	return strings.Join(out, " ")
}
