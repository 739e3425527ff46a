// ABOUTME: HTTP routes: client websocket endpoint, health probes and JSON views of pool and sessions
// ABOUTME: Live session events stream as server-sent events; metrics are mounted when enabled

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/2389/asr-gateway/internal/feed"
	"github.com/2389/asr-gateway/internal/pool"
)

// eventHeartbeat keeps idle event streams from being reaped by proxies.
const eventHeartbeat = 30 * time.Second

// PoolResponse is returned by GET /api/pool.
type PoolResponse struct {
	Stats pool.Stats      `json:"stats"`
	Slots []pool.SlotInfo `json:"slots"`
}

// SessionInfo is one entry of GET /api/sessions.
type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	RemoteAddr    string    `json:"remote_addr"`
	CreatedAt     time.Time `json:"created_at"`
	Authenticated bool      `json:"authenticated"`
	Slot          int       `json:"slot,omitempty"`
	Sequences     int       `json:"sequences"`
	Pending       []int     `json:"pending,omitempty"`
}

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("GET /api/pool", g.handlePool)
	mux.HandleFunc("GET /api/sessions", g.handleSessions)
	mux.HandleFunc("GET /api/events", g.handleEvents)
	mux.HandleFunc("GET /api/sessions/{id}/events", g.handleEvents)
	if g.metrics != nil {
		mux.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}
	mux.HandleFunc(g.config.Server.Path, g.handleWebsocket)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if a new session could be admitted right now.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	st := g.pool.Stats()
	if st.Available == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "no backend slot available (%d/%d open, %d bound)", st.Open, st.Size, st.Bound)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d of %d slots available)", st.Available, st.Size)
}

func (g *Gateway) handlePool(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, PoolResponse{
		Stats: g.pool.Stats(),
		Slots: g.pool.Slots(),
	})
}

func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	conns := g.connections()
	out := make([]SessionInfo, 0, len(conns))
	for _, c := range conns {
		slot, _ := c.sess.Slot()
		out = append(out, SessionInfo{
			SessionID:     c.sess.ID,
			State:         c.Phase().String(),
			RemoteAddr:    c.remote,
			CreatedAt:     c.sess.CreatedAt,
			Authenticated: c.sess.Authenticated(),
			Slot:          slot,
			Sequences:     c.sess.SequenceCount(),
			Pending:       c.sess.PendingSequences(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	g.writeJSON(w, http.StatusOK, out)
}

// handleEvents streams feed events for one session, or for all sessions when
// no id is in the path. A single-session stream ends after its closed event.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("id")
	if key == "" {
		key = feed.All
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events, _ := g.feed.Subscribe(r.Context(), key)
	if key != feed.All {
		if _, live := g.sessions.Get(key); !live {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": subscribed to %s\n\n", key)
	flusher.Flush()

	heartbeat := time.NewTicker(eventHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				g.logger.Error("encoding session event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
			if key != feed.All && ev.Type == feed.TypeClosed {
				return
			}
		}
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("encoding response", "error", err)
	}
}
