// Package gateway is the client-facing side of asr-gateway.
//
// # Overview
//
// The gateway accepts one websocket per client, authorizes it, binds it to a
// backend slot from the pool and relays traffic in both directions until
// either side goes away. It owns the HTTP server, the optional gRPC health
// server and, when enabled, the Tailscale node it listens on.
//
// # Session lifecycle
//
// Every connection moves through these phases:
//
//	connecting -> authenticating -> rejected
//	                             -> bound -> streaming <-> idle
//	bound | streaming | idle -> closing -> closed
//
// A rejected client receives "Fail to authenticate user. Closing socket
// connection." and is closed without touching the pool. An authorized client
// receives an acknowledgement of the form
//
//	0{"session_id": "<uuid>"}
//
// and is then bound to a slot. When no slot is open the client receives the
// capacity notice and is closed; sessions are never queued.
//
// # Client protocol
//
// Text frames declare the next audio sequence:
//
//	{"right_text": "hello", "session_id": "<uuid>", "sequence_id": 1}
//
// Messages missing a field, or naming another session, are dropped. Binary
// frames carry raw PCM and are attributed to the current sequence, then
// forwarded to the bound slot. Backend results are relayed verbatim; results
// with cmd "asrfull" are also appended to the sequence's predictions and
// written to the ledger together with the stream duration.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - 503 unless a slot is available for a new session
//   - GET /api/pool - Pool stats and per-slot state
//   - GET /api/sessions - Live sessions with their phase
//   - GET /api/events - Server-sent events for every session
//   - GET /api/sessions/{id}/events - Server-sent events for one session
//   - GET <metrics.path> - Prometheus metrics, when enabled
//
// # Keepalive
//
// Each session pings its client every keepalive.interval with payload
// {2, 3}. A failed ping, or no pong within keepalive.pong_timeout when that
// is set, closes the socket.
package gateway
