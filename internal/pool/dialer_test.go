// ABOUTME: Tests the pool over real websocket links against an in-process backend.
// ABOUTME: Verifies markers reach the backend and results reach the bound handler.

package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/asr-gateway/internal/link"
)

func TestLinkDialer_EndToEnd(t *testing.T) {
	received := make(chan []byte, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
			if len(data) > 1 {
				_ = conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"cmd":"asrfull","uttID":"u1","result":"ok"}`))
			}
		}
	}))
	defer srv.Close()

	uri := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/streamraw/16000"
	p := New(Config{Size: 1}, LinkDialer(uri, testLogger()), testLogger())
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	results := make(chan link.Message, 1)
	_, err := p.Acquire("s1", func(msg link.Message) { results <- msg })
	require.NoError(t, err)
	assert.Equal(t, []byte{StartMarker}, <-received)

	require.NoError(t, p.Forward("s1", []byte("audio")))
	assert.Equal(t, []byte("audio"), <-received)

	select {
	case msg := <-results:
		assert.Equal(t, link.Text, msg.Type)
		assert.Contains(t, string(msg.Data), `"asrfull"`)
	case <-time.After(3 * time.Second):
		t.Fatal("backend result not routed to handler")
	}

	require.NoError(t, p.Release("s1"))
	assert.Equal(t, []byte{EndMarker}, <-received)
	assert.Equal(t, 1, p.Stats().Available)
}

func TestLinkDialer_BackendDown(t *testing.T) {
	p := New(Config{Size: 2}, LinkDialer("ws://127.0.0.1:1/ws/streamraw/16000", testLogger(),
		link.WithHandshakeTimeout(time.Second)), testLogger())
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	st := p.Stats()
	assert.Equal(t, 0, st.Open)
	assert.Equal(t, 2, st.Closed)

	_, err := p.Acquire("s1", noop)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}
