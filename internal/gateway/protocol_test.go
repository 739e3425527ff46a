package gateway

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckMessage(t *testing.T) {
	assert.Equal(t, `0{"session_id": "abc-123"}`, ackMessage("abc-123"))
}

func TestBackendDownMessage(t *testing.T) {
	msg := backendDownMessage(errors.New("slot 2: backend link is down"))
	assert.Equal(t, "ASR websocket is not open. Disconnect from client: slot 2: backend link is down", msg)
}

func TestParseControl(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    control
		wantErr string
	}{
		{
			name:  "valid",
			input: `{"right_text":"hello","session_id":"s1","sequence_id":3}`,
			want:  control{RightText: "hello", SessionID: "s1", SequenceID: 3},
		},
		{
			name:  "empty text is allowed",
			input: `{"right_text":"","session_id":"s1","sequence_id":0}`,
			want:  control{SessionID: "s1"},
		},
		{
			name:  "extra fields ignored",
			input: `{"right_text":"a","session_id":"s1","sequence_id":1,"lang":"en"}`,
			want:  control{RightText: "a", SessionID: "s1", SequenceID: 1},
		},
		{name: "missing sequence", input: `{"right_text":"a","session_id":"s1"}`, wantErr: "sequence_id"},
		{name: "missing text", input: `{"session_id":"s1","sequence_id":1}`, wantErr: "right_text"},
		{name: "missing session", input: `{"right_text":"a","sequence_id":1}`, wantErr: "session_id"},
		{name: "other session", input: `{"right_text":"a","session_id":"s2","sequence_id":1}`, wantErr: "does not match"},
		{name: "not json", input: `hello`, wantErr: "malformed"},
		{name: "wrong type", input: `{"right_text":"a","session_id":"s1","sequence_id":"1"}`, wantErr: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseControl([]byte(tt.input), "s1")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedControl)
				assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResult(t *testing.T) {
	r, err := parseResult([]byte(`{"cmd":"asrfull","uttID":"u1","result":"hi","confidence":0.9}`))
	require.NoError(t, err)
	assert.Equal(t, result{Cmd: "asrfull", UttID: "u1", Result: "hi"}, r)

	_, err = parseResult([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "connecting", PhaseConnecting.String())
	assert.Equal(t, "streaming", PhaseStreaming.String())
	assert.Equal(t, "closed", PhaseClosed.String())
	assert.Equal(t, "unknown", Phase(99).String())
}
