// ABOUTME: Client and backend wire formats: ack, control messages, backend results and fixed notices
// ABOUTME: Parsing is strict for control messages and lenient for backend results, which are relayed verbatim

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Fixed client notices.
const (
	msgAuthFailed     = "Fail to authenticate user. Closing socket connection."
	msgPoolExhausted  = "No available ASR socket at the moment. Please try again later.."
	msgBackendDownFmt = "ASR websocket is not open. Disconnect from client: %v"
)

// cmdFull marks a terminal recognition result for an utterance.
const cmdFull = "asrfull"

// pingPayload is carried by every keepalive ping.
var pingPayload = []byte{2, 3}

// ErrMalformedControl indicates a text message that is not a usable control message.
var ErrMalformedControl = errors.New("malformed control message")

// ackMessage is sent once a client is authorized.
func ackMessage(sessionID string) string {
	return fmt.Sprintf(`0{"session_id": "%s"}`, sessionID)
}

// backendDownMessage tells the client its backend link failed.
func backendDownMessage(cause error) string {
	return fmt.Sprintf(msgBackendDownFmt, cause)
}

// control declares an upcoming audio sequence.
type control struct {
	RightText  string
	SessionID  string
	SequenceID int
}

type rawControl struct {
	RightText  *string `json:"right_text"`
	SessionID  *string `json:"session_id"`
	SequenceID *int    `json:"sequence_id"`
}

// parseControl decodes a control message. All three fields are required and
// the session id must match the connection's own.
func parseControl(data []byte, sessionID string) (control, error) {
	var raw rawControl
	if err := json.Unmarshal(data, &raw); err != nil {
		return control{}, fmt.Errorf("%w: %w", ErrMalformedControl, err)
	}

	var missing []string
	if raw.RightText == nil {
		missing = append(missing, "right_text")
	}
	if raw.SessionID == nil {
		missing = append(missing, "session_id")
	}
	if raw.SequenceID == nil {
		missing = append(missing, "sequence_id")
	}
	if len(missing) > 0 {
		return control{}, fmt.Errorf("%w: missing %v", ErrMalformedControl, missing)
	}
	if *raw.SessionID != sessionID {
		return control{}, fmt.Errorf("%w: session_id %q does not match connection", ErrMalformedControl, *raw.SessionID)
	}

	return control{
		RightText:  *raw.RightText,
		SessionID:  *raw.SessionID,
		SequenceID: *raw.SequenceID,
	}, nil
}

// result is the part of a backend message the gateway inspects.
type result struct {
	Cmd    string `json:"cmd"`
	UttID  string `json:"uttID"`
	Result string `json:"result"`
}

func parseResult(data []byte) (result, error) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil {
		return result{}, fmt.Errorf("decoding backend result: %w", err)
	}
	return r, nil
}
