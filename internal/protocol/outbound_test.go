package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthSuccess(t *testing.T) {
	frame := AuthSuccess("buyer-1", "BUYER")
	assert.JSONEq(t, `{"type":"auth_success","userId":"buyer-1","userRole":"BUYER"}`, string(frame))
}

func TestAuthError(t *testing.T) {
	frame := AuthError("authentication required")
	assert.JSONEq(t, `{"type":"auth_error","error":"authentication required"}`, string(frame))
}

func TestSubscriptionConfirmed(t *testing.T) {
	frame := SubscriptionConfirmed([]string{"property_update", "task_update"})
	assert.JSONEq(t, `{"type":"subscription_confirmed","events":["property_update","task_update"]}`, string(frame))
}

func TestUnsubscriptionConfirmed_Empty(t *testing.T) {
	frame := UnsubscriptionConfirmed([]string{})
	assert.JSONEq(t, `{"type":"unsubscription_confirmed","events":[]}`, string(frame))
}

func TestPong(t *testing.T) {
	frame := Pong(1735689600000)
	assert.JSONEq(t, `{"type":"pong","timestamp":1735689600000}`, string(frame))
}

func TestError(t *testing.T) {
	frame := Error("broadcast rate limit exceeded")
	assert.JSONEq(t, `{"type":"error","message":"broadcast rate limit exceeded"}`, string(frame))
}

func TestBroadcastEncode(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := Broadcast{
		MessageType: TypeTaskUpdate,
		EventType:   TypeTaskUpdate,
		Payload:     json.RawMessage(`{"taskId":"t-1","status":"done"}`),
		Timestamp:   ts,
		TargetUsers: []string{"u-1"},
	}

	data, err := msg.Encode()
	require.NoError(t, err)

	var decoded struct {
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp int64           `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "task_update", decoded.Type)
	assert.JSONEq(t, `{"taskId":"t-1","status":"done"}`, string(decoded.Data))
	assert.Equal(t, ts.UnixMilli(), decoded.Timestamp)
}

func TestBroadcastEncode_TargetsNotOnWire(t *testing.T) {
	// Targeting metadata drives delivery filtering and must never leak to
	// the receiving peer.
	msg := Broadcast{
		MessageType: TypeNotification,
		Payload:     json.RawMessage(`{"title":"hi"}`),
		Timestamp:   time.Now(),
		TargetUsers: []string{"u-1", "u-2"},
		TargetRoles: []string{"ADMIN"},
	}

	data, err := msg.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "targetUsers")
	assert.NotContains(t, decoded, "targetRoles")
	assert.NotContains(t, decoded, "eventType")
}

func TestBroadcastEncode_EmptyPayloadOmitted(t *testing.T) {
	msg := Broadcast{MessageType: TypePong, Timestamp: time.Now()}

	data, err := msg.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "data")
}
