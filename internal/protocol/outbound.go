package protocol

import (
	"encoding/json"
	"time"
)

// Message type tags sent to peers.
const (
	TypeAuthSuccess             = "auth_success"
	TypeAuthError               = "auth_error"
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypePong                    = "pong"
	TypeError                   = "error"

	TypeTaskUpdate      = "task_update"
	TypePropertyUpdate  = "property_update"
	TypeHTBStatusChange = "htb_status_change"
	TypeNotification    = "notification"
)

// AuthSuccess confirms the handshake, echoing the recorded identity.
func AuthSuccess(userID, userRole string) []byte {
	return mustMarshal(struct {
		Type     string `json:"type"`
		UserID   string `json:"userId"`
		UserRole string `json:"userRole"`
	}{TypeAuthSuccess, userID, userRole})
}

// AuthError reports a failed handshake or an unauthenticated request.
func AuthError(reason string) []byte {
	return mustMarshal(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{TypeAuthError, reason})
}

// SubscriptionConfirmed replies with the connection's full current
// subscription set, not the delta, so clients can reconcile deterministically.
func SubscriptionConfirmed(events []string) []byte {
	return mustMarshal(struct {
		Type   string   `json:"type"`
		Events []string `json:"events"`
	}{TypeSubscriptionConfirmed, events})
}

// UnsubscriptionConfirmed replies with the full remaining subscription set.
func UnsubscriptionConfirmed(events []string) []byte {
	return mustMarshal(struct {
		Type   string   `json:"type"`
		Events []string `json:"events"`
	}{TypeUnsubscriptionConfirmed, events})
}

// Pong echoes the peer's ping timestamp.
func Pong(timestamp int64) []byte {
	return mustMarshal(struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}{TypePong, timestamp})
}

// Error reports a protocol error on the offending connection only.
func Error(message string) []byte {
	return mustMarshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{TypeError, message})
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All outbound control structs are flat string/int/slice fields;
		// marshalling them cannot fail.
		panic(err)
	}
	return data
}

// Broadcast is a domain message queued for fan-out. It is ephemeral:
// constructed, dispatched, discarded.
//
// EventType drives topic filtering and may be empty for addressed-only
// messages (built by the ToUsers/ToRoles paths), in which case targeting
// alone decides delivery. When both EventType and targets are present, all
// checks must pass.
type Broadcast struct {
	MessageType string
	EventType   string
	Payload     json.RawMessage
	Timestamp   time.Time
	TargetUsers []string
	TargetRoles []string
}

// Encode serializes the frame pushed to matching peers.
func (b Broadcast) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data,omitempty"`
		Timestamp int64           `json:"timestamp"`
	}{b.MessageType, b.Payload, b.Timestamp.UnixMilli()})
}
