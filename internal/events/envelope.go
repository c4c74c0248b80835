package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event kinds as carried on the wire by the HTTP and Redis bridges.
const (
	KindTaskChanged           = "task_changed"
	KindPropertyChanged       = "property_changed"
	KindHTBStatusChanged      = "htb_status_changed"
	KindRoleAssignmentChanged = "role_assignment_changed"
)

// ErrUnknownKind is returned for envelopes whose kind is not part of the
// closed event set.
var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the wire form the platform publishes:
// {"kind":"task_changed","payload":{...}}.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses a published envelope into its typed event.
func DecodeEnvelope(data []byte) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed event envelope: %w", err)
	}
	return envelope.Decode()
}

// Decode parses the envelope's payload into its typed event.
func (e Envelope) Decode() (Event, error) {
	return decodePayload(e.Kind, e.Payload)
}

func decodePayload(kind string, payload json.RawMessage) (Event, error) {
	switch kind {
	case KindTaskChanged:
		var e TaskChanged
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", kind, err)
		}
		if e.TaskID == "" {
			return nil, fmt.Errorf("%s payload requires taskId", kind)
		}
		return e, nil

	case KindPropertyChanged:
		var e PropertyChanged
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", kind, err)
		}
		if e.PropertyID == "" {
			return nil, fmt.Errorf("%s payload requires propertyId", kind)
		}
		return e, nil

	case KindHTBStatusChanged:
		var e HTBStatusChanged
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", kind, err)
		}
		if e.BuyerID == "" {
			return nil, fmt.Errorf("%s payload requires buyerId", kind)
		}
		return e, nil

	case KindRoleAssignmentChanged:
		var e RoleAssignmentChanged
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", kind, err)
		}
		if e.UserID == "" {
			return nil, fmt.Errorf("%s payload requires userId", kind)
		}
		return e, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
