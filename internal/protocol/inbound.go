package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned by DecodeInbound for frames whose type tag is
// not part of the protocol. Callers treat it like any other decode error:
// the peer gets an error frame, the connection stays open.
var ErrUnknownType = errors.New("unknown message type")

// Inbound is the closed set of frames a peer may send.
type Inbound interface{ isInbound() }

// Authenticate carries the peer's identity claim. Verification of the claim
// happens upstream; the hub only records it.
type Authenticate struct {
	UserID   string
	UserRole string
}

// Subscribe requests delivery of the named event topics.
type Subscribe struct {
	Events []string
}

// Unsubscribe removes interest in the named event topics.
type Unsubscribe struct {
	Events []string
}

// Ping is an application-level keep-alive; the server echoes the timestamp
// back in a pong frame.
type Ping struct {
	Timestamp int64
}

// Publish is a peer-initiated broadcast to other connections.
type Publish struct {
	EventType   string
	Data        json.RawMessage
	TargetUsers []string
	TargetRoles []string
}

func (Authenticate) isInbound() {}
func (Subscribe) isInbound()    {}
func (Unsubscribe) isInbound()  {}
func (Ping) isInbound()         {}
func (Publish) isInbound()      {}

// DecodeInbound parses a single frame into its typed variant. Any frame that
// does not decode into a known variant is a protocol error.
func DecodeInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch envelope.Type {
	case "authenticate":
		var m struct {
			UserID   string `json:"userId"`
			UserRole string `json:"userRole"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed authenticate frame: %w", err)
		}
		return Authenticate{UserID: m.UserID, UserRole: m.UserRole}, nil

	case "subscribe":
		var m struct {
			Events []string `json:"events"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed subscribe frame: %w", err)
		}
		return Subscribe{Events: m.Events}, nil

	case "unsubscribe":
		var m struct {
			Events []string `json:"events"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed unsubscribe frame: %w", err)
		}
		return Unsubscribe{Events: m.Events}, nil

	case "ping":
		var m struct {
			Timestamp int64 `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed ping frame: %w", err)
		}
		return Ping{Timestamp: m.Timestamp}, nil

	case "broadcast":
		var m struct {
			EventType   string          `json:"eventType"`
			Data        json.RawMessage `json:"data"`
			TargetUsers []string        `json:"targetUsers"`
			TargetRoles []string        `json:"targetRoles"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed broadcast frame: %w", err)
		}
		if m.EventType == "" {
			return nil, errors.New("broadcast frame requires eventType")
		}
		return Publish{EventType: m.EventType, Data: m.Data, TargetUsers: m.TargetUsers, TargetRoles: m.TargetRoles}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
}
