// Package events defines the closed set of domain events raised by the
// platform and the adapter that turns each one into addressed broadcasts.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/prop-ie/realtime/internal/protocol"
)

// Platform role names, as stored by the CRUD platform.
const (
	RoleAdmin               = "ADMIN"
	RoleProjectManager      = "PROJECT_MANAGER"
	RoleDevelopmentPM       = "DEVELOPMENT_PROJECT_MANAGER"
	RoleBuyer               = "BUYER"
	RoleEstateAgent         = "ESTATE_AGENT"
	RoleDeveloper           = "DEVELOPER"
	RoleBuyerSolicitor      = "BUYER_SOLICITOR"
	RoleBuyerMortgageBroker = "BUYER_MORTGAGE_BROKER"
)

// Event is the closed set of domain events this service broadcasts.
type Event interface{ isEvent() }

// TaskChanged is raised when a transaction task is updated or reassigned.
type TaskChanged struct {
	TaskID     string `json:"taskId"`
	AssignedTo string `json:"assignedTo,omitempty"`
	ProjectID  string `json:"projectId,omitempty"`
	TaskTitle  string `json:"taskTitle,omitempty"`
	Status     string `json:"status"`
	Priority   string `json:"priority,omitempty"`
	Progress   int    `json:"progress,omitempty"`
}

// PropertyChanged is raised when a listing's status or price changes.
type PropertyChanged struct {
	PropertyID string  `json:"propertyId"`
	Status     string  `json:"status,omitempty"`
	Price      float64 `json:"price,omitempty"`
	UpdatedBy  string  `json:"updatedBy,omitempty"`
}

// HTBStatusChanged is raised when a buyer's Help-to-Buy claim moves stage.
type HTBStatusChanged struct {
	ClaimID        string  `json:"claimId"`
	BuyerID        string  `json:"buyerId"`
	Status         string  `json:"status"`
	PreviousStatus string  `json:"previousStatus,omitempty"`
	Amount         float64 `json:"amount,omitempty"`
}

// RoleAssignmentChanged is raised when a user's role assignment is
// requested, approved, rejected, or updated.
type RoleAssignmentChanged struct {
	UserID   string `json:"userId"`
	RoleType string `json:"roleType"`
	Action   string `json:"action"`
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (TaskChanged) isEvent()           {}
func (PropertyChanged) isEvent()       {}
func (HTBStatusChanged) isEvent()      {}
func (RoleAssignmentChanged) isEvent() {}

// Broadcaster is the slice of the hub the adapter needs.
type Broadcaster interface {
	ToUsers(userIDs []string, eventType string, payload json.RawMessage)
	ToRoles(roles []string, eventType string, payload json.RawMessage)
}

// Adapter maps each domain event onto its fixed targeting rule. It is a
// stateless translator: it never touches the registry, only the dispatcher.
type Adapter struct {
	hub Broadcaster
}

func NewAdapter(hub Broadcaster) *Adapter {
	return &Adapter{hub: hub}
}

// Handle translates one domain event into its broadcast calls.
func (a *Adapter) Handle(event Event) error {
	switch e := event.(type) {
	case TaskChanged:
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode task event: %w", err)
		}
		if e.AssignedTo != "" {
			a.hub.ToUsers([]string{e.AssignedTo}, protocol.TypeTaskUpdate, payload)
		}
		a.hub.ToRoles([]string{RoleAdmin, RoleProjectManager, RoleDevelopmentPM}, protocol.TypeTaskUpdate, payload)
		return nil

	case PropertyChanged:
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode property event: %w", err)
		}
		a.hub.ToRoles([]string{RoleBuyer, RoleEstateAgent, RoleDeveloper, RoleAdmin}, protocol.TypePropertyUpdate, payload)
		return nil

	case HTBStatusChanged:
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode htb event: %w", err)
		}
		a.hub.ToUsers([]string{e.BuyerID}, protocol.TypeHTBStatusChange, payload)
		a.hub.ToRoles([]string{RoleBuyerSolicitor, RoleBuyerMortgageBroker, RoleAdmin}, protocol.TypeHTBStatusChange, payload)
		return nil

	case RoleAssignmentChanged:
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode role assignment event: %w", err)
		}
		a.hub.ToUsers([]string{e.UserID}, protocol.TypeNotification, payload)
		return nil

	default:
		return fmt.Errorf("unhandled event type %T", event)
	}
}
