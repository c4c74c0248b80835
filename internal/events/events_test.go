package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type broadcastCall struct {
	targets   []string
	eventType string
	payload   json.RawMessage
}

// captureBroadcaster records dispatch calls instead of delivering them.
type captureBroadcaster struct {
	toUsers []broadcastCall
	toRoles []broadcastCall
}

func (c *captureBroadcaster) ToUsers(userIDs []string, eventType string, payload json.RawMessage) {
	c.toUsers = append(c.toUsers, broadcastCall{targets: userIDs, eventType: eventType, payload: payload})
}

func (c *captureBroadcaster) ToRoles(roles []string, eventType string, payload json.RawMessage) {
	c.toRoles = append(c.toRoles, broadcastCall{targets: roles, eventType: eventType, payload: payload})
}

func TestAdapter_TaskChanged(t *testing.T) {
	hub := &captureBroadcaster{}
	adapter := NewAdapter(hub)

	err := adapter.Handle(TaskChanged{TaskID: "t-1", AssignedTo: "u-7", Status: "IN_PROGRESS", Progress: 40})
	require.NoError(t, err)

	require.Len(t, hub.toUsers, 1)
	assert.Equal(t, []string{"u-7"}, hub.toUsers[0].targets)
	assert.Equal(t, "task_update", hub.toUsers[0].eventType)
	assert.Contains(t, string(hub.toUsers[0].payload), `"taskId":"t-1"`)

	require.Len(t, hub.toRoles, 1)
	assert.Equal(t, []string{RoleAdmin, RoleProjectManager, RoleDevelopmentPM}, hub.toRoles[0].targets)
	assert.Equal(t, "task_update", hub.toRoles[0].eventType)
}

func TestAdapter_TaskChangedUnassigned(t *testing.T) {
	hub := &captureBroadcaster{}
	adapter := NewAdapter(hub)

	err := adapter.Handle(TaskChanged{TaskID: "t-1", Status: "PENDING"})
	require.NoError(t, err)

	// No assignee, so only the oversight roles are notified.
	assert.Empty(t, hub.toUsers)
	require.Len(t, hub.toRoles, 1)
}

func TestAdapter_PropertyChanged(t *testing.T) {
	hub := &captureBroadcaster{}
	adapter := NewAdapter(hub)

	err := adapter.Handle(PropertyChanged{PropertyID: "p-3", Status: "SOLD", Price: 425000})
	require.NoError(t, err)

	assert.Empty(t, hub.toUsers)
	require.Len(t, hub.toRoles, 1)
	assert.Equal(t, []string{RoleBuyer, RoleEstateAgent, RoleDeveloper, RoleAdmin}, hub.toRoles[0].targets)
	assert.Equal(t, "property_update", hub.toRoles[0].eventType)
	assert.Contains(t, string(hub.toRoles[0].payload), `"propertyId":"p-3"`)
}

func TestAdapter_HTBStatusChanged(t *testing.T) {
	hub := &captureBroadcaster{}
	adapter := NewAdapter(hub)

	err := adapter.Handle(HTBStatusChanged{ClaimID: "c-1", BuyerID: "buyer-9", Status: "APPROVED", PreviousStatus: "SUBMITTED"})
	require.NoError(t, err)

	require.Len(t, hub.toUsers, 1)
	assert.Equal(t, []string{"buyer-9"}, hub.toUsers[0].targets)
	assert.Equal(t, "htb_status_change", hub.toUsers[0].eventType)

	require.Len(t, hub.toRoles, 1)
	assert.Equal(t, []string{RoleBuyerSolicitor, RoleBuyerMortgageBroker, RoleAdmin}, hub.toRoles[0].targets)
}

func TestAdapter_RoleAssignmentChanged(t *testing.T) {
	hub := &captureBroadcaster{}
	adapter := NewAdapter(hub)

	err := adapter.Handle(RoleAssignmentChanged{UserID: "u-4", RoleType: "ESTATE_AGENT", Action: "approved"})
	require.NoError(t, err)

	require.Len(t, hub.toUsers, 1)
	assert.Equal(t, []string{"u-4"}, hub.toUsers[0].targets)
	assert.Equal(t, "notification", hub.toUsers[0].eventType)

	// Role assignment changes are personal; no role-wide fan-out.
	assert.Empty(t, hub.toRoles)
}
