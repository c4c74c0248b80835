package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prop-ie/realtime/internal/events"
)

// captureBroadcaster records dispatch calls from the adapter.
type captureBroadcaster struct {
	mu      sync.Mutex
	toUsers [][]string
	toRoles [][]string
	signal  chan struct{}
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{signal: make(chan struct{}, 16)}
}

func (c *captureBroadcaster) ToUsers(userIDs []string, eventType string, payload json.RawMessage) {
	c.mu.Lock()
	c.toUsers = append(c.toUsers, userIDs)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *captureBroadcaster) ToRoles(roles []string, eventType string, payload json.RawMessage) {
	c.mu.Lock()
	c.toRoles = append(c.toRoles, roles)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func testSubscriber(t *testing.T) (*miniredis.Miniredis, *captureBroadcaster) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	capture := newCaptureBroadcaster()
	subscriber := NewSubscriber(client, events.NewAdapter(capture), "realtime:events")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go subscriber.Start(ctx)

	// Wait for the subscription to register before publishing.
	require.Eventually(t, func() bool {
		return mr.Publish("realtime:events", `{"kind":"nope","payload":{}}`) > 0
	}, 2*time.Second, 5*time.Millisecond)

	return mr, capture
}

func TestSubscriber_DeliversEvent(t *testing.T) {
	mr, capture := testSubscriber(t)

	envelope := `{"kind":"role_assignment_changed","payload":{"userId":"u-1","roleType":"DEVELOPER","action":"approved"}}`
	require.Equal(t, 1, mr.Publish("realtime:events", envelope))

	select {
	case <-capture.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.toUsers, 1)
	assert.Equal(t, []string{"u-1"}, capture.toUsers[0])
}

func TestSubscriber_SkipsMalformedEnvelopes(t *testing.T) {
	mr, capture := testSubscriber(t)

	// Neither frame decodes; the subscriber must survive both.
	require.Equal(t, 1, mr.Publish("realtime:events", `not json at all`))
	require.Equal(t, 1, mr.Publish("realtime:events", `{"kind":"task_changed","payload":{"status":"DONE"}}`))

	envelope := `{"kind":"property_changed","payload":{"propertyId":"p-1","status":"SOLD"}}`
	require.Equal(t, 1, mr.Publish("realtime:events", envelope))

	select {
	case <-capture.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}

	capture.mu.Lock()
	defer capture.mu.Unlock()
	assert.Empty(t, capture.toUsers)
	require.Len(t, capture.toRoles, 1)
	assert.Contains(t, capture.toRoles[0], events.RoleBuyer)
}

func TestSubscriber_StopsOnContextCancel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	subscriber := NewSubscriber(client, events.NewAdapter(newCaptureBroadcaster()), "realtime:events")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		subscriber.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop on context cancellation")
	}
}
