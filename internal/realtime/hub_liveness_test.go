package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHubWithClock wires a hub onto a fake clock so the liveness sweep can be
// driven deterministically. The fake clock starts at wall time because write
// deadlines derive from it.
func testHubWithClock(t *testing.T, opts Options) (*Hub, *clockwork.FakeClock, *ws.Conn) {
	t.Helper()

	fakeClock := clockwork.NewFakeClockAt(time.Now())
	hub := NewHub(fakeClock, opts)
	t.Cleanup(func() { hub.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		id, err := hub.Register(conn, r.RemoteAddr, "", "")
		if err != nil {
			t.Errorf("register failed: %v", err)
			return
		}
		go func() {
			defer hub.Remove(id)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(func() { server.Close() })

	// Both hub tickers must be armed before the clock is advanced.
	fakeClock.BlockUntil(2)

	conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.True(t, waitForConnections(hub, 1))

	return hub, fakeClock, conn
}

func TestHub_LivenessProbesSilentConnection(t *testing.T) {
	hub, fakeClock, conn := testHubWithClock(t, Options{
		PingInterval: 30 * time.Second,
		EvictAfter:   60 * time.Second,
	})

	pingReceived := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pingReceived <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	fakeClock.Advance(30 * time.Second)

	select {
	case <-pingReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a liveness probe after one ping interval of silence")
	}

	// Probed but not yet evicted.
	assert.Equal(t, 1, hub.Stats().TotalConnections)
}

func TestHub_LivenessEvictsSilentConnection(t *testing.T) {
	hub, fakeClock, conn := testHubWithClock(t, Options{
		PingInterval: 30 * time.Second,
		EvictAfter:   60 * time.Second,
	})

	fakeClock.Advance(61 * time.Second)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	if closeErr, ok := err.(*ws.CloseError); ok {
		assert.Equal(t, ws.ClosePolicyViolation, closeErr.Code)
		assert.Contains(t, closeErr.Text, "liveness timeout")
	}

	require.True(t, waitForConnections(hub, 0))
}

func TestHub_TouchDefersEviction(t *testing.T) {
	hub, fakeClock, conn := testHubWithClock(t, Options{
		PingInterval: 30 * time.Second,
		EvictAfter:   60 * time.Second,
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	infos := hub.Snapshot()
	require.Len(t, infos, 1)
	id := infos[0].ID

	// Activity at +40s resets the silence window, so the sweep at +60s
	// must not evict.
	fakeClock.Advance(40 * time.Second)
	hub.Touch(id)
	waitForLastSeenAfter(t, hub, id, fakeClock.Now().Add(-time.Second))

	fakeClock.Advance(25 * time.Second)

	require.True(t, waitForConnections(hub, 1))
}

func waitForLastSeenAfter(t *testing.T, hub *Hub, id uuid.UUID, threshold time.Time) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if info, found := hub.Get(id); found && info.LastSeen.After(threshold) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("touch was not applied in time")
}
