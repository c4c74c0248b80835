package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConnPair returns the two ends of a live WebSocket connection.
func newTestConnPair(t *testing.T) (server, client *ws.Conn) {
	t.Helper()

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	serverConns := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	client, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection not established")
	}
	return server, client
}

func TestConnWriter_DeliversInOrder(t *testing.T) {
	server, client := newTestConnPair(t)

	cw := newConnWriter(server, clockwork.NewRealClock(), 8)
	t.Cleanup(func() { cw.stop() })

	require.True(t, cw.trySend([]byte("one")))
	require.True(t, cw.trySend([]byte("two")))
	require.True(t, cw.trySend([]byte("three")))

	for _, want := range []string{"one", "two", "three"} {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestConnWriter_TrySendReportsFullBuffer(t *testing.T) {
	server, client := newTestConnPair(t)
	_ = client

	cw := newConnWriter(server, clockwork.NewRealClock(), 1)

	// With the drain goroutine stopped, enqueues pile up in the buffer and
	// the overflow path becomes observable.
	cw.stop()

	assert.True(t, cw.trySend([]byte("fits")))
	assert.False(t, cw.trySend([]byte("overflows")))
}

func TestConnWriter_PingDelivered(t *testing.T) {
	server, client := newTestConnPair(t)

	pingReceived := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pingReceived <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	cw := newConnWriter(server, clockwork.NewRealClock(), 8)
	t.Cleanup(func() { cw.stop() })

	cw.ping()

	select {
	case <-pingReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("ping frame was not delivered")
	}
}

func TestConnWriter_StopIdempotent(t *testing.T) {
	server, client := newTestConnPair(t)
	_ = client

	cw := newConnWriter(server, clockwork.NewRealClock(), 8)

	cw.stop()
	cw.stop()
	cw.stop()
}

func TestConnWriter_ConcurrentStop(t *testing.T) {
	server, client := newTestConnPair(t)
	_ = client

	cw := newConnWriter(server, clockwork.NewRealClock(), 8)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent stop calls deadlocked")
	}
}

func TestConnWriter_StopWithCloseSendsCloseFrame(t *testing.T) {
	server, client := newTestConnPair(t)

	cw := newConnWriter(server, clockwork.NewRealClock(), 8)
	cw.stopWithClose(CloseLivenessTimeout, "liveness timeout")

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
	if closeErr, ok := err.(*ws.CloseError); ok {
		assert.Equal(t, ws.ClosePolicyViolation, closeErr.Code)
		assert.Contains(t, closeErr.Text, "liveness timeout")
	}
}
