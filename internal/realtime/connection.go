package realtime

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Connection is the hub-owned record for one live WebSocket session.
// It is mutated only inside the hub actor goroutine; everything handed
// outside the hub is a copied Info snapshot.
type Connection struct {
	id         uuid.UUID
	remoteAddr string

	// Identity claim. May be pre-seeded from handshake query parameters,
	// but only the authenticate frame flips authenticated. The flag is
	// never reset for the lifetime of the connection.
	userID        string
	userRole      string
	authenticated bool

	subscriptions map[string]struct{}

	// lastSeen advances on every inbound frame and on pong. probed marks
	// that a liveness ping went out and no activity has come back yet.
	lastSeen time.Time
	probed   bool

	writer *connWriter

	// Token bucket for peer-initiated broadcast frames.
	publishLimiter *rate.Limiter
}

func (c *Connection) touch(now time.Time) {
	// lastSeen is monotonically non-decreasing.
	if now.After(c.lastSeen) {
		c.lastSeen = now
	}
	c.probed = false
}

func (c *Connection) subscribed(topic string) bool {
	_, ok := c.subscriptions[topic]
	return ok
}

// subscriptionList returns the full current set, sorted so confirmation
// replies are deterministic.
func (c *Connection) subscriptionList() []string {
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Info is a point-in-time snapshot of a connection, safe to hold across
// yield points. Holders must re-validate through the hub before acting on it.
type Info struct {
	ID            uuid.UUID
	RemoteAddr    string
	UserID        string
	UserRole      string
	Authenticated bool
	Subscriptions []string
	LastSeen      time.Time
}

func (c *Connection) info() Info {
	return Info{
		ID:            c.id,
		RemoteAddr:    c.remoteAddr,
		UserID:        c.userID,
		UserRole:      c.userRole,
		Authenticated: c.authenticated,
		Subscriptions: c.subscriptionList(),
		LastSeen:      c.lastSeen,
	}
}

// Stats is the observability summary returned by a full registry scan.
type Stats struct {
	TotalConnections         int            `json:"totalConnections"`
	AuthenticatedConnections int            `json:"authenticatedConnections"`
	ConnectionsByRole        map[string]int `json:"connectionsByRole"`
}
