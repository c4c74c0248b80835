package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prop-ie/realtime/internal/metrics"
	"github.com/prop-ie/realtime/internal/protocol"
	"golang.org/x/time/rate"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second

	// Close code sent when the liveness monitor evicts a silent peer.
	CloseLivenessTimeout = websocket.ClosePolicyViolation
)

// Options configures the hub. Zero fields take the documented defaults.
type Options struct {
	// PingInterval is the liveness sweep period; a connection silent for
	// one interval is probed with a transport ping.
	PingInterval time.Duration
	// EvictAfter is the silence deadline; a connection that stays silent
	// past it is closed and removed.
	EvictAfter time.Duration
	// SendBufferSize bounds each connection's outbound queue. A connection
	// whose queue is full at enqueue time is evicted (slow consumer).
	SendBufferSize int
	// PublishRate/PublishBurst bound peer-initiated broadcast frames.
	PublishRate  float64
	PublishBurst int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.EvictAfter <= 0 {
		o.EvictAfter = 60 * time.Second
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 32
	}
	if o.PublishRate <= 0 {
		o.PublishRate = 10
	}
	if o.PublishBurst <= 0 {
		o.PublishBurst = 20
	}
	return o
}

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	connection   *websocket.Conn
	remoteAddr   string
	seedUserID   string
	seedUserRole string
	replyChannel chan uuid.UUID
}

type removeCmd struct {
	baseHubCmd
	connectionID uuid.UUID
}

type getCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	replyChannel chan getReply
}

type getReply struct {
	info  Info
	found bool
}

type authenticateCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	userID       string
	userRole     string
}

type subscribeCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	topics       []string
}

type unsubscribeCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	topics       []string
}

type touchCmd struct {
	baseHubCmd
	connectionID uuid.UUID
}

type pingCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	timestamp    int64
}

type publishCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	request      protocol.Publish
}

type sendToCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	frame        []byte
}

type dispatchCmd struct {
	baseHubCmd
	message protocol.Broadcast
	exclude uuid.UUID
}

type statsCmd struct {
	baseHubCmd
	replyChannel chan Stats
}

type snapshotCmd struct {
	baseHubCmd
	replyChannel chan []Info
}

type stopCmd struct {
	baseHubCmd
}

// Hub is the single-goroutine actor that owns every live connection. The
// connection registry, authentication handshake, subscription router,
// broadcast dispatcher, and liveness monitor all execute on its command
// loop, so registry state never needs a lock and no handler blocks on
// transport I/O (writes are non-blocking enqueues to per-connection
// writers).
type Hub struct {
	cmdCh       chan hubCmd
	clock       clockwork.Clock
	connections map[uuid.UUID]*Connection
	opts        Options
	done        chan struct{}
}

// NewHub creates and starts a hub.
func NewHub(clock clockwork.Clock, opts Options) *Hub {
	h := &Hub{
		cmdCh:       make(chan hubCmd, 256),
		clock:       clock,
		connections: make(map[uuid.UUID]*Connection),
		opts:        opts.withDefaults(),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			h.closeAll(websocket.CloseInternalServerErr, "internal error")
		}
	}()
	defer close(h.done)

	sweepTicker := h.clock.NewTicker(h.opts.PingInterval)
	defer sweepTicker.Stop()

	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))
			if depth > 200 { // 80% of 256
				slog.Warn("Hub command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				h.handleRegister(c)
			case removeCmd:
				h.handleRemove(c.connectionID)
			case getCmd:
				h.handleGet(c)
			case authenticateCmd:
				h.handleAuthenticate(c)
			case subscribeCmd:
				h.handleSubscribe(c)
			case unsubscribeCmd:
				h.handleUnsubscribe(c)
			case touchCmd:
				h.handleTouch(c.connectionID)
			case pingCmd:
				h.handlePing(c)
			case publishCmd:
				h.handlePublish(c)
			case sendToCmd:
				h.handleSendTo(c)
			case dispatchCmd:
				h.handleDispatch(c.message, c.exclude)
			case statsCmd:
				c.replyChannel <- h.collectStats()
			case snapshotCmd:
				c.replyChannel <- h.collectSnapshot()
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}

		case <-sweepTicker.Chan():
			h.handleSweep()
		}
	}
}

// --- Registry ---

func (h *Hub) handleRegister(c registerCmd) {
	id := uuid.New()
	conn := &Connection{
		id:             id,
		remoteAddr:     c.remoteAddr,
		userID:         c.seedUserID,
		userRole:       c.seedUserRole,
		subscriptions:  make(map[string]struct{}),
		lastSeen:       h.clock.Now(),
		writer:         newConnWriter(c.connection, h.clock, h.opts.SendBufferSize),
		publishLimiter: rate.NewLimiter(rate.Limit(h.opts.PublishRate), h.opts.PublishBurst),
	}
	h.connections[id] = conn

	metrics.HubConnectedClients.Inc()
	slog.Debug("Connection registered", "connection_id", id.String(), "remote_addr", c.remoteAddr, "total", len(h.connections))
	c.replyChannel <- id
}

// handleRemove deletes a connection and stops its writer. Removing an
// unknown id is a no-op, which makes every eviction path idempotent.
func (h *Hub) handleRemove(id uuid.UUID) {
	h.removeConnection(id, 0, "")
}

func (h *Hub) removeConnection(id uuid.UUID, closeCode int, reason string) {
	conn, exists := h.connections[id]
	if !exists {
		return
	}
	delete(h.connections, id)

	metrics.HubConnectedClients.Dec()
	if conn.authenticated {
		metrics.HubAuthenticatedClients.Dec()
	}

	if closeCode != 0 {
		conn.writer.stopWithClose(closeCode, reason)
	} else {
		conn.writer.stop()
	}
	slog.Debug("Connection removed", "connection_id", id.String(), "remaining", len(h.connections))
}

func (h *Hub) handleGet(c getCmd) {
	conn, exists := h.connections[c.connectionID]
	if !exists {
		c.replyChannel <- getReply{}
		return
	}
	c.replyChannel <- getReply{info: conn.info(), found: true}
}

// --- Authentication handshake ---

func (h *Hub) handleAuthenticate(c authenticateCmd) {
	conn, exists := h.connections[c.connectionID]
	if !exists {
		return
	}

	if c.userID == "" || c.userRole == "" {
		metrics.AuthFailures.Inc()
		// Even a rejected frame proves the peer is alive.
		conn.touch(h.clock.Now())
		conn.writer.trySend(protocol.AuthError("userId and userRole are required"))
		return
	}

	conn.userID = c.userID
	conn.userRole = c.userRole
	if !conn.authenticated {
		conn.authenticated = true
		metrics.HubAuthenticatedClients.Inc()
	}
	conn.touch(h.clock.Now())

	slog.Info("Connection authenticated", "connection_id", conn.id.String(), "user_id", conn.userID, "user_role", conn.userRole)
	conn.writer.trySend(protocol.AuthSuccess(conn.userID, conn.userRole))
}

// requireAuth replies auth_error and reports false when the connection has
// not completed the handshake. No state is mutated on the failure path.
func (h *Hub) requireAuth(conn *Connection) bool {
	if conn.authenticated {
		return true
	}
	metrics.AuthFailures.Inc()
	conn.touch(h.clock.Now())
	conn.writer.trySend(protocol.AuthError("authentication required"))
	return false
}

// --- Subscription router ---

func (h *Hub) handleSubscribe(c subscribeCmd) {
	conn, exists := h.connections[c.connectionID]
	if !exists {
		return
	}
	if !h.requireAuth(conn) {
		return
	}

	for _, topic := range c.topics {
		if topic == "" {
			continue
		}
		conn.subscriptions[topic] = struct{}{}
	}
	conn.touch(h.clock.Now())
	conn.writer.trySend(protocol.SubscriptionConfirmed(conn.subscriptionList()))
}

func (h *Hub) handleUnsubscribe(c unsubscribeCmd) {
	conn, exists := h.connections[c.connectionID]
	if !exists {
		return
	}
	if !h.requireAuth(conn) {
		return
	}

	for _, topic := range c.topics {
		delete(conn.subscriptions, topic)
	}
	conn.touch(h.clock.Now())
	conn.writer.trySend(protocol.UnsubscriptionConfirmed(conn.subscriptionList()))
}

// --- Activity tracking ---

func (h *Hub) handleTouch(id uuid.UUID) {
	if conn, exists := h.connections[id]; exists {
		conn.touch(h.clock.Now())
	}
}

func (h *Hub) handlePing(c pingCmd) {
	conn, exists := h.connections[c.connectionID]
	if !exists {
		return
	}
	conn.touch(h.clock.Now())
	conn.writer.trySend(protocol.Pong(c.timestamp))
}

// --- Broadcast dispatcher ---

func (h *Hub) handlePublish(c publishCmd) {
	conn, exists := h.connections[c.connectionID]
	if !exists {
		return
	}
	if !h.requireAuth(conn) {
		return
	}
	if !conn.publishLimiter.Allow() {
		conn.writer.trySend(protocol.Error("broadcast rate limit exceeded"))
		return
	}
	conn.touch(h.clock.Now())

	msg := protocol.Broadcast{
		MessageType: c.request.EventType,
		EventType:   c.request.EventType,
		Payload:     c.request.Data,
		Timestamp:   h.clock.Now(),
		TargetUsers: c.request.TargetUsers,
		TargetRoles: c.request.TargetRoles,
	}
	// Peer broadcasts never echo back to the sender.
	h.handleDispatch(msg, c.connectionID)
}

// handleSendTo is the direct-send path for connection-scoped control
// replies. It bypasses fan-out filtering entirely.
func (h *Hub) handleSendTo(c sendToCmd) {
	if conn, exists := h.connections[c.connectionID]; exists {
		conn.writer.trySend(c.frame)
	}
}

func (h *Hub) handleDispatch(msg protocol.Broadcast, exclude uuid.UUID) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.clock.Now()
	}

	data, err := msg.Encode()
	if err != nil {
		slog.Error("Failed to encode broadcast message", "message_type", msg.MessageType, "error", err)
		return
	}

	var slow []uuid.UUID
	for id, conn := range h.connections {
		if !shouldDeliver(conn, msg, exclude) {
			continue
		}
		if !conn.writer.trySend(data) {
			slow = append(slow, id)
			continue
		}
		metrics.MessagesDelivered.WithLabelValues(msg.MessageType).Inc()
	}

	// Slow consumers are disconnected rather than buffered without bound.
	for _, id := range slow {
		slog.Warn("Disconnecting slow client", "connection_id", id.String(), "message_type", msg.MessageType)
		metrics.SlowClientsEvicted.Inc()
		h.removeConnection(id, 0, "")
	}
}

// shouldDeliver applies the delivery filter for one connection. All checks
// are conjunctive: an addressed message never widens to unsubscribed peers
// via its topic, and a topic never widens past its targets.
func shouldDeliver(conn *Connection, msg protocol.Broadcast, exclude uuid.UUID) bool {
	if exclude != uuid.Nil && conn.id == exclude {
		return false
	}
	if !conn.authenticated {
		return false
	}
	if msg.EventType != "" && !conn.subscribed(msg.EventType) {
		return false
	}
	if len(msg.TargetUsers) > 0 && !slices.Contains(msg.TargetUsers, conn.userID) {
		return false
	}
	if len(msg.TargetRoles) > 0 && !slices.Contains(msg.TargetRoles, conn.userRole) {
		return false
	}
	return true
}

// --- Liveness monitor ---

func (h *Hub) handleSweep() {
	now := h.clock.Now()

	var evict []uuid.UUID
	for id, conn := range h.connections {
		silent := now.Sub(conn.lastSeen)
		if silent >= h.opts.EvictAfter {
			evict = append(evict, id)
			continue
		}
		if silent >= h.opts.PingInterval && !conn.probed {
			conn.writer.ping()
			conn.probed = true
		}
	}

	for _, id := range evict {
		slog.Info("Evicting silent connection", "connection_id", id.String())
		metrics.LivenessEvictions.Inc()
		h.removeConnection(id, CloseLivenessTimeout, "liveness timeout")
	}
}

// --- Observability ---

func (h *Hub) collectStats() Stats {
	stats := Stats{ConnectionsByRole: make(map[string]int)}
	for _, conn := range h.connections {
		stats.TotalConnections++
		if conn.authenticated {
			stats.AuthenticatedConnections++
			stats.ConnectionsByRole[conn.userRole]++
		}
	}
	return stats
}

func (h *Hub) collectSnapshot() []Info {
	infos := make([]Info, 0, len(h.connections))
	for _, conn := range h.connections {
		infos = append(infos, conn.info())
	}
	return infos
}

// --- Shutdown ---

func (h *Hub) handleStop() {
	total := len(h.connections)
	slog.Info("Hub shutting down", "connections", total)
	h.closeAll(websocket.CloseGoingAway, "server shutting down")
	slog.Info("Hub shutdown complete", "disconnected_clients", total)
}

func (h *Hub) closeAll(code int, reason string) {
	for id, conn := range h.connections {
		conn.writer.stopWithClose(code, reason)
		delete(h.connections, id)
	}
	metrics.HubConnectedClients.Set(0)
	metrics.HubAuthenticatedClients.Set(0)
}

// --- Public API ---

// Register adds a freshly upgraded connection to the registry and returns
// its assigned id. seedUserID/seedUserRole may pre-seed the identity claim
// from handshake query parameters; the authenticate frame is authoritative
// and the connection stays unauthenticated until it arrives.
func (h *Hub) Register(conn *websocket.Conn, remoteAddr, seedUserID, seedUserRole string) (uuid.UUID, error) {
	replyCh := make(chan uuid.UUID, 1)
	h.cmdCh <- registerCmd{connection: conn, remoteAddr: remoteAddr, seedUserID: seedUserID, seedUserRole: seedUserRole, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case id := <-replyCh:
		return id, nil
	case <-timer.Chan():
		// The command is still queued and will register eventually. Reap
		// the late registration so the registry never holds an entry the
		// caller has already abandoned.
		go func() {
			select {
			case id := <-replyCh:
				h.Remove(id)
			case <-h.done:
			}
		}()
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Remove deletes the connection from the registry and closes it.
// Idempotent: removing an already-removed id is a no-op.
func (h *Hub) Remove(id uuid.UUID) {
	h.cmdCh <- removeCmd{connectionID: id}
}

// Get returns a snapshot of the connection, or found=false if it is gone.
func (h *Hub) Get(id uuid.UUID) (Info, bool) {
	replyCh := make(chan getReply, 1)
	h.cmdCh <- getCmd{connectionID: id, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.info, reply.found
	case <-timer.Chan():
		slog.Warn("Get timed out", "timeout", commandTimeout)
		return Info{}, false
	}
}

// Authenticate records the peer's identity claim and flips the connection
// to authenticated. The reply (auth_success or auth_error) goes to the
// target connection only.
func (h *Hub) Authenticate(id uuid.UUID, userID, userRole string) {
	h.cmdCh <- authenticateCmd{connectionID: id, userID: userID, userRole: userRole}
}

// Subscribe adds topics to the connection's subscription set. Idempotent
// per topic. Rejected with auth_error before authentication.
func (h *Hub) Subscribe(id uuid.UUID, topics []string) {
	h.cmdCh <- subscribeCmd{connectionID: id, topics: topics}
}

// Unsubscribe removes topics from the connection's subscription set.
// Removing a non-subscribed topic is a no-op.
func (h *Hub) Unsubscribe(id uuid.UUID, topics []string) {
	h.cmdCh <- unsubscribeCmd{connectionID: id, topics: topics}
}

// Touch refreshes the connection's lastSeen. Called for every inbound frame
// and on transport pongs.
func (h *Hub) Touch(id uuid.UUID) {
	h.cmdCh <- touchCmd{connectionID: id}
}

// Ping answers an application-level ping with a pong carrying the peer's
// timestamp, refreshing liveness.
func (h *Hub) Ping(id uuid.UUID, timestamp int64) {
	h.cmdCh <- pingCmd{connectionID: id, timestamp: timestamp}
}

// PublishFrom fans out a peer-initiated broadcast, excluding the sender.
// Requires authentication and is rate limited per connection.
func (h *Hub) PublishFrom(id uuid.UUID, request protocol.Publish) {
	h.cmdCh <- publishCmd{connectionID: id, request: request}
}

// SendTo pushes a pre-encoded frame to exactly one connection, bypassing
// fan-out filtering. Used for protocol error replies.
func (h *Hub) SendTo(id uuid.UUID, frame []byte) {
	h.cmdCh <- sendToCmd{connectionID: id, frame: frame}
}

// Dispatch fans a message out to every matching connection. exclude may be
// uuid.Nil. Delivery failures to individual peers are isolated.
func (h *Hub) Dispatch(msg protocol.Broadcast, exclude uuid.UUID) {
	h.cmdCh <- dispatchCmd{message: msg, exclude: exclude}
}

// ToUsers dispatches an addressed-only message to the given user ids. The
// message carries no topic, so delivery is decided by targeting alone.
func (h *Hub) ToUsers(userIDs []string, eventType string, payload json.RawMessage) {
	h.Dispatch(protocol.Broadcast{
		MessageType: eventType,
		Payload:     payload,
		TargetUsers: userIDs,
	}, uuid.Nil)
}

// ToRoles dispatches an addressed-only message to the given roles.
func (h *Hub) ToRoles(roles []string, eventType string, payload json.RawMessage) {
	h.Dispatch(protocol.Broadcast{
		MessageType: eventType,
		Payload:     payload,
		TargetRoles: roles,
	}, uuid.Nil)
}

// Stats scans the registry and returns connection counts. Read-only.
func (h *Hub) Stats() Stats {
	replyCh := make(chan Stats, 1)
	h.cmdCh <- statsCmd{replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case stats := <-replyCh:
		return stats
	case <-timer.Chan():
		slog.Warn("Stats timed out", "timeout", commandTimeout)
		return Stats{ConnectionsByRole: map[string]int{}}
	}
}

// Snapshot returns point-in-time copies of every registered connection.
func (h *Hub) Snapshot() []Info {
	replyCh := make(chan []Info, 1)
	h.cmdCh <- snapshotCmd{replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case infos := <-replyCh:
		return infos
	case <-timer.Chan():
		slog.Warn("Snapshot timed out", "timeout", commandTimeout)
		return nil
	}
}

// ForEach invokes fn once per connection over a stable point-in-time view of
// the registry. Registrations and removals during the pass do not affect it.
func (h *Hub) ForEach(fn func(Info)) {
	for _, info := range h.Snapshot() {
		fn(info)
	}
}

// Stop shuts the hub down, closing all client connections. Blocks until the
// hub goroutine has exited or the stop timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		// The registry map belongs to the actor goroutine, which may still
		// be draining, so no connection count here.
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}
