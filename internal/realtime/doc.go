// Package realtime implements the WebSocket hub using the actor pattern.
//
// The Hub owns the connection registry, authentication handshake, subscription
// router, broadcast dispatcher, and liveness monitor on a single goroutine +
// command channel (no mutexes). Per-connection write goroutines handle slow
// clients gracefully: a full send buffer means eviction, never blocking.
package realtime
