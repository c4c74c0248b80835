// Package protocol defines the wire frames exchanged with WebSocket peers.
//
// Inbound frames form a closed typed union; unknown type tags are protocol
// errors, not silent drops. Outbound control frames are built by small
// constructors; domain messages travel as Broadcast envelopes whose targeting
// metadata never reaches the wire.
package protocol
