// Package chat implements the real-time session and room-broadcast
// coordinator that sits behind persistent client connections.
//
// The Registry tracks which identity owns each connection, the RoomTable
// tracks which single room each connection is subscribed to, the Router
// dispatches inbound events, and the Lifecycle applies connect and
// disconnect side effects. Hub wires the four together for a transport.
//
// Credential checks, relational storage and presence mirroring are
// consumed through the IdentityVerifier, Directory, MessageStore and
// PresenceTracker interfaces; this package never embeds their
// implementation.
package chat
