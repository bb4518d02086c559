// Package server exposes the chat core over HTTP and WebSocket.
//
// Each upgraded connection becomes a Client with a read pump, which hands
// inbound frames to the core in order, and a write pump, which drains a
// bounded outbound queue and keeps the peer alive with pings. The Hub
// tracks live clients so shutdown can close them and wait for their
// disconnect cleanup. The remaining files hold configuration, origin
// checks, per-connection rate limiting and the read-only room API.
package server
