// Package server is the lectern gateway's HTTP surface.
//
// It wires the store, the realtime bus and the directory, messaging and
// read-tracking services to a JSON API, and serves the change feed over
// WebSocket (/api/realtime) and Server-Sent Events (/api/realtime/sse).
//
// Service errors carry a msgerr kind which maps to the response status:
// validation 400, not found 404, forbidden 403, everything else 500.
// Error bodies are always {"error": "..."}.
//
// The server listens on server.http_addr, or joins a tailnet through tsnet
// when tailscale.enabled is set. With realtime.redis_url configured, events
// are relayed between gateway instances through Redis pub/sub.
package server
