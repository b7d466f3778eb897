/*
Package gateway serves the platform's WebSocket surface.

A connection is authenticated once on handshake; the verified identity
is pinned for its lifetime. Clients subscribe to deployments they own
and are placed into per-deployment rooms. The gateway bridges LogHub
entries and orchestrator status changes into those rooms.

Each connection has a single writer goroutine fed by a bounded send
queue, so a slow client never blocks a room. When the queue saturates,
log frames are dropped and one log:dropped sentinel marks the gap
before delivery resumes. Per-connection subscriptions and global
connections are capped; a periodic sweep closes idle connections.

Wire frames are JSON with a top-level type: subscribe, unsubscribe,
and ping from clients; pong, subscription:success, subscription:error,
log, log:dropped, status, budget:alert, and error from the server.
*/
package gateway
