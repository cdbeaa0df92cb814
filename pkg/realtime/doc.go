// Package realtime delivers notification events to currently-connected
// client sessions on a best-effort basis.
//
// The Bus contract is deliberately lossy: delivery is attempted at most once
// to whatever sessions are subscribed right now, there is no queueing, and
// publishing never returns an error to the caller - failures are logged and
// dropped. Offline recipients are covered by the durable push channel, not
// by this bus.
//
// Two implementations are provided:
//
//   - MemoryBus: in-process fan-out with non-blocking buffered channels,
//     suitable for single-instance deployments and tests.
//   - RedisBus: Redis pub/sub for multi-instance deployments, where a
//     session may be connected to a different process than the publisher.
//
// Transports (SSE, WebSocket handlers) attach via Subscribe and receive an
// Event stream for one user plus that user's roles and the broadcast target.
package realtime
