// Package broadcast is a pub/sub transport between sibling execution contexts
// ("tabs") that share one credential bundle.
//
// Only two advisory messages travel over a channel: [TypeTokenRefreshed] and
// [TypeLogout]. They are invalidation hints, not a source of truth: a receiver
// re-reads the persisted bundle instead of trusting the payload. A [Channel] never
// delivers a message back to the endpoint that published it.
//
// Transports:
//
//   - [Hub] / [MemoryChannel]: contexts inside one process.
//   - [RedisChannel]: Redis pub/sub between processes.
//   - [Relay] / [WSChannel]: a WebSocket fan-out relay for browser-like clients.
//
// Environments without a transport run single-tab; see [Available].
package broadcast
