// Package api implements the management REST API and WebSocket hub of the relay.
//
// This package provides:
//   - REST endpoints for the end-device registry, queues, gateways and journal
//   - Bundle and raw downlink injection onto the send queues
//   - WebSocket hub broadcasting locally delivered bundles and announcements
//   - JWT bearer authentication with viewer and operator roles
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server only touches shared relay services: the registry, the queue
// set and the read-only views of the cache, bridge and duty-cycle tracker.
// Injected traffic goes through the same queues as relayed uplinks, so the
// send scheduler applies precedence, duty-cycle limits and duplicate
// suppression to it.
//
// # Security
//
// With security.jwt.secret unset every route is open. With it set, every
// route except /api/health requires "Authorization: Bearer <token>", or an
// access_token query parameter for browser WebSocket clients. Viewers may
// only read; operators may also mutate.
package api
