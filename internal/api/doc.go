// Package api implements the bridge's HTTP status API and WebSocket feed.
//
// This package provides:
//   - Read-only endpoints for accessories, hub devices, metrics and health
//   - Authenticated endpoints to switch accessories, prune stale ones and
//     read the audit trail
//   - A WebSocket hub broadcasting accessory state and lifecycle events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, JWT)
//
// # Security
//
// Write endpoints require a bearer token from POST /api/v1/auth/login.
// The token is an HS256 JWT signed with security.jwt.secret.
package api
