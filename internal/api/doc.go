// Package api implements the backend's HTTP management API.
//
// This package provides:
//   - Read-only views of the camera inventory and the open devices
//   - The connected frontend sessions and their per-camera groups
//   - Operator control overrides for an open camera, guarded by a bearer
//     token with the control:write scope (see package auth)
//   - Health and runtime metrics endpoints
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// The API is optional and never sits on the frontend request path: a
// backend with the API disabled serves frontends exactly the same.
//
// # Authentication
//
// Read routes are open. The control override route requires
// "Authorization: Bearer <token>" signed with api.jwt.secret; without a
// configured secret the route answers 403. Tokens are issued with
// `camera-be -issue-token <subject>`.
//
// # Graceful Degradation
//
// Every source except the logger and the camera registry is optional.
// Endpoints backed by a missing source answer with an empty list, and the
// health check skips components that were not configured.
package api
