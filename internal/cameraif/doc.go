// Package cameraif defines the camera frontend/backend wire contract.
//
// Requests, responses and events are fixed 64-byte little-endian records.
// The first eight bytes are a header (id, operation or event type, and for
// responses a signed status); the remaining 56 bytes hold an
// operation-specific payload. Each payload type has a Decode function and
// an Encode method working on the raw payload array so handlers never
// touch byte offsets directly.
package cameraif
