// Package api implements the HTTP REST API and WebSocket server for the cast bridge.
//
// This package provides:
//   - Read access to the merged device state the bridge has emitted
//   - Instruction submission with a synchronous outcome
//   - The instruction audit log
//   - WebSocket hub for real-time state and media broadcasts
//   - Optional JWT bearer authentication
//
// # Architecture
//
// The API is a second receiver of the bridge's event stream. DeviceStore
// implements the bridge's event sink, merges the sparse state updates into
// full device views and relays every event to the WebSocket hub. Instructions
// posted over HTTP go through the same router as those arriving over MQTT.
//
// # Security
//
// When security.jwt.secret is set every route except /health requires an
// HS256 bearer token. WebSocket clients may pass the token as ?token= since
// browsers cannot set headers on the upgrade request.
package api
