// Package cast bridges Cast devices (Chromecast, Google Home, Nest speakers
// and speaker groups) to the gray-logic device-state and instruction channel.
//
// # Components
//
//   - Listener: turns mDNS announcements into registry lifecycle calls,
//     one serial lane per device.
//   - Registry: owns the id → Session map. Idempotent on repeated
//     announcements; failed starts release their reservation.
//   - Session: one live device handle. Emits an online state on start, a
//     sparse volume update whenever the native volume changes, media events,
//     and an offline state on stop. Instructions run on a per-session worker.
//   - Router: delivers instructions to sessions and replies not_found when
//     no session exists.
//   - Channel: the MQTT side. Publishes state, media, acks and health, and
//     decodes instructions from graylogic/command/cast/+.
//
// # Identity
//
// A DeviceID is derived from the advertised model name and the device's
// persistent UUID, never from its network address, so it stays stable
// across reconnects and DHCP changes.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package cast
