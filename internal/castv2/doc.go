// Package castv2 is a minimal sender-side client for the Cast v2 protocol
// spoken by Chromecast, Google Home and Nest devices on TCP port 8009.
//
// # Wire format
//
// Every frame is a 4-byte big-endian length followed by a protobuf
// CastMessage. Payloads on the namespaces used here are JSON strings:
//
//	urn:x-cast:com.google.cast.tp.connection   CONNECT / CLOSE
//	urn:x-cast:com.google.cast.tp.heartbeat    PING / PONG
//	urn:x-cast:com.google.cast.receiver        GET_STATUS, SET_VOLUME, STOP
//	urn:x-cast:com.google.cast.media           GET_STATUS, PLAY, PAUSE
//
// # Lifecycle
//
// Dial opens the TLS connection, sends CONNECT to the platform receiver and
// waits for the first RECEIVER_STATUS. A heartbeat goroutine pings every
// five seconds. When a receiver application exposes a transport, the client
// connects to it and tracks MEDIA_STATUS.
//
// Status callbacks run on a single worker goroutine in arrival order. If the
// read loop dies for any reason other than Close, the OnClosed callback
// fires exactly once.
package castv2
