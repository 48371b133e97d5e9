package cast

import (
	"context"

	"github.com/nerrad567/gray-logic-cast/internal/mdns"
)

// DeviceHandle is one device connection. Implementations must be safe for
// concurrent use; Disconnect on a handle that is not connected is a no-op.
type DeviceHandle interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Info is valid after a successful Connect.
	Info() DeviceInfo
	// Status returns the last known receiver status.
	Status() NativeStatus

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	VolumeUp(ctx context.Context) error
	VolumeDown(ctx context.Context) error
	SetMuted(ctx context.Context, muted bool) error
	SetVolume(ctx context.Context, level float64) error
	// Stop ends the running receiver application.
	Stop(ctx context.Context) error

	// SetListener replaces the status listener. nil detaches.
	SetListener(l StatusListener)
}

// StatusListener receives native callbacks from a DeviceHandle. Calls for
// one handle are delivered sequentially.
type StatusListener interface {
	OnStatus(NativeStatus)
	OnMediaStatus(NativeMediaStatus)
	// OnConnectionLost is called at most once, when the connection drops
	// without Disconnect.
	OnConnectionLost(err error)
}

// HandleResolver builds a handle for an announced device.
type HandleResolver interface {
	Resolve(ctx context.Context, entry mdns.Entry) (DeviceHandle, error)
}

// HandleFactory is the deferred resolution passed to Registry.OnDiscovered.
type HandleFactory func(ctx context.Context) (DeviceHandle, error)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EventSink is the outbound side of the generic channel. Both methods are
// fire-and-forget and must not block.
type EventSink interface {
	SendState(DeviceState)
	SendMediaEvent(MediaEvent)
}
