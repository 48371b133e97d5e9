package cast

import "errors"

var (
	// ErrConnectFailed indicates the device could not be reached within the
	// connect timeout. Transient: the next announcement retries.
	ErrConnectFailed = errors.New("cast: connect failed")

	// ErrResolveFailed indicates an announcement without a usable id or address.
	ErrResolveFailed = errors.New("cast: resolve failed")

	// ErrUnsupportedDevice indicates a device kind the bridge does not drive.
	ErrUnsupportedDevice = errors.New("cast: unsupported device")

	// ErrBadTargetPlayState indicates a play-state target other than playing or paused.
	ErrBadTargetPlayState = errors.New("cast: bad target play state")

	// ErrNotImplemented indicates an instruction tag or volume kind with no handler.
	ErrNotImplemented = errors.New("cast: instruction not implemented")

	// ErrBadInstruction indicates an instruction that could not be decoded.
	ErrBadInstruction = errors.New("cast: bad instruction")

	// ErrDeviceNotFound indicates no active session for the device id.
	ErrDeviceNotFound = errors.New("cast: device not found")

	// ErrSessionStopped indicates the session was torn down while an
	// instruction was queued.
	ErrSessionStopped = errors.New("cast: session stopped")

	// ErrSessionBusy indicates the session's instruction queue is full.
	ErrSessionBusy = errors.New("cast: session busy")

	// ErrNotConnected is returned by a device handle used before Connect.
	ErrNotConnected = errors.New("cast: device not connected")
)
