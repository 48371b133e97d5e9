package castv2

import "errors"

var (
	// ErrClosed is returned for operations on a closed client.
	ErrClosed = errors.New("castv2: client closed")

	// ErrNoMediaSession is returned by Play/Pause when nothing is loaded.
	ErrNoMediaSession = errors.New("castv2: no active media session")

	// ErrRequestFailed wraps an error reply (INVALID_REQUEST, LAUNCH_ERROR, ...).
	ErrRequestFailed = errors.New("castv2: request failed")

	// ErrFrameTooLarge means the peer announced a frame above maxFrameSize.
	ErrFrameTooLarge = errors.New("castv2: frame too large")

	// ErrMalformed is returned for undecodable protobuf frames.
	ErrMalformed = errors.New("castv2: malformed message")
)
