package dispatch

import "errors"

var (
	// ErrNotStarted is returned by SendInference before Start has completed.
	ErrNotStarted = errors.New("dispatcher not started; call Start first")
	// ErrUnknownReply is returned when the worker answers with neither an
	// embedding nor an error. It signals a programming bug, not a runtime
	// condition.
	ErrUnknownReply = errors.New("worker returned an unrecognized reply")
	// ErrNullChannelResult is returned when the platform call channel
	// completes without a result.
	ErrNullChannelResult = errors.New("platform call channel returned no result")
	// ErrNoCallChannel is returned by Start on a call-channel platform when
	// no channel was configured.
	ErrNoCallChannel = errors.New("no platform call channel configured")
)
