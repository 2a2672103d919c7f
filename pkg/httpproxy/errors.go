package httpproxy

import "errors"

// Configuration errors raised by Start before any socket is opened.
var (
	// ErrPortInUse means the listen port is already bound.
	ErrPortInUse = errors.New("listen port is already in use")

	// ErrAlreadyRunning means Start was called on a running engine.
	ErrAlreadyRunning = errors.New("proxy is already running")

	// ErrNotRunning means Stop was called on a stopped engine.
	ErrNotRunning = errors.New("proxy is not running")
)
