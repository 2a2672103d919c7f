package dbproxy

import "errors"

var (
	// ErrPortInUse is returned when the listen port is already bound.
	ErrPortInUse = errors.New("port already in use")

	// ErrAlreadyRunning is returned when starting a port that is listening.
	ErrAlreadyRunning = errors.New("interceptor already running on port")

	// ErrNotRunning is returned when stopping a port that is not listening.
	ErrNotRunning = errors.New("interceptor not running on port")

	// ErrUnsupportedProtocol is returned for non-database proxy configs.
	ErrUnsupportedProtocol = errors.New("unsupported database protocol")
)
