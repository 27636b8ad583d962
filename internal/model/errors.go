package model

import "errors"

var (
	// ErrWorkingDirRequired is returned when a session creation request is
	// missing the working directory.
	ErrWorkingDirRequired = errors.New("working directory is required")

	// ErrWorkingDirInvalid is returned when the working directory does not
	// exist or is not a directory.
	ErrWorkingDirInvalid = errors.New("working directory is not a valid directory")

	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotRunning is returned when an operation requires a running
	// process but the session has none.
	ErrSessionNotRunning = errors.New("session is not running")

	// ErrSessionRunning is returned when starting a session that already has
	// a live process.
	ErrSessionRunning = errors.New("session is already running")

	// ErrSessionLimit is returned when the maximum number of concurrently
	// running sessions is reached.
	ErrSessionLimit = errors.New("running session limit exceeded")
)
