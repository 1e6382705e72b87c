package session

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when a live handle already
	// exists for the identifier. Control-surface misuse, not fatal.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrNotFound is returned by control operations when no handle exists
	// for the identifier.
	ErrNotFound = errors.New("session not found")

	// ErrActionUnavailable is returned by the gate when the session can no
	// longer execute actions (stop requested, terminal status, or the
	// browser resource is gone). Expected during shutdown races; callers
	// may treat it as silently ignorable.
	ErrActionUnavailable = errors.New("session unavailable for actions")

	// ErrChallengeDetected is returned by the gate when the anti-automation
	// watchdog reports a verification challenge. Fatal to the session, not
	// to the process.
	ErrChallengeDetected = errors.New("verification challenge detected")

	// ErrManualClosure is returned by the gate when the browser window was
	// closed by a human. Fatal to the session, not to the process.
	ErrManualClosure = errors.New("browser closed manually")

	// ErrStopTimeout is returned by Stop when teardown did not report a
	// result within the configured window. Teardown continues in the
	// background regardless.
	ErrStopTimeout = errors.New("session stop timed out")
)
