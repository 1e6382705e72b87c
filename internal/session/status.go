package session

// Status is the lifecycle state of a session handle. Transitions follow a
// fixed table; a handle never moves between states outside of it.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPausing   Status = "pausing"
	StatusPaused    Status = "paused"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// transitions is the full lifecycle table. Terminal states have no outgoing
// edges, so a terminal handle can never transition again.
var transitions = map[Status]map[Status]bool{
	StatusIdle: {
		StatusRunning:  true,
		StatusStopping: true, // stop raced ahead of the worker's first step
		StatusError:    true, // resource acquisition failed before running
	},
	StatusRunning: {
		StatusPausing:   true,
		StatusStopping:  true,
		StatusCompleted: true,
		StatusError:     true,
	},
	StatusPausing: {
		StatusPaused:   true,
		StatusRunning:  true, // resumed before the gate ever blocked
		StatusStopping: true,
		StatusError:    true,
	},
	StatusPaused: {
		StatusRunning:  true,
		StatusStopping: true,
		StatusError:    true,
	},
	StatusStopping: {
		StatusStopped: true,
		StatusError:   true,
	},
}

// Terminal reports whether the status is an end state. A terminal handle is
// eligible for registry removal and never transitions further.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusError
}

// Live reports whether the status blocks a new start for the same identifier.
// Any non-terminal entry implies a worker that is alive or not yet reaped, so
// only terminal handles are stale and replaceable.
func (s Status) Live() bool {
	return !s.Terminal()
}

// canTransition consults the lifecycle table.
func (s Status) canTransition(to Status) bool {
	return transitions[s][to]
}

func (s Status) String() string { return string(s) }
