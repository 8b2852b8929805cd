package session

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusPaused   Status = "PAUSED"
	StatusStopping Status = "STOPPING"
	StatusStopped  Status = "STOPPED"
	StatusError    Status = "ERROR"
)

var transitions = map[Status][]Status{
	StatusStarting: {StatusRunning, StatusStopping},
	StatusRunning:  {StatusPaused, StatusStopping},
	StatusPaused:   {StatusRunning, StatusStopping},
	StatusError:    {StatusStopping},
	StatusStopping: {StatusStopped},
}

// CanTransition reports whether from -> to is a legal move. Any non-final
// status may move to ERROR.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return from != StatusStopped && from != StatusError
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether the session still holds its registry slot.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusPaused
}

// Terminal reports a finished session.
func (s Status) Terminal() bool {
	return s == StatusStopped
}
