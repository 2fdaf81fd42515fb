package model

// SessionStatus is the lifecycle state of one account's import session.
type SessionStatus int32

const (
	SessionIdle SessionStatus = iota
	SessionConnecting
	SessionImporting
	SessionPaused
	SessionComplete
	SessionFailed
)

var sessionStatusNames = map[SessionStatus]string{
	SessionIdle:       "idle",
	SessionConnecting: "connecting",
	SessionImporting:  "importing",
	SessionPaused:     "paused",
	SessionComplete:   "complete",
	SessionFailed:     "failed",
}

func (s SessionStatus) String() string {
	if name, ok := sessionStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionComplete || s == SessionFailed
}

// CanTransition reports whether moving from s to next is allowed. Status
// only moves forward, except Paused<->Importing, and any non-terminal
// status may fail.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == SessionFailed {
		return true
	}

	switch s {
	case SessionIdle:
		return next == SessionConnecting
	case SessionConnecting:
		return next == SessionImporting
	case SessionImporting:
		return next == SessionPaused || next == SessionComplete
	case SessionPaused:
		return next == SessionImporting
	}
	return false
}
