package conn

// State is the lifecycle position of one bot connection.
type State int

const (
	// StateOffline: no active session. Initial state; also the only state
	// reachable from LoggedOut/Disconnected via explicit user deactivation.
	StateOffline State = iota
	// StateOnline: session live, idle.
	StateOnline
	// StateSending: a dispatch pass is running.
	StateSending
	// StateDisconnected: session dropped but not logged out; reconnect may
	// recover it.
	StateDisconnected
	// StateLoggedOut: provider invalidated the session. Terminal until the
	// user re-authenticates; credentials must be purged.
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateOnline:
		return "online"
	case StateSending:
		return "sending"
	case StateDisconnected:
		return "disconnected"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// legalTransition encodes the state machine edges. Any state may move to
// LoggedOut (provider decision).
func legalTransition(from, to State) bool {
	if from == to {
		return true
	}
	if to == StateLoggedOut {
		return true
	}
	switch from {
	case StateOffline:
		return to == StateOnline
	case StateOnline:
		return to == StateSending || to == StateDisconnected
	case StateSending:
		return to == StateOnline || to == StateDisconnected
	case StateDisconnected:
		return to == StateOnline || to == StateOffline
	case StateLoggedOut:
		return to == StateOffline
	}
	return false
}
