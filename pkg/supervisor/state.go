package supervisor

// State is the lifecycle position of a managed process
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateExited     State = "exited"
	StateKilled     State = "killed"
)

// Terminal reports whether the process has stopped for good
func (s State) Terminal() bool {
	return s == StateExited || s == StateKilled
}

var allowedTransitions = map[State][]State{
	StateNotStarted: {StateStarting, StateExited, StateKilled},
	StateStarting:   {StateReady, StateExited, StateKilled},
	StateReady:      {StateExited, StateKilled},
}

func canTransition(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateObserver is told about every state change
type StateObserver func(name string, from, to State)
