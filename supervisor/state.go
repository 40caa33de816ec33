package supervisor

// State is the lifecycle position of a supervised process.
type State string

const (
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
)

// Terminal states accept no further transitions.
var allowedTransitions = map[State]map[State]struct{}{
	StateStarting: {
		StateReady:      {},
		StateFailed:     {},
		StateTerminated: {}, // Stop during startup.
	},
	StateReady: {
		StateTerminated: {},
		StateFailed:     {}, // Exit without a stop request.
	},
}

func canTransition(from, to State) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Terminal reports whether the state is final for its handle.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateTerminated
}
