package session

// State represents where a session is in its lifecycle.
type State int

const (
	StateWaiting State = iota // created, start grace period running
	StateRunning              // ticking
	StateStopped              // terminal, removed from the server
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// allowed lists the legal lifecycle moves. Stopped is terminal.
var allowed = map[State][]State{
	StateWaiting: {StateRunning, StateStopped},
	StateRunning: {StateStopped},
	StateStopped: {},
}

// transition moves the session to next if the move is legal.
func (s *Session) transition(next State) bool {
	for _, valid := range allowed[s.state] {
		if next == valid {
			s.state = next
			return true
		}
	}
	return false
}
