package client

// State is where a client connection is in its lifecycle.
type State int32

const (
	StateDisconnected State = iota // no transport, or the transport dropped
	StateConnected                 // handshake accepted, not in a running session
	StatePlaying                   // in a session that has started
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StatePlaying:
		return "playing"
	}
	return "unknown"
}

var transitions = map[State][]State{
	StateDisconnected: {StateConnected},
	StateConnected:    {StatePlaying, StateDisconnected},
	StatePlaying:      {StateConnected, StateDisconnected},
}

// Transition reports whether moving from s to next is legal.
func (s State) Transition(next State) bool {
	for _, valid := range transitions[s] {
		if next == valid {
			return true
		}
	}
	return false
}
