// Package connection owns the live event stream: connect, heartbeat,
// exponential backoff and the state machine tying them together.
package connection

// State is the connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

func (s State) String() string {
	return string(s)
}

// Active reports whether the machine is trying to hold a stream open
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}
