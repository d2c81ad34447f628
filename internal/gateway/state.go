package gateway

// State is the lifecycle stage of a Connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// NoSequence marks a session that has not received a dispatch yet.
const NoSequence int64 = -1

// Session is what a new connection needs to resume where a previous one
// stopped.
type Session struct {
	ID        string
	Sequence  int64
	ResumeURL string
}

// Resumable reports whether the session can be resumed.
func (s Session) Resumable() bool {
	return s.ID != "" && s.Sequence != NoSequence
}
