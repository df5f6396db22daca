package realtime

import "time"

// State is the lifecycle position of the notification connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ReconnectWait
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectWait:
		return "reconnect_wait"
	default:
		return "unknown"
	}
}

// Event is an input to the connection state machine.
type Event interface {
	event()
}

type (
	// ConnectRequested is raised by an explicit Connect call.
	ConnectRequested struct{}
	// DialFailed means one dial or handshake attempt did not complete.
	DialFailed struct {
		Attempt int
		Err     error
	}
	// RetryStarted fires when the inter-attempt delay elapses and the next dial begins.
	RetryStarted struct {
		Attempt int
	}
	// RetriesExhausted ends a connect cycle without a connection.
	RetriesExhausted struct {
		Attempts int
	}
	// TransportConnected is the namespace connect acknowledgement.
	TransportConnected struct {
		SID string
	}
	// JoinAcknowledged carries the server's courses-joined answer.
	JoinAcknowledged struct {
		Accepted []string
		Rejected []string
	}
	// TransportDisconnected reports an established connection dropping.
	TransportDisconnected struct {
		Err error
	}
	// DisconnectRequested is raised by an explicit Disconnect call.
	DisconnectRequested struct{}
)

func (ConnectRequested) event()      {}
func (DialFailed) event()            {}
func (RetryStarted) event()          {}
func (RetriesExhausted) event()      {}
func (TransportConnected) event()    {}
func (JoinAcknowledged) event()      {}
func (TransportDisconnected) event() {}
func (DisconnectRequested) event()   {}

// Transition returns the state reached from s on ev. Inputs that make no
// sense in s leave it unchanged.
func Transition(s State, ev Event) State {
	switch ev.(type) {
	case DisconnectRequested, RetriesExhausted:
		return Disconnected
	case ConnectRequested:
		if s == Disconnected {
			return Connecting
		}
	case DialFailed:
		if s == Connecting {
			return ReconnectWait
		}
	case RetryStarted:
		if s == ReconnectWait {
			return Connecting
		}
	case TransportConnected:
		if s == Connecting {
			return Connected
		}
	case JoinAcknowledged:
		// acks only refine a live connection
	case TransportDisconnected:
		if s == Connected || s == Connecting {
			return ReconnectWait
		}
	}
	return s
}

const (
	// ReconnectAttempts is the dial budget of one connect cycle.
	ReconnectAttempts = 5
	// ReconnectDelay separates consecutive dial attempts.
	ReconnectDelay = time.Second
	// DefaultHandshakeTimeout bounds dial plus namespace connect.
	DefaultHandshakeTimeout = 20 * time.Second
)
