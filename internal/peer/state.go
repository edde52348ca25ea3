package peer

// State is the peer connection's explicit state machine. Within one
// connection states only advance forward, and FullyConnected is reachable
// only from VersionKnown. Connect on a Disconnected peer, or on a Banned
// peer whose ban has expired, attaches a fresh connection and returns the
// peer to Connected.
type State int

const (
	StateNew State = iota
	StateConnected
	StateVersionKnown
	StateFullyConnected
	StateDisconnected
	StateBanned
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnected:
		return "connected"
	case StateVersionKnown:
		return "version_known"
	case StateFullyConnected:
		return "fully_connected"
	case StateDisconnected:
		return "disconnected"
	case StateBanned:
		return "banned"
	default:
		return "unknown"
	}
}
