package discovery

// State is a publisher's position in its advertisement state machine.
type State int32

const (
	StateClientStart State = iota
	StateClientRunning
	StateGroupUncommitted
	StateGroupRegistering
	StateGroupEstablished
	StateGroupCollision
	StateClientFailure
)

func (s State) String() string {
	switch s {
	case StateClientStart:
		return "client-start"
	case StateClientRunning:
		return "client-running"
	case StateGroupUncommitted:
		return "group-uncommitted"
	case StateGroupRegistering:
		return "group-registering"
	case StateGroupEstablished:
		return "group-established"
	case StateGroupCollision:
		return "group-collision"
	case StateClientFailure:
		return "client-failure"
	default:
		return "unknown"
	}
}
