package orchestrator

// State is one state of the dev orchestrator's state machine (spec
// §4.10). All transitions are serialized through the orchestrator's own
// run loop; nothing else is permitted to mutate it directly.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Running
	Restarting
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Running:
		return "Running"
	case Restarting:
		return "Restarting"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
