package fetch

// State is a step of a fetch run.
type State int

const (
	StateIdle State = iota
	StateTokenAcquired
	StateBatchInFlight
	StateBatchComplete
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTokenAcquired:
		return "token_acquired"
	case StateBatchInFlight:
		return "batch_in_flight"
	case StateBatchComplete:
		return "batch_complete"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
