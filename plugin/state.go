package plugin

// State is the lifecycle position of an instance.
//
//	New -initialize-> Ready -create-> Active -destroy-> Destroyed -terminate-> Dead
type State int

const (
	StateNew State = iota
	StateReady
	StateActive
	StateDestroyed
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateDestroyed:
		return "destroyed"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}
