package runtime

import "fmt"

// State is the lifecycle stage an add-on instance occupies.
type State int

// Lifecycle states. Created → Initializing → Running → Destroying → Destroyed
// is the normal path; Failed is entered from Initializing or Running and is
// still cleaned up through Destroying → Destroyed.
const (
	StateCreated State = iota
	StateInitializing
	StateRunning
	StateDestroying
	StateDestroyed
	StateFailed
)

var stateNames = map[State]string{
	StateCreated:      "created",
	StateInitializing: "initializing",
	StateRunning:      "running",
	StateDestroying:   "destroying",
	StateDestroyed:    "destroyed",
	StateFailed:       "failed",
}

// AllStates lists every state in declaration order.
var AllStates = []State{
	StateCreated,
	StateInitializing,
	StateRunning,
	StateDestroying,
	StateDestroyed,
	StateFailed,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name so it reads well in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// needsDestroy reports whether StopAll still owes the instance a Destroy call.
func (s State) needsDestroy() bool {
	return s == StateRunning || s == StateFailed
}
