// Package pagedesc defines the page descriptor and its lifecycle state
// machine. A descriptor is a slot in a fixed-size pool; page_addr is the
// slot's current tenant, not the slot's identity.
package pagedesc

import "fmt"

// State is one of the five lifecycle states a descriptor can occupy.
type State uint8

const (
	// Free descriptors sit in the free-list only and carry no page.
	Free State = iota
	// Filling descriptors are owned by exactly one fill worker.
	Filling
	// Present descriptors are resident and visible to the mapped region.
	Present
	// Updating descriptors are being promoted to a writable mapping.
	Updating
	// Leaving descriptors are owned by exactly one evict worker.
	Leaving
)

func (s State) String() string {
	switch s {
	case Free:
		return "FREE"
	case Filling:
		return "FILLING"
	case Present:
		return "PRESENT"
	case Updating:
		return "UPDATING"
	case Leaving:
		return "LEAVING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// transitions enumerates every permitted (from, to) edge in the state
// machine. Any pair missing from this table is a programming error.
var transitions = map[State]map[State]bool{
	Free:     {Filling: true},
	Filling:  {Present: true},
	Present:  {Updating: true, Leaving: true},
	Updating: {Present: true},
	Leaving:  {Free: true},
}

// ErrInvalidTransition reports an attempted state change that the state
// machine in §4.1 does not permit.
type ErrInvalidTransition struct {
	From, To State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid page descriptor transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether from->to is a legal edge.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}
