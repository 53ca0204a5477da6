package pagedesc

// Descriptor is a slot in the Buffer's fixed pool. It represents at most
// one resident page at a time; Slot is the descriptor's identity, PageAddr
// is whichever page currently tenants it.
//
// Descriptor is not safe for concurrent use on its own — every field is
// mutated only by the Buffer, under the Buffer's mutex, or by whichever
// worker currently owns the descriptor's transient state (FILLING,
// UPDATING, LEAVING).
type Descriptor struct {
	// Slot is the fixed index of this descriptor in the pool. It never
	// changes for the lifetime of the Buffer.
	Slot int

	// PageAddr is the virtual address of the page this slot represents.
	// Undefined (stale) while State == Free.
	PageAddr uint64

	// Dirty is set when the page has been written since it entered
	// Present, and cleared when the slot returns to Free.
	Dirty bool

	// admitted orders descriptors within the busy queue: lower values were
	// admitted earlier. It is assigned once, when the descriptor leaves
	// Free, and is only meaningful relative to other live descriptors.
	admitted uint64

	state State
}

// State returns the descriptor's current lifecycle state.
func (d *Descriptor) State() State {
	return d.state
}

// Transition moves the descriptor from its current state to to, returning
// ErrInvalidTransition if the edge is not permitted by §4.1. Callers must
// hold the owning Buffer's mutex (or, for Filling/Updating/Leaving, be the
// single worker that currently owns the descriptor).
func (d *Descriptor) Transition(to State) error {
	if !CanTransition(d.state, to) {
		return ErrInvalidTransition{From: d.state, To: to}
	}

	d.state = to

	return nil
}

// Admitted returns the admission sequence number used to order the busy
// queue. Only meaningful for non-Free descriptors.
func (d *Descriptor) Admitted() uint64 {
	return d.admitted
}

// SetAdmitted stamps the admission sequence number. Called once by the
// Buffer when a descriptor leaves Free.
func (d *Descriptor) SetAdmitted(seq uint64) {
	d.admitted = seq
}

// ForceState sets the descriptor's state directly, bypassing the
// transition table. It exists solely for §4.5's Filling-rollback recovery
// path (a failed fill never reaches Present, so it cannot take the
// Leaving->Free edge that every other route back to Free uses); any other
// use is a bug.
func (d *Descriptor) ForceState(s State) {
	d.state = s
}
