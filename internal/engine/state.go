package engine

import (
	"fmt"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// State is the lifecycle state of a Reconstructor.
type State int32

const (
	StateUninitialized State = iota
	StateMetadataLoaded
	StateIdle
	StateRetrieving
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMetadataLoaded:
		return "metadata-loaded"
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

type stateTransition struct {
	from State
	to   State
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[stateTransition]bool{
	{StateUninitialized, StateMetadataLoaded}: true,

	// The first call builds the retrieval state on its way to Retrieving.
	{StateMetadataLoaded, StateRetrieving}: true,

	{StateIdle, StateRetrieving}: true,
	{StateRetrieving, StateIdle}: true,
}

// transition moves r from one state to another atomically.
func (r *Reconstructor[T]) transition(from, to State) error {
	if !validTransitions[stateTransition{from, to}] {
		return fmt.Errorf("%s -> %s: %w", from, to, mdrerrors.ErrInvalidTransition)
	}
	if !r.state.CompareAndSwap(int32(from), int32(to)) {
		current := r.State()
		if current == StateRetrieving {
			return fmt.Errorf("%w: %w", mdrerrors.ErrInvalidState, mdrerrors.ErrSessionBusy)
		}
		return fmt.Errorf("%s -> %s from %s: %w", from, to, current, mdrerrors.ErrInvalidTransition)
	}
	log.Debug("state transition", "session", r.id, "from", from.String(), "to", to.String())
	return nil
}

// State returns the current state.
func (r *Reconstructor[T]) State() State {
	return State(r.state.Load())
}
