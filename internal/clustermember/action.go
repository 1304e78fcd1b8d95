package clustermember

import "context"

// Transition is a pure state update: given the state it is committed
// against, it produces the next state and the delta events that transition
// emits. Every exported method on ClusterState already has this shape;
// Transition lets the action library and the reconciler pass "apply this"
// around as a value.
type Transition func(*ClusterState) (*ClusterState, []DeltaEvent, error)

// Action is a deferred computation submitted to the reconciler: given the
// state it will run against, it performs (at most one) substrate side
// effect and returns the Transition to commit on success. An Action with no
// I/O (e.g. one built from an already-received substrate event) simply does
// no work in Run beyond returning its Transition.
type Action struct {
	// Name identifies the action for logging (e.g. "registerLocal",
	// "membership-event").
	Name string

	// Run performs the side effect, if any, against ctx and returns the
	// Transition to apply on success. A non-nil error means no transition
	// should be applied.
	Run func(ctx context.Context, state *ClusterState) (Transition, error)
}

// Identity is the no-op Transition: same state, no deltas, no error.
func Identity(s *ClusterState) (*ClusterState, []DeltaEvent, error) { return s, nil, nil }
