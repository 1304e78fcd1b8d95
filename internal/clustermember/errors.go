package clustermember

import "errors"

// The four error kinds named in spec §7. Substrate ports and the reconciler
// wrap these with context via fmt.Errorf("...: %w", ErrX); callers compare
// with errors.Is.
var (
	// ErrSubstrateUnavailable means a substrate read/write failed because the
	// substrate is unreachable. Recovered by retry on the next reconciliation
	// cycle.
	ErrSubstrateUnavailable = errors.New("substrate unavailable")

	// ErrConflict means an optimistic-concurrency conflict on a member
	// record raced with another writer. Recovered by the next membership
	// event realigning local state; the current action fails.
	ErrConflict = errors.New("conflict")

	// ErrShuttingDown means the connector has begun shutdown and no longer
	// accepts new actions. Fatal for the caller.
	ErrShuttingDown = errors.New("shutting down")

	// ErrInvalidTransition means a transition was rejected by a ClusterState
	// invariant (e.g. a non-monotonic revision number). Indicates a
	// programmer bug upstream; never expected in normal operation.
	ErrInvalidTransition = errors.New("invalid transition")
)
