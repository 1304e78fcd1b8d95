// Package reconcile implements the single-writer reconciliation engine
// (spec §4.2): one worker goroutine serializes every externally submitted
// action and every periodic self-action against a single ClusterState,
// publishing each new state atomically and fanning out delta events to
// subscribers.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"clustermembership/internal/clustermember"
)

// Update is one emission of the changes() stream: the state as of the
// commit that produced it, and that commit's delta events. The first
// emission to a new subscriber is a synthetic snapshot with no deltas.
type Update struct {
	Snapshot *clustermember.ClusterState
	Deltas   []clustermember.DeltaEvent
}

type queuedAction struct {
	ctx      context.Context
	action   clustermember.Action
	resultCh chan applyResult // nil for fire-and-forget (Submit)
}

type applyResult struct {
	state *clustermember.ClusterState
	err   error
}

// Reconciler is the single-writer, single-threaded state holder described
// in spec §4.2.
type Reconciler struct {
	provider *Provider

	current atomic.Pointer[clustermember.ClusterState]

	mu    sync.Mutex
	queue []queuedAction

	desiredInLeaderElection atomic.Bool

	subsMu sync.Mutex
	subs   map[chan Update]struct{}

	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

// New constructs a Reconciler over the given initial state. Start must be
// called to begin the worker; Apply/Submit may be called beforehand (they
// simply enqueue) but won't be drained until Start runs.
func New(initial *clustermember.ClusterState, provider *Provider) *Reconciler {
	r := &Reconciler{
		provider: provider,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		subs:     make(map[chan Update]struct{}),
	}
	r.current.Store(initial)
	return r
}

// Start launches the worker goroutine.
func (r *Reconciler) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	cfg := r.current.Load().Config()
	go r.run(cfg.ReconcilerQuickCycle, cfg.ReconcilerLongCycle)
}

// Current returns the latest committed state. Safe for concurrent callers;
// ClusterState is immutable so publication is a single pointer store.
func (r *Reconciler) Current() *clustermember.ClusterState {
	return r.current.Load()
}

// SetDesiredInLeaderElection records whether the connector currently wants
// to be a leader-election campaign participant. The reconciliation actions
// provider compares this against the state's observed campaign status on
// every long cycle and re-issues join/leave to converge them.
func (r *Reconciler) SetDesiredInLeaderElection(v bool) {
	r.desiredInLeaderElection.Store(v)
}

// Apply enqueues action and blocks until it commits or fails, or until ctx
// is cancelled. Cancelling ctx before the action's side effect has started
// removes it from the queue (the caller observes ctx.Err()); cancelling
// after has no effect — the action runs to completion and its result is
// simply not delivered to this caller.
func (r *Reconciler) Apply(ctx context.Context, action clustermember.Action) (*clustermember.ClusterState, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("apply %s: %w", action.Name, clustermember.ErrShuttingDown)
	}
	resultCh := make(chan applyResult, 1)
	r.enqueue(queuedAction{ctx: ctx, action: action, resultCh: resultCh})

	select {
	case res := <-resultCh:
		return res.state, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit enqueues a fire-and-forget action — used by the event stream
// supervisor for transition-only actions with no caller waiting on the
// result. Errors are logged by the worker, never surfaced anywhere.
func (r *Reconciler) Submit(action clustermember.Action) {
	if r.closed.Load() {
		return
	}
	r.enqueue(queuedAction{ctx: context.Background(), action: action})
}

func (r *Reconciler) enqueue(qa queuedAction) {
	r.mu.Lock()
	r.queue = append(r.queue, qa)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Changes subscribes to the delta-event stream. The first value received on
// the returned channel is a synthetic snapshot of the current state with no
// deltas; subsequent values are emitted in commit order, one per committed
// transition that produced at least one delta. Call the returned cancel
// func to unsubscribe; it closes the channel.
func (r *Reconciler) Changes() (<-chan Update, func()) {
	ch := make(chan Update, 64)
	r.subsMu.Lock()
	r.subs[ch] = struct{}{}
	ch <- Update{Snapshot: r.current.Load()}
	r.subsMu.Unlock()

	cancel := func() {
		r.subsMu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.subsMu.Unlock()
	}
	return ch, cancel
}

func (r *Reconciler) publish(update Update) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- update:
		default:
			log.Printf("[reconciler] subscriber channel full, dropping update")
		}
	}
}

// Shutdown stops accepting new actions, drains inflight work up to grace,
// cancels the worker, and closes every subscriber channel. Idempotent.
func (r *Reconciler) Shutdown(ctx context.Context, grace time.Duration) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !r.started.Load() {
		// Never started: nothing to drain or stop.
		r.closeSubs()
		return nil
	}

	close(r.stopCh)
	select {
	case <-r.doneCh:
	case <-time.After(grace):
		log.Printf("[reconciler] shutdown grace period elapsed with worker still running")
	case <-ctx.Done():
	}

	r.failQueued()
	r.closeSubs()
	return nil
}

func (r *Reconciler) failQueued() {
	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()
	for _, qa := range pending {
		if qa.resultCh != nil {
			qa.resultCh <- applyResult{err: clustermember.ErrShuttingDown}
		}
	}
}

func (r *Reconciler) closeSubs() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ch := range r.subs {
		close(ch)
	}
	r.subs = make(map[chan Update]struct{})
}

// run is the single worker loop: one logical thread owns every state
// mutation (spec §5).
func (r *Reconciler) run(quickCycle, longCycle time.Duration) {
	defer close(r.doneCh)

	quick := time.NewTicker(quickCycle)
	long := time.NewTicker(longCycle)
	defer quick.Stop()
	defer long.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.wake:
			r.drainOne()
		case <-quick.C:
			r.drainOne()
		case <-long.C:
			r.drainOne()
			r.runHousekeeping()
		}
	}
}

// drainOne pops and executes at most one externally submitted action.
func (r *Reconciler) drainOne() {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	qa := r.queue[0]
	r.queue = r.queue[1:]
	r.mu.Unlock()

	if qa.ctx.Err() != nil {
		if qa.resultCh != nil {
			qa.resultCh <- applyResult{err: qa.ctx.Err()}
		}
		return
	}

	state, deltas, err := r.execute(context.WithoutCancel(qa.ctx), qa.action)
	if qa.resultCh != nil {
		qa.resultCh <- applyResult{state: state, err: err}
	} else if err != nil {
		log.Printf("[reconciler] action %s failed: %v", qa.action.Name, err)
	}
	if err == nil && len(deltas) > 0 {
		r.publish(Update{Snapshot: state, Deltas: deltas})
	}
}

// runHousekeeping consults the reconciliation actions provider and runs its
// batch one action at a time. Failures are logged and dropped — they'll be
// retried on the next long cycle (spec §4.3/§7).
func (r *Reconciler) runHousekeeping() {
	if r.provider == nil {
		return
	}
	state := r.current.Load()
	batch := r.provider.Actions(state, time.Now(), r.desiredInLeaderElection.Load())
	for _, action := range batch {
		newState, deltas, err := r.execute(context.Background(), action)
		if err != nil {
			log.Printf("[reconciler] housekeeping action %s failed, will retry next cycle: %v", action.Name, err)
			continue
		}
		if len(deltas) > 0 {
			r.publish(Update{Snapshot: newState, Deltas: deltas})
		}
	}
}

// execute runs action.Run (the side effect, if any) and, on success, applies
// the returned Transition to the currently committed state — this is the
// only place state actually changes.
func (r *Reconciler) execute(ctx context.Context, action clustermember.Action) (*clustermember.ClusterState, []clustermember.DeltaEvent, error) {
	state := r.current.Load()
	transition, err := action.Run(ctx, state)
	if err != nil {
		return nil, nil, err
	}
	newState, deltas, err := transition(state)
	if err != nil {
		return nil, nil, err
	}
	r.current.Store(newState)
	return newState, deltas, nil
}
