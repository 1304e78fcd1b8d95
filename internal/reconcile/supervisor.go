package reconcile

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"clustermembership/internal/clustermember"
	"clustermembership/internal/substrateport"
)

// errStreamClosed is the synthetic cause attached to a Disconnected delta
// when a watch channel closes without the executor reporting an error —
// spec §9's open question on clean-completion handling: treated as
// transient, always resubscribed, logged at warn.
var errStreamClosed = errors.New("stream closed without error")

// Supervisor runs the two long-lived substrate subscriptions (spec §4.5):
// membership events and leader-election events. Each runs its own
// subscribe → forward → on-error-sleep-resubscribe loop, feeding the
// reconciler transition-only actions with no side effect.
type Supervisor struct {
	Membership        substrateport.MembershipExecutor
	Election          substrateport.LeaderElectionExecutor
	Reconciler        *Reconciler
	ReconnectInterval time.Duration

	wg sync.WaitGroup
}

// Start launches both subscription loops. They run until ctx is cancelled.
func (sv *Supervisor) Start(ctx context.Context) {
	sv.wg.Add(2)
	go func() { defer sv.wg.Done(); sv.watchMembership(ctx) }()
	go func() { defer sv.wg.Done(); sv.watchElection(ctx) }()
}

// Wait blocks until both subscription loops have returned (i.e. their
// context was cancelled and they unwound).
func (sv *Supervisor) Wait() { sv.wg.Wait() }

func (sv *Supervisor) watchMembership(ctx context.Context) {
	for ctx.Err() == nil {
		events, err := sv.Membership.WatchMembershipEvents(ctx)
		if err != nil {
			log.Printf("[supervisor] membership watch subscribe failed: %v", err)
			sv.Reconciler.Submit(membershipEventAction(clustermember.MembershipEvent{
				Kind: clustermember.MembershipDisconnected, Cause: err,
			}))
			if !sv.sleep(ctx) {
				return
			}
			continue
		}

		for evt := range events {
			sv.Reconciler.Submit(membershipEventAction(evt))
		}
		if ctx.Err() != nil {
			return
		}

		log.Printf("[supervisor] membership stream ended; treating as transient, resubscribing in %s", sv.ReconnectInterval)
		sv.Reconciler.Submit(membershipEventAction(clustermember.MembershipEvent{
			Kind: clustermember.MembershipDisconnected, Cause: errStreamClosed,
		}))
		if !sv.sleep(ctx) {
			return
		}
	}
}

func (sv *Supervisor) watchElection(ctx context.Context) {
	for ctx.Err() == nil {
		events, err := sv.Election.WatchLeaderElectionProcessUpdates(ctx)
		if err != nil {
			log.Printf("[supervisor] leader-election watch subscribe failed: %v", err)
			sv.Reconciler.Submit(leaderElectionEventAction(clustermember.LeaderElectionEvent{
				Kind: clustermember.LeaderElectionDisconnected, Cause: err,
			}))
			if !sv.sleep(ctx) {
				return
			}
			continue
		}

		for evt := range events {
			sv.Reconciler.Submit(leaderElectionEventAction(evt))
		}
		if ctx.Err() != nil {
			return
		}

		log.Printf("[supervisor] leader-election stream ended; treating as transient, resubscribing in %s", sv.ReconnectInterval)
		sv.Reconciler.Submit(leaderElectionEventAction(clustermember.LeaderElectionEvent{
			Kind: clustermember.LeaderElectionDisconnected, Cause: errStreamClosed,
		}))
		if !sv.sleep(ctx) {
			return
		}
	}
}

// sleep waits ReconnectInterval, or returns false early if ctx is cancelled.
func (sv *Supervisor) sleep(ctx context.Context) bool {
	select {
	case <-time.After(sv.ReconnectInterval):
		return true
	case <-ctx.Done():
		return false
	}
}

func membershipEventAction(evt clustermember.MembershipEvent) clustermember.Action {
	return clustermember.Action{
		Name: "membership-event",
		Run: func(_ context.Context, _ *clustermember.ClusterState) (clustermember.Transition, error) {
			return func(s *clustermember.ClusterState) (*clustermember.ClusterState, []clustermember.DeltaEvent, error) {
				return s.ProcessMembershipEvent(evt)
			}, nil
		},
	}
}

func leaderElectionEventAction(evt clustermember.LeaderElectionEvent) clustermember.Action {
	return clustermember.Action{
		Name: "leader-election-event",
		Run: func(_ context.Context, _ *clustermember.ClusterState) (clustermember.Transition, error) {
			return func(s *clustermember.ClusterState) (*clustermember.ClusterState, []clustermember.DeltaEvent, error) {
				return s.ProcessLeaderElectionEvent(evt)
			}, nil
		},
	}
}
