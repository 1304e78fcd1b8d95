// Package connector assembles the reconciler, the actions library, the
// substrate ports and the event-stream supervisor into the public facade
// (spec §4.6): register/unregister/join/leave, accessors, and a
// delta-event stream. It is the only package a caller outside this module
// is expected to import.
package connector

import (
	"context"
	"fmt"

	"clustermembership/internal/actions"
	"clustermembership/internal/clustermember"
	"clustermembership/internal/reconcile"
	"clustermembership/internal/substrateport"
)

// Connector is the public handle onto one process's membership and
// leader-election participation.
type Connector struct {
	reconciler *reconcile.Reconciler
	supervisor *reconcile.Supervisor
	cfg        clustermember.Config

	membership substrateport.MembershipExecutor
	election   substrateport.LeaderElectionExecutor

	cancelSubs context.CancelFunc
}

// New constructs and starts a Connector for localID against membership and
// election, with the given initial local payload and config. The worker,
// the two substrate subscriptions, and the periodic timer are all acquired
// here and released on Shutdown.
func New(localID clustermember.MemberID, initial clustermember.ClusterMember, cfg clustermember.Config, membership substrateport.MembershipExecutor, election substrateport.LeaderElectionExecutor) *Connector {
	cfg = clustermember.DefaultConfig(cfg)
	clock := clustermember.SystemClock{}

	initial.MemberID = localID
	localRev := clustermember.MemberRevision[clustermember.ClusterMember]{
		Payload: initial, RevisionNumber: 0, Timestamp: clock.Now().UnixMilli(),
	}
	state := clustermember.NewClusterState(localRev, clock, cfg)

	provider := &reconcile.Provider{Membership: membership, Election: election}
	r := reconcile.New(state, provider)

	subCtx, cancel := context.WithCancel(context.Background())
	supervisor := &reconcile.Supervisor{
		Membership:        membership,
		Election:          election,
		Reconciler:        r,
		ReconnectInterval: cfg.ReconnectInterval,
	}

	c := &Connector{
		reconciler: r,
		supervisor: supervisor,
		cfg:        cfg,
		membership: membership,
		election:   election,
		cancelSubs: cancel,
	}

	r.Start()
	supervisor.Start(subCtx)
	return c
}

// Register submits a registerLocal action and blocks for its result.
func (c *Connector) Register(ctx context.Context, selfUpdate actions.SelfUpdate) (clustermember.MemberRevision[clustermember.ClusterMember], error) {
	state, err := c.reconciler.Apply(ctx, actions.RegisterLocal(c.membership, selfUpdate))
	if err != nil {
		return clustermember.MemberRevision[clustermember.ClusterMember]{}, err
	}
	return state.LocalMember(), nil
}

// Unregister submits an unregisterLocal action and blocks for its result.
func (c *Connector) Unregister(ctx context.Context, selfUpdate actions.SelfUpdate) (clustermember.MemberRevision[clustermember.ClusterMember], error) {
	state, err := c.reconciler.Apply(ctx, actions.UnregisterLocal(c.membership, selfUpdate))
	if err != nil {
		return clustermember.MemberRevision[clustermember.ClusterMember]{}, err
	}
	return state.LocalMember(), nil
}

// JoinLeadershipGroup submits a joinLeadershipGroup action, records the
// caller's intent to remain a campaign participant (so a later substrate
// reconnect re-issues the join), and blocks for the result.
func (c *Connector) JoinLeadershipGroup(ctx context.Context) error {
	c.reconciler.SetDesiredInLeaderElection(true)
	_, err := c.reconciler.Apply(ctx, actions.JoinLeadershipGroup(c.election))
	return err
}

// LeaveLeadershipGroup submits a leaveLeadershipGroup action and returns
// whether the campaign was actually left: !inLeaderElectionProcess after
// the action commits.
func (c *Connector) LeaveLeadershipGroup(ctx context.Context, onlyNonLeader bool) (bool, error) {
	if !onlyNonLeader {
		c.reconciler.SetDesiredInLeaderElection(false)
	}
	state, err := c.reconciler.Apply(ctx, actions.LeaveLeadershipGroup(c.election, onlyNonLeader))
	if err != nil {
		return false, err
	}
	left := !state.InLeaderElectionProcess()
	if left {
		c.reconciler.SetDesiredInLeaderElection(false)
	}
	return left, nil
}

// GetLocalMember reads the current committed local revision.
func (c *Connector) GetLocalMember() clustermember.MemberRevision[clustermember.ClusterMember] {
	return c.reconciler.Current().LocalMember()
}

// GetSiblings reads the current committed sibling map, filtered to
// non-stale entries.
func (c *Connector) GetSiblings() map[clustermember.MemberID]clustermember.MemberRevision[clustermember.ClusterMember] {
	return c.reconciler.Current().Siblings()
}

// FindCurrentLeader reads the current committed leader, if any.
func (c *Connector) FindCurrentLeader() (clustermember.MemberRevision[clustermember.LeadershipRecord], bool) {
	return c.reconciler.Current().CurrentLeader()
}

// MembershipChangeEvents subscribes to the delta-event stream: the first
// emission is a full snapshot, subsequent emissions are per-commit deltas.
// Call the returned cancel func to unsubscribe.
func (c *Connector) MembershipChangeEvents() (<-chan reconcile.Update, func()) {
	return c.reconciler.Changes()
}

// Shutdown stops accepting new actions, drains inflight work up to the
// configured grace period, cancels both substrate subscriptions, closes the
// change stream, and releases the worker. Idempotent.
func (c *Connector) Shutdown(ctx context.Context) error {
	c.cancelSubs()
	c.supervisor.Wait()
	if err := c.reconciler.Shutdown(ctx, c.cfg.ShutdownGrace); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
