package reconcile

import (
	"context"
	"time"

	"clustermembership/internal/actions"
	"clustermembership/internal/clustermember"
	"clustermembership/internal/substrateport"
)

// Provider is the reconciliation actions provider: given current state, it
// emits the list of self-actions needed to converge (heartbeat refresh,
// stale-sibling GC, leadership campaign restart), in that order, at most one
// of each per batch.
type Provider struct {
	Membership substrateport.MembershipExecutor
	Election   substrateport.LeaderElectionExecutor

	// HeartbeatSelfUpdate customizes the payload written on a heartbeat
	// refresh beyond the revision bump (e.g. flip Active based on a local
	// health probe). Defaults to preserving the existing payload unchanged.
	HeartbeatSelfUpdate actions.SelfUpdate
}

// Actions returns the housekeeping batch for the given state.
// desiredInLeaderElection is the connector's current leader-election
// intent: has the caller asked to be in the leadership pool? This is
// tracked separately from ClusterState.InLeaderElectionProcess(), which
// reflects the last *observed* campaign status and gets reset on a
// leader-election stream disconnect — the divergence between the two is
// exactly what triggers a re-join after a substrate reconnect.
func (p *Provider) Actions(state *clustermember.ClusterState, now time.Time, desiredInLeaderElection bool) []clustermember.Action {
	var batch []clustermember.Action

	if heartbeat := p.heartbeatAction(state, now); heartbeat != nil {
		batch = append(batch, *heartbeat)
	}

	batch = append(batch, staleSiblingGCAction(state))

	if leadership := p.leadershipAction(state, desiredInLeaderElection); leadership != nil {
		batch = append(batch, *leadership)
	}

	return batch
}

func (p *Provider) heartbeatAction(state *clustermember.ClusterState, now time.Time) *clustermember.Action {
	local := state.LocalMember()
	cfg := state.Config()
	if now.UnixMilli()-local.Timestamp <= cfg.HeartbeatInterval.Milliseconds() {
		return nil
	}

	update := p.HeartbeatSelfUpdate
	if update == nil {
		update = func(m clustermember.ClusterMember) clustermember.MemberRevision[clustermember.ClusterMember] {
			return clustermember.MemberRevision[clustermember.ClusterMember]{
				Payload:        m,
				RevisionNumber: local.RevisionNumber + 1,
			}
		}
	}
	action := actions.RegisterLocal(p.Membership, update)
	action.Name = "refreshLocal"
	return &action
}

func staleSiblingGCAction(state *clustermember.ClusterState) clustermember.Action {
	factor := state.Config().StaleGCFactor
	return clustermember.Action{
		Name: "staleSiblingGC",
		Run: func(_ context.Context, _ *clustermember.ClusterState) (clustermember.Transition, error) {
			return func(s *clustermember.ClusterState) (*clustermember.ClusterState, []clustermember.DeltaEvent, error) {
				return s.PurgeStaleSiblings(factor)
			}, nil
		},
	}
}

func (p *Provider) leadershipAction(state *clustermember.ClusterState, desired bool) *clustermember.Action {
	observed := state.InLeaderElectionProcess()
	switch {
	case desired && !observed:
		a := actions.JoinLeadershipGroup(p.Election)
		return &a
	case !desired && observed:
		a := actions.LeaveLeadershipGroup(p.Election, false)
		return &a
	default:
		return nil
	}
}
