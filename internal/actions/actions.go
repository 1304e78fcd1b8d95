// Package actions is the substrate action library (spec §4.4): pure
// factories that, given context and the state an action will run against,
// produce the (sideEffect, transition) pair the reconciler executes. Nothing
// here is invoked directly by callers — the connector facade submits these
// to the reconciler, which owns when Run actually executes.
package actions

import (
	"context"
	"fmt"
	"log"

	"clustermembership/internal/clustermember"
	"clustermembership/internal/substrateport"
)

// SelfUpdate lets a caller bump the local member's payload (version,
// active flag, labels, ...) just before it's written to the substrate.
type SelfUpdate func(clustermember.ClusterMember) clustermember.MemberRevision[clustermember.ClusterMember]

// RegisterLocal writes selfUpdate's result to the substrate and, on
// success, commits whatever revision the substrate echoed back (it may
// normalize the timestamp).
func RegisterLocal(membership substrateport.MembershipExecutor, selfUpdate SelfUpdate) clustermember.Action {
	return clustermember.Action{
		Name: "registerLocal",
		Run: func(ctx context.Context, state *clustermember.ClusterState) (clustermember.Transition, error) {
			desired := selfUpdate(state.LocalMember().Payload.Clone())
			corrID := clustermember.CorrelationID()
			log.Printf("[registerLocal] corrId=%s writing member=%s rev=%d", corrID, desired.Payload.MemberID, desired.RevisionNumber)
			written, err := membership.WriteMemberRecord(ctx, desired)
			if err != nil {
				return nil, fmt.Errorf("registerLocal: corrId=%s: %w", corrID, err)
			}
			return func(s *clustermember.ClusterState) (*clustermember.ClusterState, []clustermember.DeltaEvent, error) {
				return s.SetLocalMemberRevision(written)
			}, nil
		},
	}
}

// UnregisterLocal deletes this member's substrate record and, on success,
// marks the local record unregistered and clears leadership — the member is
// no longer a campaign participant once it has withdrawn from membership.
func UnregisterLocal(membership substrateport.MembershipExecutor, selfUpdate SelfUpdate) clustermember.Action {
	return clustermember.Action{
		Name: "unregisterLocal",
		Run: func(ctx context.Context, state *clustermember.ClusterState) (clustermember.Transition, error) {
			localID := state.LocalMember().Payload.MemberID
			desired := selfUpdate(state.LocalMember().Payload.Clone())
			desired.Payload.Registered = false

			if err := membership.DeleteMemberRecord(ctx, localID); err != nil {
				return nil, fmt.Errorf("unregisterLocal: %w", err)
			}

			return func(s *clustermember.ClusterState) (*clustermember.ClusterState, []clustermember.DeltaEvent, error) {
				next, deltas, err := s.SetLocalMemberRevision(desired)
				if err != nil {
					return s, nil, err
				}
				next, leaveDeltas, err := next.SetInLeaderElectionProcess(false)
				if err != nil {
					return s, nil, err
				}
				deltas = append(deltas, leaveDeltas...)
				next, roleDeltas, err := next.SetLocalLeadershipRevision(clustermember.MemberRevision[clustermember.LeadershipRecord]{
					Payload:        clustermember.LeadershipRecord{MemberID: localID, Role: clustermember.RoleDisabled},
					RevisionNumber: next.LocalLeadership().RevisionNumber + 1,
					Timestamp:      s.Clock().Now().UnixMilli(),
				})
				if err != nil {
					return s, nil, err
				}
				deltas = append(deltas, roleDeltas...)
				return next, deltas, nil
			}, nil
		},
	}
}

// JoinLeadershipGroup starts a substrate campaign for this member.
func JoinLeadershipGroup(election substrateport.LeaderElectionExecutor) clustermember.Action {
	return clustermember.Action{
		Name: "joinLeadershipGroup",
		Run: func(ctx context.Context, state *clustermember.ClusterState) (clustermember.Transition, error) {
			localID := state.LocalMember().Payload.MemberID
			if err := election.JoinLeaderElection(ctx, localID); err != nil {
				return nil, fmt.Errorf("joinLeadershipGroup: %w", err)
			}
			return func(s *clustermember.ClusterState) (*clustermember.ClusterState, []clustermember.DeltaEvent, error) {
				return s.SetInLeaderElectionProcess(true)
			}, nil
		},
	}
}

// LeaveLeadershipGroup stops this member's campaign. If onlyNonLeader is
// true and this member currently holds the leadership, the side effect is a
// no-op and the transition is identity — we don't resign while holding the
// lease just because a caller asked to "leave if not leader".
func LeaveLeadershipGroup(election substrateport.LeaderElectionExecutor, onlyNonLeader bool) clustermember.Action {
	return clustermember.Action{
		Name: "leaveLeadershipGroup",
		Run: func(ctx context.Context, state *clustermember.ClusterState) (clustermember.Transition, error) {
			if onlyNonLeader {
				if leader, ok := state.CurrentLeader(); ok && leader.Payload.MemberID == state.LocalMember().Payload.MemberID {
					return clustermember.Identity, nil
				}
			}
			if err := election.LeaveLeaderElection(ctx); err != nil {
				return nil, fmt.Errorf("leaveLeadershipGroup: %w", err)
			}
			return func(s *clustermember.ClusterState) (*clustermember.ClusterState, []clustermember.DeltaEvent, error) {
				return s.SetInLeaderElectionProcess(false)
			}, nil
		},
	}
}
