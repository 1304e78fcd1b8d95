package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"clustermembership/internal/clustermember"
)

type stubMembership struct {
	writeRev clustermember.MemberRevision[clustermember.ClusterMember]
	writeErr error
	deleteErr error
	lastDeletedID clustermember.MemberID
}

func (s *stubMembership) WriteMemberRecord(ctx context.Context, rev clustermember.MemberRevision[clustermember.ClusterMember]) (clustermember.MemberRevision[clustermember.ClusterMember], error) {
	if s.writeErr != nil {
		return clustermember.MemberRevision[clustermember.ClusterMember]{}, s.writeErr
	}
	if s.writeRev.RevisionNumber != 0 {
		return s.writeRev, nil
	}
	return rev, nil
}

func (s *stubMembership) DeleteMemberRecord(ctx context.Context, id clustermember.MemberID) error {
	s.lastDeletedID = id
	return s.deleteErr
}

func (s *stubMembership) WatchMembershipEvents(ctx context.Context) (<-chan clustermember.MembershipEvent, error) {
	return nil, errors.New("not implemented")
}

type stubElection struct {
	joinErr, leaveErr error
	joined            bool
	left              bool
}

func (s *stubElection) JoinLeaderElection(ctx context.Context, id clustermember.MemberID) error {
	s.joined = true
	return s.joinErr
}

func (s *stubElection) LeaveLeaderElection(ctx context.Context) error {
	s.left = true
	return s.leaveErr
}

func (s *stubElection) WatchLeaderElectionProcessUpdates(ctx context.Context) (<-chan clustermember.LeaderElectionEvent, error) {
	return nil, errors.New("not implemented")
}

func newState(t *testing.T) *clustermember.ClusterState {
	t.Helper()
	clock := clustermember.NewFakeClock(time.Unix(1_700_000_000, 0))
	cfg := clustermember.DefaultConfig(clustermember.Config{StaleThreshold: 30 * time.Second})
	local := clustermember.MemberRevision[clustermember.ClusterMember]{
		Payload:        clustermember.ClusterMember{MemberID: "self", Registered: true},
		RevisionNumber: 1,
		Timestamp:      clock.Now().UnixMilli(),
	}
	return clustermember.NewClusterState(local, clock, cfg)
}

func TestRegisterLocalCommitsEchoedRevision(t *testing.T) {
	state := newState(t)
	echoed := clustermember.MemberRevision[clustermember.ClusterMember]{
		Payload:        clustermember.ClusterMember{MemberID: "self", Registered: true},
		RevisionNumber: 7,
		Timestamp:      12345,
	}
	mem := &stubMembership{writeRev: echoed}
	action := RegisterLocal(mem, func(m clustermember.ClusterMember) clustermember.MemberRevision[clustermember.ClusterMember] {
		m.Registered = true
		return clustermember.MemberRevision[clustermember.ClusterMember]{Payload: m, RevisionNumber: 2}
	})

	transition, err := action.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	next, _, err := transition(state)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if next.LocalMember().RevisionNumber != 7 {
		t.Fatalf("expected committed revision to be the echoed one (7), got %d", next.LocalMember().RevisionNumber)
	}
}

func TestRegisterLocalPropagatesWriteError(t *testing.T) {
	state := newState(t)
	mem := &stubMembership{writeErr: clustermember.ErrSubstrateUnavailable}
	action := RegisterLocal(mem, func(m clustermember.ClusterMember) clustermember.MemberRevision[clustermember.ClusterMember] {
		return clustermember.MemberRevision[clustermember.ClusterMember]{Payload: m, RevisionNumber: 2}
	})
	_, err := action.Run(context.Background(), state)
	if !errors.Is(err, clustermember.ErrSubstrateUnavailable) {
		t.Fatalf("expected ErrSubstrateUnavailable, got %v", err)
	}
}

func TestUnregisterLocalClearsLeadership(t *testing.T) {
	state := newState(t)
	state, _, _ = state.ProcessLeaderElectionEvent(clustermember.LeaderElectionEvent{Kind: clustermember.LocalJoined})
	mem := &stubMembership{}
	action := UnregisterLocal(mem, func(m clustermember.ClusterMember) clustermember.MemberRevision[clustermember.ClusterMember] {
		return clustermember.MemberRevision[clustermember.ClusterMember]{Payload: m, RevisionNumber: state.LocalMember().RevisionNumber + 1}
	})
	transition, err := action.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	next, _, err := transition(state)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if next.LocalMember().Payload.Registered {
		t.Fatal("expected Registered=false after unregister")
	}
	if next.InLeaderElectionProcess() {
		t.Fatal("expected campaign to be cleared after unregister")
	}
	if next.LocalLeadership().Payload.Role != clustermember.RoleDisabled {
		t.Fatalf("expected leadership role Disabled, got %v", next.LocalLeadership().Payload.Role)
	}
	if mem.lastDeletedID != "self" {
		t.Fatalf("expected delete for self, got %q", mem.lastDeletedID)
	}
}

func TestLeaveLeadershipGroupOnlyNonLeaderNoopWhileLeader(t *testing.T) {
	state := newState(t)
	state, _, _ = state.ProcessLeaderElectionEvent(clustermember.LeaderElectionEvent{Kind: clustermember.LocalJoined})
	state, _, _ = state.ProcessLeaderElectionEvent(clustermember.LeaderElectionEvent{
		Kind: clustermember.LeaderElected, MemberID: "self",
		Revision: clustermember.MemberRevision[clustermember.LeadershipRecord]{Payload: clustermember.LeadershipRecord{MemberID: "self", Role: clustermember.RoleLeader}, RevisionNumber: 1},
	})

	election := &stubElection{}
	action := LeaveLeadershipGroup(election, true)
	transition, err := action.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	next, _, err := transition(state)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if election.left {
		t.Fatal("expected no substrate LeaveLeaderElection call while leader")
	}
	if !next.InLeaderElectionProcess() {
		t.Fatal("expected campaign to remain active (no-op) while leader")
	}
}

func TestLeaveLeadershipGroupLeavesWhenNotLeader(t *testing.T) {
	state := newState(t)
	state, _, _ = state.ProcessLeaderElectionEvent(clustermember.LeaderElectionEvent{Kind: clustermember.LocalJoined})
	state, _, _ = state.ProcessLeaderElectionEvent(clustermember.LeaderElectionEvent{
		Kind: clustermember.LeaderElected, MemberID: "other",
		Revision: clustermember.MemberRevision[clustermember.LeadershipRecord]{Payload: clustermember.LeadershipRecord{MemberID: "other", Role: clustermember.RoleLeader}, RevisionNumber: 1},
	})

	election := &stubElection{}
	action := LeaveLeadershipGroup(election, true)
	transition, err := action.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	next, _, err := transition(state)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !election.left {
		t.Fatal("expected substrate LeaveLeaderElection call when not leader")
	}
	if next.InLeaderElectionProcess() {
		t.Fatal("expected campaign to be stopped")
	}
}
