package connector

import (
	"context"
	"testing"
	"time"

	"clustermembership/internal/clustermember"
	"clustermembership/internal/fakesubstrate"
)

func testConfig() clustermember.Config {
	return clustermember.DefaultConfig(clustermember.Config{
		HeartbeatInterval:    100 * time.Millisecond,
		StaleThreshold:       200 * time.Millisecond,
		ReconnectInterval:    10 * time.Millisecond,
		ReconcilerQuickCycle: 5 * time.Millisecond,
		ReconcilerLongCycle:  20 * time.Millisecond,
		ShutdownGrace:        time.Second,
		StaleGCFactor:        2,
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestRegisterObserveEchoNoDuplicate(t *testing.T) {
	hub := fakesubstrate.NewHub(clustermember.SystemClock{})
	client := fakesubstrate.NewClient(hub, "self")
	c := New("self", clustermember.ClusterMember{}, testConfig(), client, client)
	defer c.Shutdown(context.Background())

	rev, err := c.Register(context.Background(), func(m clustermember.ClusterMember) clustermember.MemberRevision[clustermember.ClusterMember] {
		m.Registered = true
		return clustermember.MemberRevision[clustermember.ClusterMember]{Payload: m, RevisionNumber: 1}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev.RevisionNumber != 1 {
		t.Fatalf("expected revision 1, got %d", rev.RevisionNumber)
	}
	if len(c.GetSiblings()) != 0 {
		t.Fatalf("expected no siblings (self never appears as a sibling), got %d", len(c.GetSiblings()))
	}
}

func TestHeartbeatBumpsRevisionOverTime(t *testing.T) {
	hub := fakesubstrate.NewHub(clustermember.SystemClock{})
	client := fakesubstrate.NewClient(hub, "self")
	c := New("self", clustermember.ClusterMember{}, testConfig(), client, client)
	defer c.Shutdown(context.Background())

	c.Register(context.Background(), func(m clustermember.ClusterMember) clustermember.MemberRevision[clustermember.ClusterMember] {
		m.Registered = true
		return clustermember.MemberRevision[clustermember.ClusterMember]{Payload: m, RevisionNumber: 1}
	})

	waitFor(t, 2*time.Second, func() bool {
		return c.GetLocalMember().RevisionNumber >= 4
	})
}

func TestSiblingFromOtherClientObservedAndFilteredWhenStale(t *testing.T) {
	hub := fakesubstrate.NewHub(clustermember.SystemClock{})
	selfClient := fakesubstrate.NewClient(hub, "self")
	c := New("self", clustermember.ClusterMember{}, testConfig(), selfClient, selfClient)
	defer c.Shutdown(context.Background())

	sibling := fakesubstrate.NewClient(hub, "A")
	sibling.WriteMemberRecord(context.Background(), clustermember.MemberRevision[clustermember.ClusterMember]{
		Payload: clustermember.ClusterMember{MemberID: "A", Registered: true}, RevisionNumber: 1,
	})

	waitFor(t, time.Second, func() bool {
		_, ok := c.GetSiblings()["A"]
		return ok
	})

	// A stops heartbeating; once its timestamp falls outside staleThreshold
	// it must drop out of getSiblings() (it may still live in the internal
	// map, but that's not observable through this accessor).
	waitFor(t, 2*time.Second, func() bool {
		_, ok := c.GetSiblings()["A"]
		return !ok
	})
}

func TestJoinThenLeaveNonLeader(t *testing.T) {
	hub := fakesubstrate.NewHub(clustermember.SystemClock{})
	selfClient := fakesubstrate.NewClient(hub, "self")
	c := New("self", clustermember.ClusterMember{}, testConfig(), selfClient, selfClient)
	defer c.Shutdown(context.Background())

	other := fakesubstrate.NewClient(hub, "other")
	other.JoinLeaderElection(context.Background(), "other")

	if err := c.JoinLeadershipGroup(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		leader, ok := c.FindCurrentLeader()
		return ok && leader.Payload.MemberID == "other"
	})

	left, err := c.LeaveLeadershipGroup(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !left {
		t.Fatal("expected leaveLeadershipGroup(onlyNonLeader=true) to return true while not leader")
	}
}

func TestLeaveOnlyNonLeaderNoopWhileLeader(t *testing.T) {
	hub := fakesubstrate.NewHub(clustermember.SystemClock{})
	selfClient := fakesubstrate.NewClient(hub, "self")
	c := New("self", clustermember.ClusterMember{}, testConfig(), selfClient, selfClient)
	defer c.Shutdown(context.Background())

	if err := c.JoinLeadershipGroup(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		leader, ok := c.FindCurrentLeader()
		return ok && leader.Payload.MemberID == "self"
	})

	left, err := c.LeaveLeadershipGroup(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left {
		t.Fatal("expected leaveLeadershipGroup(onlyNonLeader=true) to be a no-op while leader")
	}
}

func TestMembershipChangeEventsDeliversSnapshotThenDeltas(t *testing.T) {
	hub := fakesubstrate.NewHub(clustermember.SystemClock{})
	selfClient := fakesubstrate.NewClient(hub, "self")
	c := New("self", clustermember.ClusterMember{}, testConfig(), selfClient, selfClient)
	defer c.Shutdown(context.Background())

	updates, cancel := c.MembershipChangeEvents()
	defer cancel()

	first := <-updates
	if first.Snapshot == nil || len(first.Deltas) != 0 {
		t.Fatalf("expected synthetic snapshot with no deltas first, got %+v", first)
	}

	sibling := fakesubstrate.NewClient(hub, "A")
	sibling.WriteMemberRecord(context.Background(), clustermember.MemberRevision[clustermember.ClusterMember]{
		Payload: clustermember.ClusterMember{MemberID: "A"}, RevisionNumber: 1,
	})

	select {
	case update := <-updates:
		if len(update.Deltas) == 0 {
			t.Fatal("expected at least one delta for the sibling addition")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sibling-added update")
	}
}
