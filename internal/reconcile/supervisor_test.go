package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"clustermembership/internal/clustermember"
)

// flakyMembership hands out one channel per WatchMembershipEvents call, so a
// test can force a "stream error" by closing the channel it handed back and
// observe the supervisor resubscribe.
type flakyMembership struct {
	mu    sync.Mutex
	chans []chan clustermember.MembershipEvent
}

func (f *flakyMembership) WriteMemberRecord(ctx context.Context, rev clustermember.MemberRevision[clustermember.ClusterMember]) (clustermember.MemberRevision[clustermember.ClusterMember], error) {
	return rev, nil
}
func (f *flakyMembership) DeleteMemberRecord(ctx context.Context, id clustermember.MemberID) error {
	return nil
}
func (f *flakyMembership) WatchMembershipEvents(ctx context.Context) (<-chan clustermember.MembershipEvent, error) {
	ch := make(chan clustermember.MembershipEvent, 8)
	f.mu.Lock()
	f.chans = append(f.chans, ch)
	f.mu.Unlock()
	return ch, nil
}

// breakLatest closes the most recently handed-out channel, simulating the
// stream ending (error or clean completion — the supervisor treats both the
// same way: log, wait, resubscribe).
func (f *flakyMembership) breakLatest() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chans) == 0 {
		return
	}
	close(f.chans[len(f.chans)-1])
}

func (f *flakyMembership) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chans)
}

func (f *flakyMembership) send(evt clustermember.MembershipEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chans[len(f.chans)-1] <- evt
}

type noopElection struct{}

func (noopElection) JoinLeaderElection(ctx context.Context, id clustermember.MemberID) error { return nil }
func (noopElection) LeaveLeaderElection(ctx context.Context) error                           { return nil }
func (noopElection) WatchLeaderElectionProcessUpdates(ctx context.Context) (<-chan clustermember.LeaderElectionEvent, error) {
	ch := make(chan clustermember.LeaderElectionEvent)
	go func() { <-ctx.Done(); close(ch) }()
	return ch, nil
}

func TestSupervisorForwardsMembershipEventsIntoReconciler(t *testing.T) {
	cfg := clustermember.DefaultConfig(clustermember.Config{
		ReconcilerQuickCycle: time.Millisecond, ReconcilerLongCycle: time.Hour,
	})
	state, _, _ := newTestState(t, cfg)
	mem := &flakyMembership{}
	r := New(state, &Provider{Membership: mem, Election: noopElection{}})
	r.Start()
	defer r.Shutdown(context.Background(), time.Second)

	sv := &Supervisor{Membership: mem, Election: noopElection{}, Reconciler: r, ReconnectInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sv.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && mem.subscriptionCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	mem.send(clustermember.MembershipEvent{
		Kind: clustermember.SiblingAdded, MemberID: "A",
		Revision: clustermember.MemberRevision[clustermember.ClusterMember]{
			Payload: clustermember.ClusterMember{MemberID: "A"}, RevisionNumber: 1, Timestamp: time.Now().UnixMilli(),
		},
	})

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.Current().AllSiblings()["A"]; ok {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("expected forwarded SiblingAdded to land in reconciler state")
}

func TestSupervisorResubscribesAfterStreamEnds(t *testing.T) {
	cfg := clustermember.DefaultConfig(clustermember.Config{
		ReconcilerQuickCycle: time.Millisecond, ReconcilerLongCycle: time.Hour,
	})
	state, _, _ := newTestState(t, cfg)
	mem := &flakyMembership{}
	r := New(state, &Provider{Membership: mem, Election: noopElection{}})
	r.Start()
	defer r.Shutdown(context.Background(), time.Second)

	sv := &Supervisor{Membership: mem, Election: noopElection{}, Reconciler: r, ReconnectInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sv.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && mem.subscriptionCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	mem.breakLatest()

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && mem.subscriptionCount() < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	if mem.subscriptionCount() < 2 {
		t.Fatal("expected a resubscribe after the stream ended")
	}
}
