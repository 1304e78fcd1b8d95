// Package fakesubstrate provides an in-memory stand-in for the external
// substrate: a shared Hub that multiple Client handles can join, each
// implementing substrateport.MembershipExecutor and
// substrateport.LeaderElectionExecutor. Grounded on the in-memory election
// backend idiom (broadcast-with-drop over buffered per-watcher channels,
// lexicographically-smallest-ID leader pick) — suitable for tests and the
// demo binary, not a production substrate.
package fakesubstrate

import (
	"context"
	"sync"

	"clustermembership/internal/clustermember"
)

// Hub is the shared in-memory substrate state. Every Client created with
// NewClient against the same Hub observes the others' writes and campaign
// activity.
type Hub struct {
	clock clustermember.Clock

	mu      sync.Mutex
	members map[clustermember.MemberID]clustermember.MemberRevision[clustermember.ClusterMember]

	membershipSubs map[chan clustermember.MembershipEvent]struct{}

	campaign       map[clustermember.MemberID]struct{}
	leader         *clustermember.MemberRevision[clustermember.LeadershipRecord]
	leaderRevision int64
	leadershipSubs map[chan clustermember.LeaderElectionEvent]struct{}
}

// NewHub constructs an empty shared substrate.
func NewHub(clock clustermember.Clock) *Hub {
	return &Hub{
		clock:          clock,
		members:        make(map[clustermember.MemberID]clustermember.MemberRevision[clustermember.ClusterMember]),
		membershipSubs: make(map[chan clustermember.MembershipEvent]struct{}),
		campaign:       make(map[clustermember.MemberID]struct{}),
		leadershipSubs: make(map[chan clustermember.LeaderElectionEvent]struct{}),
	}
}

// broadcastMembership holds h.mu across the send loop so it can never race
// subscribeMembership's register/unregister mutation of h.membershipSubs.
func (h *Hub) broadcastMembership(evt clustermember.MembershipEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.membershipSubs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// broadcastLeadership holds h.mu across the send loop for the same reason
// as broadcastMembership.
func (h *Hub) broadcastLeadership(evt clustermember.LeaderElectionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.leadershipSubs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// writeMember upserts a member record and broadcasts the appropriate event.
func (h *Hub) writeMember(rev clustermember.MemberRevision[clustermember.ClusterMember]) clustermember.MemberRevision[clustermember.ClusterMember] {
	h.mu.Lock()
	_, existed := h.members[rev.Payload.MemberID]
	echoed := rev
	echoed.Timestamp = h.clock.Now().UnixMilli()
	h.members[rev.Payload.MemberID] = echoed
	h.mu.Unlock()

	kind := clustermember.SiblingAdded
	if existed {
		kind = clustermember.SiblingUpdated
	}
	h.broadcastMembership(clustermember.MembershipEvent{
		Kind: kind, MemberID: echoed.Payload.MemberID, Revision: echoed,
	})
	return echoed
}

func (h *Hub) deleteMember(id clustermember.MemberID) {
	h.mu.Lock()
	delete(h.members, id)
	h.mu.Unlock()
	h.broadcastMembership(clustermember.MembershipEvent{Kind: clustermember.SiblingRemoved, MemberID: id})

	h.mu.Lock()
	_, wasCampaigning := h.campaign[id]
	delete(h.campaign, id)
	h.mu.Unlock()
	if wasCampaigning {
		h.recomputeLeader()
	}
}

// join registers id as a leader-election campaign participant and
// recomputes the leader.
func (h *Hub) join(id clustermember.MemberID) {
	h.mu.Lock()
	h.campaign[id] = struct{}{}
	h.mu.Unlock()
	h.broadcastLeadership(clustermember.LeaderElectionEvent{Kind: clustermember.LocalJoined, MemberID: id})
	h.recomputeLeader()
}

// leave withdraws id from the campaign and recomputes the leader.
func (h *Hub) leave(id clustermember.MemberID) {
	h.mu.Lock()
	delete(h.campaign, id)
	h.mu.Unlock()
	h.broadcastLeadership(clustermember.LeaderElectionEvent{Kind: clustermember.LocalLeft, MemberID: id})
	h.recomputeLeader()
}

// recomputeLeader picks the lexicographically smallest campaign participant
// as leader — a deterministic stand-in for the substrate's real quorum
// protocol, sufficient to exercise LeaderElected/LeaderLost sequencing.
func (h *Hub) recomputeLeader() {
	h.mu.Lock()
	var winner clustermember.MemberID
	for id := range h.campaign {
		if winner == "" || id < winner {
			winner = id
		}
	}
	prev := h.leader
	if winner == "" {
		h.leader = nil
	} else {
		h.leaderRevision++
		rev := clustermember.MemberRevision[clustermember.LeadershipRecord]{
			Payload: clustermember.LeadershipRecord{
				MemberID:          winner,
				Role:              clustermember.RoleLeader,
				ElectionTimestamp: h.clock.Now().UnixMilli(),
			},
			RevisionNumber: h.leaderRevision,
			Timestamp:      h.clock.Now().UnixMilli(),
		}
		h.leader = &rev
	}
	changed := (prev == nil) != (h.leader == nil) || (prev != nil && h.leader != nil && prev.Payload.MemberID != h.leader.Payload.MemberID)
	leader := h.leader
	h.mu.Unlock()

	if !changed {
		return
	}
	if prev != nil {
		h.broadcastLeadership(clustermember.LeaderElectionEvent{Kind: clustermember.LeaderLost, MemberID: prev.Payload.MemberID})
	}
	if leader != nil {
		h.broadcastLeadership(clustermember.LeaderElectionEvent{
			Kind: clustermember.LeaderElected, MemberID: leader.Payload.MemberID, Revision: *leader,
		})
	}
}

func (h *Hub) subscribeMembership(ctx context.Context) <-chan clustermember.MembershipEvent {
	ch := make(chan clustermember.MembershipEvent, 64)
	h.mu.Lock()
	h.membershipSubs[ch] = struct{}{}
	snapshot := make([]clustermember.MembershipEvent, 0, len(h.members))
	for id, rev := range h.members {
		snapshot = append(snapshot, clustermember.MembershipEvent{Kind: clustermember.SiblingAdded, MemberID: id, Revision: rev})
	}
	h.mu.Unlock()

	go func() {
		for _, evt := range snapshot {
			ch <- evt
		}
		ch <- clustermember.MembershipEvent{Kind: clustermember.SnapshotEnd}
		<-ctx.Done()
		h.mu.Lock()
		delete(h.membershipSubs, ch)
		h.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (h *Hub) subscribeLeadership(ctx context.Context) <-chan clustermember.LeaderElectionEvent {
	ch := make(chan clustermember.LeaderElectionEvent, 64)
	h.mu.Lock()
	h.leadershipSubs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.leadershipSubs, ch)
		h.mu.Unlock()
		close(ch)
	}()
	return ch
}
