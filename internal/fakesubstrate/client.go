package fakesubstrate

import (
	"context"

	"clustermembership/internal/clustermember"
)

// Client is one process's handle onto a shared Hub. It implements both
// substrateport.MembershipExecutor and substrateport.LeaderElectionExecutor.
type Client struct {
	hub *Hub
	id  clustermember.MemberID
}

// NewClient returns a Client bound to id against hub.
func NewClient(hub *Hub, id clustermember.MemberID) *Client {
	return &Client{hub: hub, id: id}
}

// WriteMemberRecord upserts rev into the hub and echoes back the
// substrate-assigned timestamp.
func (c *Client) WriteMemberRecord(ctx context.Context, rev clustermember.MemberRevision[clustermember.ClusterMember]) (clustermember.MemberRevision[clustermember.ClusterMember], error) {
	return c.hub.writeMember(rev), nil
}

// DeleteMemberRecord removes id's record from the hub and withdraws id from
// the leader-election campaign.
func (c *Client) DeleteMemberRecord(ctx context.Context, id clustermember.MemberID) error {
	c.hub.deleteMember(id)
	return nil
}

// WatchMembershipEvents subscribes this client to the hub's membership
// stream. The channel delivers an initial snapshot (every currently
// registered member as SiblingAdded) terminated by SnapshotEnd, then live
// updates, and closes when ctx is cancelled.
func (c *Client) WatchMembershipEvents(ctx context.Context) (<-chan clustermember.MembershipEvent, error) {
	return c.hub.subscribeMembership(ctx), nil
}

// JoinLeaderElection registers this client as a campaign participant.
func (c *Client) JoinLeaderElection(ctx context.Context, id clustermember.MemberID) error {
	c.hub.join(id)
	return nil
}

// LeaveLeaderElection withdraws this client from the campaign.
func (c *Client) LeaveLeaderElection(ctx context.Context) error {
	c.hub.leave(c.id)
	return nil
}

// WatchLeaderElectionProcessUpdates subscribes this client to the hub's
// leader-election stream. Closes when ctx is cancelled.
func (c *Client) WatchLeaderElectionProcessUpdates(ctx context.Context) (<-chan clustermember.LeaderElectionEvent, error) {
	return c.hub.subscribeLeadership(ctx), nil
}
