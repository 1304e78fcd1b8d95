// Package substrateport declares the two injected ports the reconciliation
// engine consumes: MembershipExecutor and LeaderElectionExecutor (spec §6).
// Neither the substrate client, its wire format, nor its credentials are the
// concern of this repository — these are interfaces an external substrate
// adapter implements.
package substrateport

import (
	"context"

	"clustermembership/internal/clustermember"
)

// MembershipExecutor issues writes and runs the membership watch against the
// external substrate.
type MembershipExecutor interface {
	// WriteMemberRecord upserts this process's record. The substrate may
	// echo back a normalized revision with an updated timestamp.
	WriteMemberRecord(ctx context.Context, rev clustermember.MemberRevision[clustermember.ClusterMember]) (clustermember.MemberRevision[clustermember.ClusterMember], error)

	// DeleteMemberRecord removes this process's record.
	DeleteMemberRecord(ctx context.Context, id clustermember.MemberID) error

	// WatchMembershipEvents subscribes to the membership event stream. The
	// returned channel is closed when ctx is cancelled. The stream may open
	// with an initial snapshot delivered as a run of SiblingAdded events
	// followed by a SnapshotEnd.
	WatchMembershipEvents(ctx context.Context) (<-chan clustermember.MembershipEvent, error)
}

// LeaderElectionExecutor registers intent to campaign and runs the
// leader-election watch against the external substrate. The substrate owns
// the actual campaign/quorum logic; this port only signals intent and
// reports outcomes.
type LeaderElectionExecutor interface {
	// JoinLeaderElection registers this member as a campaign participant.
	JoinLeaderElection(ctx context.Context, id clustermember.MemberID) error

	// LeaveLeaderElection withdraws this member from the campaign.
	LeaveLeaderElection(ctx context.Context) error

	// WatchLeaderElectionProcessUpdates subscribes to the leader-election
	// event stream. The returned channel is closed when ctx is cancelled.
	WatchLeaderElectionProcessUpdates(ctx context.Context) (<-chan clustermember.LeaderElectionEvent, error)
}
