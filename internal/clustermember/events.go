package clustermember

// MembershipEventKind tags the variants of MembershipEvent (spec §4.1).
type MembershipEventKind int

const (
	SiblingAdded MembershipEventKind = iota
	SiblingUpdated
	SiblingRemoved
	SnapshotEnd
	MembershipDisconnected
)

// MembershipEvent is what the substrate's membership watch delivers.
// Exhaustively matched in ClusterState.ProcessMembershipEvent — adding a
// variant here means adding a case there.
type MembershipEvent struct {
	Kind     MembershipEventKind
	MemberID MemberID                        // set for Added/Updated/Removed
	Revision MemberRevision[ClusterMember]    // set for Added/Updated
	Cause    error                            // set for Disconnected
}

// LeaderElectionEventKind tags the variants of LeaderElectionEvent.
type LeaderElectionEventKind int

const (
	LeaderElected LeaderElectionEventKind = iota
	LeaderLost
	LocalJoined
	LocalLeft
	LeaderElectionDisconnected
)

// LeaderElectionEvent is what the substrate's leader-election watch
// delivers.
type LeaderElectionEvent struct {
	Kind     LeaderElectionEventKind
	MemberID MemberID                         // set for Elected/Lost
	Revision MemberRevision[LeadershipRecord] // set for Elected
	Cause    error                            // set for Disconnected
}

// DeltaKind tags the variants of DeltaEvent, the output of every ClusterState
// transition.
type DeltaKind int

const (
	DeltaLocalUpdated DeltaKind = iota
	DeltaLocalLeadershipUpdated
	DeltaSiblingAdded
	DeltaSiblingUpdated
	DeltaSiblingRemoved
	DeltaLeaderChanged
	DeltaCampaignStateChanged
	DeltaMembershipDisconnected
	DeltaLeaderElectionDisconnected
)

// DeltaEvent is one observable change produced by a single committed
// transition. A transition may produce zero, one, or several of these (e.g.
// a LeaderElected for the local member produces both DeltaLeaderChanged and
// DeltaLocalLeadershipUpdated).
type DeltaEvent struct {
	Kind     DeltaKind
	MemberID MemberID

	LocalRevision   *MemberRevision[ClusterMember]
	LocalLeadership *MemberRevision[LeadershipRecord]
	SiblingRevision *MemberRevision[ClusterMember]
	CurrentLeader   *MemberRevision[LeadershipRecord]

	InLeaderElectionProcess bool
	Cause                   error
}
