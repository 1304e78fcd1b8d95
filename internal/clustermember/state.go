package clustermember

import "fmt"

// ClusterState is the immutable snapshot of local + sibling membership and
// leadership (spec §3). Every transition method returns a new *ClusterState
// and the delta events produced by that single transition; the receiver is
// never mutated. A nil error means the transition committed (possibly as a
// documented no-op); a non-nil error means nothing changed and the caller
// should not swap in the returned state (which, on error, is always the
// receiver itself).
type ClusterState struct {
	localRevision           MemberRevision[ClusterMember]
	siblings                map[MemberID]MemberRevision[ClusterMember]
	localLeadership         MemberRevision[LeadershipRecord]
	currentLeader           *MemberRevision[LeadershipRecord]
	inLeaderElectionProcess bool
	clock                   Clock
	config                  Config
}

// NewClusterState builds the initial state for a newly constructed
// connector. localLeadership starts Disabled with revision 0; the local
// member starts with no siblings and no known leader.
func NewClusterState(local MemberRevision[ClusterMember], clock Clock, cfg Config) *ClusterState {
	return &ClusterState{
		localRevision: local,
		siblings:      make(map[MemberID]MemberRevision[ClusterMember]),
		localLeadership: MemberRevision[LeadershipRecord]{
			Payload: LeadershipRecord{MemberID: local.Payload.MemberID, Role: RoleDisabled},
		},
		clock:  clock,
		config: cfg,
	}
}

// clone makes a shallow copy of the receiver; callers that are about to
// change the siblings map must replace it with a fresh map before returning.
func (s *ClusterState) clone() *ClusterState {
	cp := *s
	return &cp
}

// --- Accessors --------------------------------------------------------

func (s *ClusterState) LocalMember() MemberRevision[ClusterMember] { return s.localRevision }

func (s *ClusterState) LocalLeadership() MemberRevision[LeadershipRecord] { return s.localLeadership }

// Siblings returns a copy of the sibling map filtered to non-stale entries,
// as exposed by the connector's public getSiblings().
func (s *ClusterState) Siblings() map[MemberID]MemberRevision[ClusterMember] {
	now := s.clock.Now().UnixMilli()
	out := make(map[MemberID]MemberRevision[ClusterMember], len(s.siblings))
	for id, rev := range s.siblings {
		if !s.isStale(rev, now) {
			out[id] = rev
		}
	}
	return out
}

// AllSiblings returns every sibling entry including stale ones, for
// debugging; stale entries are never surfaced through the public accessor.
func (s *ClusterState) AllSiblings() map[MemberID]MemberRevision[ClusterMember] {
	out := make(map[MemberID]MemberRevision[ClusterMember], len(s.siblings))
	for id, rev := range s.siblings {
		out[id] = rev
	}
	return out
}

func (s *ClusterState) isStale(rev MemberRevision[ClusterMember], nowMillis int64) bool {
	return nowMillis-rev.Timestamp > s.config.StaleThreshold.Milliseconds()
}

// CurrentLeader returns the substrate-reported current leader, if any.
func (s *ClusterState) CurrentLeader() (MemberRevision[LeadershipRecord], bool) {
	if s.currentLeader == nil {
		return MemberRevision[LeadershipRecord]{}, false
	}
	return *s.currentLeader, true
}

func (s *ClusterState) InLeaderElectionProcess() bool { return s.inLeaderElectionProcess }

func (s *ClusterState) Clock() Clock { return s.clock }

func (s *ClusterState) Config() Config { return s.config }

// --- Transitions --------------------------------------------------------

// SetLocalMemberRevision replaces the local member record (spec §4.1).
func (s *ClusterState) SetLocalMemberRevision(newLocal MemberRevision[ClusterMember]) (*ClusterState, []DeltaEvent, error) {
	if newLocal.Payload.MemberID != s.localRevision.Payload.MemberID {
		return s, nil, fmt.Errorf("%w: local member id changed from %q to %q",
			ErrInvalidTransition, s.localRevision.Payload.MemberID, newLocal.Payload.MemberID)
	}
	if newLocal.RevisionNumber < s.localRevision.RevisionNumber {
		return s, nil, fmt.Errorf("%w: local revision went from %d to %d",
			ErrInvalidTransition, s.localRevision.RevisionNumber, newLocal.RevisionNumber)
	}

	next := s.clone()
	next.localRevision = newLocal
	// Defensive: the local member must never also appear as a sibling.
	if _, ok := next.siblings[newLocal.Payload.MemberID]; ok {
		siblings := s.AllSiblings()
		delete(siblings, newLocal.Payload.MemberID)
		next.siblings = siblings
	}

	rev := newLocal
	return next, []DeltaEvent{{Kind: DeltaLocalUpdated, MemberID: newLocal.Payload.MemberID, LocalRevision: &rev}}, nil
}

// SetLocalLeadershipRevision replaces the local leadership record, emitting
// DeltaLocalLeadershipUpdated only when the role actually changes.
func (s *ClusterState) SetLocalLeadershipRevision(newLeadership MemberRevision[LeadershipRecord]) (*ClusterState, []DeltaEvent, error) {
	if newLeadership.RevisionNumber < s.localLeadership.RevisionNumber {
		return s, nil, fmt.Errorf("%w: local leadership revision went from %d to %d",
			ErrInvalidTransition, s.localLeadership.RevisionNumber, newLeadership.RevisionNumber)
	}

	next := s.clone()
	roleChanged := next.localLeadership.Payload.Role != newLeadership.Payload.Role
	next.localLeadership = newLeadership

	if !roleChanged {
		return next, nil, nil
	}
	rev := newLeadership
	return next, []DeltaEvent{{Kind: DeltaLocalLeadershipUpdated, MemberID: newLeadership.Payload.MemberID, LocalLeadership: &rev}}, nil
}

// SetInLeaderElectionProcess marks whether a campaign task is running
// locally. No-op (zero deltas) if the value is unchanged.
func (s *ClusterState) SetInLeaderElectionProcess(v bool) (*ClusterState, []DeltaEvent, error) {
	if s.inLeaderElectionProcess == v {
		return s, nil, nil
	}
	next := s.clone()
	next.inLeaderElectionProcess = v
	return next, []DeltaEvent{{Kind: DeltaCampaignStateChanged, InLeaderElectionProcess: v}}, nil
}

// ProcessMembershipEvent merges a substrate membership event into sibling
// state (spec §4.1). Events about the local member are ignored: the
// substrate echoing our own writes back to us must never overwrite the
// authoritative local revision.
func (s *ClusterState) ProcessMembershipEvent(evt MembershipEvent) (*ClusterState, []DeltaEvent, error) {
	if evt.MemberID == s.localRevision.Payload.MemberID && evt.Kind != SnapshotEnd && evt.Kind != MembershipDisconnected {
		return s, nil, nil
	}

	switch evt.Kind {
	case SiblingAdded, SiblingUpdated:
		existing, existed := s.siblings[evt.MemberID]
		merged, changed := mergeMemberRevision(existing, evt.Revision, existed)
		if !changed {
			return s, nil, nil
		}
		next := s.clone()
		siblings := s.AllSiblings()
		siblings[evt.MemberID] = merged
		next.siblings = siblings

		kind := DeltaSiblingUpdated
		if !existed {
			kind = DeltaSiblingAdded
		}
		rev := merged
		return next, []DeltaEvent{{Kind: kind, MemberID: evt.MemberID, SiblingRevision: &rev}}, nil

	case SiblingRemoved:
		if _, existed := s.siblings[evt.MemberID]; !existed {
			return s, nil, nil
		}
		next := s.clone()
		siblings := s.AllSiblings()
		delete(siblings, evt.MemberID)
		next.siblings = siblings
		return next, []DeltaEvent{{Kind: DeltaSiblingRemoved, MemberID: evt.MemberID}}, nil

	case SnapshotEnd:
		return s, nil, nil

	case MembershipDisconnected:
		return s, []DeltaEvent{{Kind: DeltaMembershipDisconnected, Cause: evt.Cause}}, nil

	default:
		return s, nil, fmt.Errorf("%w: unknown membership event kind %d", ErrInvalidTransition, evt.Kind)
	}
}

// ProcessLeaderElectionEvent merges a substrate leader-election event (spec
// §4.1).
func (s *ClusterState) ProcessLeaderElectionEvent(evt LeaderElectionEvent) (*ClusterState, []DeltaEvent, error) {
	switch evt.Kind {
	case LeaderElected:
		next := s.clone()
		rev := evt.Revision
		next.currentLeader = &rev
		deltas := []DeltaEvent{{Kind: DeltaLeaderChanged, MemberID: evt.MemberID, CurrentLeader: &rev}}

		if evt.MemberID == s.localRevision.Payload.MemberID {
			leaderNext, leaderDeltas, err := next.SetLocalLeadershipRevision(MemberRevision[LeadershipRecord]{
				Payload:        LeadershipRecord{MemberID: evt.MemberID, Role: RoleLeader, ElectionTimestamp: evt.Revision.Timestamp},
				RevisionNumber: evt.Revision.RevisionNumber,
				Timestamp:      evt.Revision.Timestamp,
			})
			if err != nil {
				return s, nil, err
			}
			next = leaderNext
			deltas = append(deltas, leaderDeltas...)
		}
		return next, deltas, nil

	case LeaderLost:
		next := s
		var deltas []DeltaEvent
		if s.currentLeader != nil && s.currentLeader.Payload.MemberID == evt.MemberID {
			next = s.clone()
			next.currentLeader = nil
			deltas = append(deltas, DeltaEvent{Kind: DeltaLeaderChanged, MemberID: evt.MemberID})
		}
		if evt.MemberID == s.localRevision.Payload.MemberID && s.localLeadership.Payload.Role == RoleLeader {
			demoted := RoleNonLeader
			if !next.inLeaderElectionProcess {
				demoted = RoleDisabled
			}
			leaderNext, leaderDeltas, err := next.SetLocalLeadershipRevision(MemberRevision[LeadershipRecord]{
				Payload:        LeadershipRecord{MemberID: evt.MemberID, Role: demoted},
				RevisionNumber: next.localLeadership.RevisionNumber + 1,
				Timestamp:      s.clock.Now().UnixMilli(),
			})
			if err != nil {
				return s, nil, err
			}
			next = leaderNext
			deltas = append(deltas, leaderDeltas...)
		}
		if len(deltas) == 0 {
			return s, nil, nil
		}
		return next, deltas, nil

	case LocalJoined:
		next, deltas, err := s.SetInLeaderElectionProcess(true)
		if err != nil {
			return s, nil, err
		}
		if next.localLeadership.Payload.Role == RoleDisabled {
			leaderNext, leaderDeltas, err := next.SetLocalLeadershipRevision(MemberRevision[LeadershipRecord]{
				Payload:        LeadershipRecord{MemberID: s.localRevision.Payload.MemberID, Role: RoleNonLeader},
				RevisionNumber: next.localLeadership.RevisionNumber + 1,
				Timestamp:      s.clock.Now().UnixMilli(),
			})
			if err != nil {
				return s, nil, err
			}
			next = leaderNext
			deltas = append(deltas, leaderDeltas...)
		}
		return next, deltas, nil

	case LocalLeft:
		next, deltas, err := s.SetInLeaderElectionProcess(false)
		if err != nil {
			return s, nil, err
		}
		if next.localLeadership.Payload.Role != RoleDisabled {
			leaderNext, leaderDeltas, err := next.SetLocalLeadershipRevision(MemberRevision[LeadershipRecord]{
				Payload:        LeadershipRecord{MemberID: s.localRevision.Payload.MemberID, Role: RoleDisabled},
				RevisionNumber: next.localLeadership.RevisionNumber + 1,
				Timestamp:      s.clock.Now().UnixMilli(),
			})
			if err != nil {
				return s, nil, err
			}
			next = leaderNext
			deltas = append(deltas, leaderDeltas...)
		}
		return next, deltas, nil

	case LeaderElectionDisconnected:
		// A dropped watch means we can no longer vouch for our campaign
		// registration having survived on the substrate side; clear the
		// locally observed flag so the reconciliation actions provider
		// re-issues joinLeaderElection once desired participation is still
		// true after resubscribe.
		next, deltas, err := s.SetInLeaderElectionProcess(false)
		if err != nil {
			return s, nil, err
		}
		deltas = append(deltas, DeltaEvent{Kind: DeltaLeaderElectionDisconnected, Cause: evt.Cause})
		return next, deltas, nil

	default:
		return s, nil, fmt.Errorf("%w: unknown leader election event kind %d", ErrInvalidTransition, evt.Kind)
	}
}

// PurgeStaleSiblings drops sibling entries older than StaleThreshold *
// factor (spec §4.3: "stale sibling GC" — entries this old are assumed dead
// even if the substrate hasn't yet emitted a Removed event). Unlike the
// public Siblings() filter, this actually removes the entries.
func (s *ClusterState) PurgeStaleSiblings(factor int) (*ClusterState, []DeltaEvent, error) {
	thresholdMillis := s.config.StaleThreshold.Milliseconds() * int64(factor)
	now := s.clock.Now().UnixMilli()

	var toRemove []MemberID
	for id, rev := range s.siblings {
		if now-rev.Timestamp > thresholdMillis {
			toRemove = append(toRemove, id)
		}
	}
	if len(toRemove) == 0 {
		return s, nil, nil
	}

	next := s.clone()
	siblings := s.AllSiblings()
	deltas := make([]DeltaEvent, 0, len(toRemove))
	for _, id := range toRemove {
		delete(siblings, id)
		deltas = append(deltas, DeltaEvent{Kind: DeltaSiblingRemoved, MemberID: id})
	}
	next.siblings = siblings
	return next, deltas, nil
}

// mergeMemberRevision applies the tie-break rules of spec §4.1: keep the
// higher revision number; on a tie, keep the higher timestamp; on a tie of
// both, keep the existing record (idempotence).
func mergeMemberRevision(existing, incoming MemberRevision[ClusterMember], existed bool) (MemberRevision[ClusterMember], bool) {
	if !existed {
		return incoming, true
	}
	if incoming.RevisionNumber > existing.RevisionNumber {
		return incoming, true
	}
	if incoming.RevisionNumber < existing.RevisionNumber {
		return existing, false
	}
	if incoming.Timestamp > existing.Timestamp {
		return incoming, true
	}
	return existing, false
}
