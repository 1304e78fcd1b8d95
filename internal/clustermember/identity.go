package clustermember

import "github.com/google/uuid"

// NewMemberID generates a random MemberID for processes that don't have a
// natural stable identifier (hostname, pod name, /etc/machine-id). Callers
// that do have one should use it instead — a random ID defeats the purpose
// of re-registering as "the same" member across a restart.
func NewMemberID() MemberID {
	return MemberID(uuid.NewString())
}

// CorrelationID generates a short-lived token for correlating a log line
// with the substrate write it announces.
func CorrelationID() string {
	return uuid.NewString()
}
