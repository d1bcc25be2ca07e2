package types

// LeaseState represents the election status of this replica.
//
// States follow this progression while the election loop runs:
//
//	Unknown → Leader | Follower
//	Follower → Leader          (key released and re-acquired)
//	Leader → Lost              (renewal loop exited)
//	Lost → Leader | Follower   (next attempt)
//
// There is no terminal state; the loop only ends through cancellation.
type LeaseState int32

const (
	// StateUnknown is the initial state before any election attempt.
	StateUnknown LeaseState = iota

	// StateLeader indicates this replica holds the election key.
	StateLeader

	// StateFollower indicates another replica holds the key and this one is watching it.
	StateFollower

	// StateLost indicates this replica held leadership and renewal stopped.
	StateLost
)

// String returns the string representation of the state.
func (s LeaseState) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateLeader:
		return "Leader"
	case StateFollower:
		return "Follower"
	case StateLost:
		return "Lost"
	default:
		return "Invalid"
	}
}

// Transition describes a single change of LeaseState.
type Transition struct {
	From LeaseState
	To   LeaseState
}

// BecameLeader reports whether the transition acquired leadership.
func (t Transition) BecameLeader() bool {
	return t.From != StateLeader && t.To == StateLeader
}

// LostLeadership reports whether the transition gave up leadership.
func (t Transition) LostLeadership() bool {
	return t.From == StateLeader && t.To != StateLeader
}
