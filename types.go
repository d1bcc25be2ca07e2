package leasing

import "github.com/arloliu/leasing/types"

// Re-export types from the types package.
//
// Internal packages depend on `types` rather than on the root package, which
// avoids import cycles while still offering `leasing.LeaseState`,
// `leasing.Logger` and friends to users.
type (
	LeaseState = types.LeaseState
	Transition = types.Transition
	LeaseID    = types.LeaseID
)

// Re-export interfaces from the types package for convenience.
type (
	Client           = types.Client
	Watch            = types.Watch
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export LeaseState constants from the types package.
const (
	StateUnknown  = types.StateUnknown
	StateLeader   = types.StateLeader
	StateFollower = types.StateFollower
	StateLost     = types.StateLost
)

// NoLease is the zero LeaseID.
const NoLease = types.NoLease
