package leasing

import "github.com/arloliu/leasing/types"

// Sentinel errors re-exported from the types package so callers can use
// errors.Is without importing it.
var (
	ErrInvalidConfig   = types.ErrInvalidConfig
	ErrAlreadyStarted  = types.ErrAlreadyStarted
	ErrConnectFailed   = types.ErrConnectFailed
	ErrShutdownTimeout = types.ErrShutdownTimeout
	ErrEngineFault     = types.ErrEngineFault
	ErrUnknownBackend  = types.ErrUnknownBackend
	ErrLeaseNotFound   = types.ErrLeaseNotFound
	ErrWatchClosed     = types.ErrWatchClosed
	ErrConnectivity    = types.ErrConnectivity
	ErrClientClosed    = types.ErrClientClosed
)
