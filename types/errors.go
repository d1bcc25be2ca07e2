package types

import "errors"

// Sentinel errors for the leasing library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Manager errors - Public API errors returned by Manager.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyStarted is returned when Start is called while a run is still active.
	ErrAlreadyStarted = errors.New("lease manager already started")

	// ErrConnectFailed is returned when Start cannot establish the coordination client.
	ErrConnectFailed = errors.New("failed to connect to coordination service")

	// ErrShutdownTimeout is returned when Stop's context expires before the loop exits.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrEngineFault is returned by Stop when the election loop ended abnormally.
	ErrEngineFault = errors.New("election loop fault")

	// ErrUnknownBackend is returned when the configured backend is not supported.
	ErrUnknownBackend = errors.New("unknown coordination backend")
)

// Coordination errors - Returned by Client implementations.
var (
	// ErrLeaseNotFound is returned when a lease is unknown, expired or revoked.
	ErrLeaseNotFound = errors.New("lease not found")

	// ErrWatchClosed is returned when a watch ends without observing a delete.
	ErrWatchClosed = errors.New("watch closed")

	// ErrConnectivity indicates a transport-level problem with the coordination service.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrClientClosed is returned when a closed Client is used.
	ErrClientClosed = errors.New("coordination client closed")
)
