package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
type MetricsCollector interface {
	ElectionMetrics
	CoordinationMetrics
}

// ElectionMetrics defines metrics for the election state machine.
type ElectionMetrics interface {
	// RecordStateTransition records a lease state transition.
	RecordStateTransition(from, to LeaseState)

	// RecordAttempt records the outcome of one election attempt.
	//
	// Parameters:
	//   - result: "leader", "follower" or "error"
	RecordAttempt(result string)

	// RecordTransitionDropped records a transition that a slow channel subscriber missed.
	RecordTransitionDropped()
}

// CoordinationMetrics defines metrics for coordination service calls.
type CoordinationMetrics interface {
	// RecordKeepAlive records a keep-alive round trip.
	RecordKeepAlive(success bool)

	// RecordWatchResult records how a follower watch resolved.
	//
	// Parameters:
	//   - result: "deleted", "error" or "canceled"
	RecordWatchResult(result string)

	// RecordOperationDuration records coordination call latency.
	//
	// Parameters:
	//   - operation: "grant", "create", "keepalive", "revoke", "watch"
	//   - duration: Time taken in seconds
	RecordOperationDuration(operation string, duration float64)
}
