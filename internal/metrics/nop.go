// Package metrics provides MetricsCollector implementations.
package metrics

import "github.com/arloliu/leasing/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	mgr, _ := leasing.NewManager(&cfg, leasing.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.LeaseState) {}

// RecordAttempt discards the attempt metric.
func (n *NopMetrics) RecordAttempt(_ /* result */ string) {}

// RecordTransitionDropped discards the dropped transition metric.
func (n *NopMetrics) RecordTransitionDropped() {}

// RecordKeepAlive discards the keep-alive metric.
func (n *NopMetrics) RecordKeepAlive(_ /* success */ bool) {}

// RecordWatchResult discards the watch metric.
func (n *NopMetrics) RecordWatchResult(_ /* result */ string) {}

// RecordOperationDuration discards the latency metric.
func (n *NopMetrics) RecordOperationDuration(_ /* operation */ string, _ /* duration */ float64) {}
