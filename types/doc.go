// Package types provides core type definitions and interfaces for the leasing library.
//
// This package contains shared types that are used across multiple packages in the
// leasing library. By keeping these types in a separate package, we avoid import cycles
// between the main leasing package and its internal implementations.
//
// Key types:
//   - LeaseState: Election status of this replica
//   - Client: Coordination service capability surface (lease, txn, keep-alive, watch)
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
