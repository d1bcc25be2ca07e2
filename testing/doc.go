// Package testing provides test utilities for the leasing library.
//
// It follows the convention of net/http/httptest: helpers live in a dedicated
// package so production code never links them.
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream
//   - CreateLeaseBucket: KV bucket laid out like the NATS lease backend
//   - MemoryStore: In-memory coordination service with failure injection
//   - WaitState, WaitAnyState, WaitAllStates: Poll managers until a state is reached
//   - LeadershipRecorder: Counts replicas that believed they led at the same time
//
// Example usage:
//
//	import (
//	    "testing"
//	    leasetest "github.com/arloliu/leasing/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    store := leasetest.NewMemoryStore()
//	    client := store.Client()
//	    defer client.Close()
//	}
package testing
