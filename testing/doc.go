// Package testing provides test utilities for the relaxation library.
//
// This package offers helpers for setting up test environments, particularly
// embedded NATS servers for cluster integration testing. It follows Go's
// convention of providing testing utilities in a dedicated package (similar
// to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream
//   - Connect: Additional client connections to an embedded server
//   - CreateKV: Convenience wrapper for KV bucket creation
//   - NewTestLogger: Logger that writes through testing.T
//
// Example usage:
//
//	import (
//	    "testing"
//	    relaxtest "github.com/bridges-wood/parallel-relaxation/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := relaxtest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
