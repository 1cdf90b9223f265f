// Package heartbeat provides periodic liveness publishing for cluster nodes through NATS KV.
//
// The heartbeat mechanism enables node liveness tracking and crash detection using
// TTL-based expiration. Every rank of a run periodically publishes timestamps to
// NATS KV; its peers watch those keys to detect that a rank disappeared and abort
// the run instead of blocking forever on a collective that can never complete.
//
// # Design Overview
//
// The heartbeat system uses NATS JetStream KV as a distributed liveness registry:
//
//   - Nodes publish heartbeats at a fixed interval (default 2 seconds)
//   - Keys carry the liveness timeout as TTL (~3x interval)
//   - The coordinating rank monitors all ranks, workers monitor rank 0
//   - A crashed node is detected once its key expires
//
// # Publisher Lifecycle
//
// The Publisher manages the complete heartbeat lifecycle:
//
//  1. Create publisher with New(kv, prefix, interval)
//  2. Set node ID with SetNodeID(nodeID)
//  3. Start publishing with Start(ctx)
//  4. Stop publishing with Stop()
//
// Example:
//
//	// Create publisher
//	publisher := heartbeat.New(kv, "hb", 2*time.Second)
//	publisher.SetNodeID("rank-3")
//
//	// Start publishing
//	err := publisher.Start(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer publisher.Stop()
//
//	// Heartbeats are now published every 2 seconds
//
// # Key Format
//
// Heartbeats are stored in NATS KV with the following key format:
//
//	{prefix}.{nodeID}
//
// Example: "hb.rank-3"
//
// # Thread Safety
//
// The Publisher is thread-safe and can be accessed concurrently from multiple
// goroutines. All methods use proper synchronization to protect internal state.
//
// # Crash Detection
//
// The TTL-based expiration enables automatic crash detection:
//
//   - Normal operation: Node publishes every interval, TTL resets on every put
//   - Node crashes: No more publishes, key expires after the liveness timeout
//   - Monitor detects: Missing heartbeat key marks the rank as lost
//
// The run is aborted on the first lost rank. There is no reassignment or
// retry: a Jacobi iteration needs every block present, so a lost rank makes
// the whole run unrecoverable.
package heartbeat
