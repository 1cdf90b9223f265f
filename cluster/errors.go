package cluster

import "errors"

// Common errors returned by cluster nodes.
//
// Startup and lifecycle failures carry their own sentinels; run failures
// wrap either these or the shared sentinels in types/ (ErrIterationLimit,
// ErrContextCanceled, ErrConnectivity). Match with errors.Is.
var (
	// ErrInvalidConfig is returned when a nil configuration is provided.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when a nil NATS connection is
	// provided.
	ErrNATSConnectionRequired = errors.New("nats connection is required")

	// ErrAlreadyStarted is returned when Start is called on a running node.
	ErrAlreadyStarted = errors.New("cluster node already started")

	// ErrNotStarted is returned when an operation requires a started node.
	ErrNotStarted = errors.New("cluster node not started")

	// ErrNoRankAvailable is returned when every rank slot of the run is
	// already claimed.
	ErrNoRankAvailable = errors.New("no free rank in the run")

	// ErrNodeLost is returned when a participating rank stops heartbeating
	// mid-run. The run is unrecoverable: every iteration needs all blocks.
	ErrNodeLost = errors.New("cluster rank lost")

	// ErrRunAborted is returned when the run ends before convergence without
	// failing: the coordinating rank broadcast an abort directive, or Stop
	// was called on this node.
	ErrRunAborted = errors.New("run aborted")

	// ErrBadChunk is returned when a row chunk fails its checksum or carries
	// impossible dimensions.
	ErrBadChunk = errors.New("malformed row chunk")

	// ErrWrongIteration is returned when a collective message arrives tagged
	// with an iteration the receiver is not in. The protocol is lock-step,
	// so this always indicates a protocol violation, never a recoverable
	// reordering.
	ErrWrongIteration = errors.New("message for unexpected iteration")
)
