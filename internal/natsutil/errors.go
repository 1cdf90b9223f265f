package natsutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bridges-wood/parallel-relaxation/types"
)

// connectivitySentinels are the client and JetStream errors that signal a
// dead or unreachable transport rather than a protocol failure.
var connectivitySentinels = []error{
	types.ErrConnectivity,
	nats.ErrTimeout,
	nats.ErrNoServers,
	nats.ErrDisconnected,
	nats.ErrConnectionClosed,
	jetstream.ErrNoStreamResponse,
}

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, disconnections, etc.
// The cluster uses it to distinguish a dead transport from a protocol
// failure: a run that loses its connection aborts as a lost node rather
// than as a codec or iteration error.
//
// Kept in internal/natsutil to avoid importing NATS dependencies in types/ package.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	for _, sentinel := range connectivitySentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	msg := err.Error()

	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "i/o timeout")
}

// ClassifyOp wraps a failed transport operation so that connectivity
// failures match types.ErrConnectivity while everything else keeps its own
// error chain.
//
// Parameters:
//   - op: Short description of the failed operation, e.g. "publish to run.flags"
//   - err: Error to classify and wrap
//
// Returns:
//   - error: err wrapped in types.ErrConnectivity if it indicates a
//     connectivity issue, otherwise err wrapped with the op description
func ClassifyOp(op string, err error) error {
	if IsConnectivityError(err) {
		return fmt.Errorf("%w: %s: %v", types.ErrConnectivity, op, err)
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}
