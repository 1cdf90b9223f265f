package hooks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bridges-wood/parallel-relaxation/types"
)

func TestNopHooksNeverFail(t *testing.T) {
	h := NewNop()
	ctx := t.Context()

	require.NotNil(t, h.OnStateChanged)
	require.NotNil(t, h.OnIteration)
	require.NotNil(t, h.OnConverged)
	require.NotNil(t, h.OnError)

	require.NoError(t, h.OnStateChanged(ctx, types.StateIdle, types.StateRunning))
	require.NoError(t, h.OnIteration(ctx, 1, false))
	require.NoError(t, h.OnConverged(ctx, 10, time.Second))
	require.NoError(t, h.OnError(ctx, errors.New("boom")))
}
