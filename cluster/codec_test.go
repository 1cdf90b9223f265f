package cluster

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bridges-wood/parallel-relaxation/types"
)

func randomPayload(t *testing.T, n int) []float64 {
	t.Helper()

	rng := rand.New(rand.NewPCG(7, uint64(n)))
	payload := make([]float64, n)
	for i := range payload {
		payload[i] = rng.Float64()
	}

	return payload
}

func TestChunkRoundTrip(t *testing.T) {
	t.Run("scatter chunk with halo rows", func(t *testing.T) {
		const n, rows = 8, 3
		payload := randomPayload(t, (rows+2)*n)

		chunk := newChunk(2, 17, 4, rows, n, true, payload)
		data, err := encodeChunk(chunk)
		require.NoError(t, err)

		decoded, err := decodeChunk(data)
		require.NoError(t, err)
		require.Equal(t, 2, decoded.Rank)
		require.Equal(t, uint64(17), decoded.Iter)
		require.Equal(t, 4, decoded.FirstRow)
		require.Equal(t, rows, decoded.Rows)
		require.Equal(t, n, decoded.N)
		require.True(t, decoded.Halo)
		require.Equal(t, payload, decoded.Payload)
	})

	t.Run("gather chunk without halo rows", func(t *testing.T) {
		const n, rows = 6, 2
		payload := randomPayload(t, rows*n)

		chunk := newChunk(1, 3, 1, rows, n, false, payload)
		data, err := encodeChunk(chunk)
		require.NoError(t, err)

		decoded, err := decodeChunk(data)
		require.NoError(t, err)
		require.False(t, decoded.Halo)
		require.Equal(t, payload, decoded.Payload)
	})
}

func TestChunkWireBound(t *testing.T) {
	t.Run("bounds the encoded size of a worst-case chunk", func(t *testing.T) {
		const n, rows = 16, 5
		payload := randomPayload(t, (rows+2)*n)

		// Random mantissas and a maximal iteration tag make gob spend its
		// widest encodings.
		chunk := newChunk(1, math.MaxUint64, 1, rows, n, true, payload)
		data, err := encodeChunk(chunk)
		require.NoError(t, err)

		require.LessOrEqual(t, int64(len(data)), chunkWireBound(rows+2, n))
	})
}

func TestDecodeChunk_Corruption(t *testing.T) {
	t.Run("rejects a payload mutated after checksumming", func(t *testing.T) {
		const n, rows = 8, 2
		payload := randomPayload(t, (rows+2)*n)
		chunk := newChunk(1, 1, 1, rows, n, true, payload)

		// Flip one value between checksumming and encoding
		payload[5] = -payload[5]

		data, err := encodeChunk(chunk)
		require.NoError(t, err)

		_, err = decodeChunk(data)
		require.ErrorIs(t, err, ErrBadChunk)
		require.Contains(t, err.Error(), "checksum")
	})

	t.Run("rejects a payload that does not match the shape", func(t *testing.T) {
		payload := randomPayload(t, 10)
		chunk := &chunkMsg{
			Rank:     1,
			Iter:     1,
			FirstRow: 1,
			Rows:     2,
			N:        8,
			Halo:     false,
			Payload:  payload, // Shape implies 16 values
			Sum:      payloadSum(payload),
		}

		data, err := encodeChunk(chunk)
		require.NoError(t, err)

		_, err = decodeChunk(data)
		require.ErrorIs(t, err, ErrBadChunk)
	})

	t.Run("rejects bytes that are not a chunk at all", func(t *testing.T) {
		_, err := decodeChunk([]byte("not a gob stream"))
		require.ErrorIs(t, err, ErrBadChunk)
	})

	t.Run("rejects impossible shapes", func(t *testing.T) {
		for name, chunk := range map[string]*chunkMsg{
			"zero rows":      {Rank: 1, Iter: 1, FirstRow: 1, Rows: 0, N: 8},
			"width below 2":  {Rank: 1, Iter: 1, FirstRow: 1, Rows: 2, N: 1},
			"boundary start": {Rank: 1, Iter: 1, FirstRow: 0, Rows: 2, N: 8},
		} {
			chunk.Payload = randomPayload(t, 16)
			chunk.Sum = payloadSum(chunk.Payload)

			data, err := encodeChunk(chunk)
			require.NoError(t, err)

			_, err = decodeChunk(data)
			require.ErrorIs(t, err, ErrBadChunk, name)
		}
	})
}

func TestFlagRoundTrip(t *testing.T) {
	for _, converged := range []bool{true, false} {
		data, err := encodeFlag(&flagMsg{Rank: 3, Iter: 12, Converged: converged})
		require.NoError(t, err)

		decoded, err := decodeFlag(data)
		require.NoError(t, err)
		require.Equal(t, 3, decoded.Rank)
		require.Equal(t, uint64(12), decoded.Iter)
		require.Equal(t, converged, decoded.Converged)
	}
}

func TestDecisionRoundTrip(t *testing.T) {
	for _, decision := range []types.Decision{
		types.DecisionContinue,
		types.DecisionConverged,
		types.DecisionAborted,
	} {
		data, err := encodeDecision(&decisionMsg{Iter: 9, Decision: decision})
		require.NoError(t, err)

		decoded, err := decodeDecision(data)
		require.NoError(t, err)
		require.Equal(t, uint64(9), decoded.Iter)
		require.Equal(t, decision, decoded.Decision)
	}
}

func TestPayloadSum(t *testing.T) {
	t.Run("bit-identical payloads hash equal", func(t *testing.T) {
		a := randomPayload(t, 130) // Crosses the hashing batch boundary
		b := append([]float64(nil), a...)

		require.Equal(t, payloadSum(a), payloadSum(b))
	})

	t.Run("one flipped bit changes the sum", func(t *testing.T) {
		a := randomPayload(t, 130)
		b := append([]float64(nil), a...)
		b[129] = math.Nextafter(b[129], 2)

		require.NotEqual(t, payloadSum(a), payloadSum(b))
	})

	t.Run("empty payload hashes consistently", func(t *testing.T) {
		require.Equal(t, payloadSum(nil), payloadSum([]float64{}))
	})
}
