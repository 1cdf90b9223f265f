package cluster

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/zeebo/xxh3"

	"github.com/bridges-wood/parallel-relaxation/grid"
	"github.com/bridges-wood/parallel-relaxation/types"
)

// chunkMsg carries a flattened block of grid rows between ranks.
//
// Scatter chunks include one halo row on each side of the owned block
// (Halo true, (Rows+2)×N values); gather chunks carry the owned rows only
// (Halo false, Rows×N values). FirstRow is always the absolute grid row of
// the first owned row, so the receiver can place the block without knowing
// the partition.
type chunkMsg struct {
	Rank     int
	Iter     uint64
	FirstRow int
	Rows     int
	N        int
	Halo     bool
	Payload  []float64
	Sum      uint64
}

// flagMsg carries one rank's local convergence verdict for one iteration.
type flagMsg struct {
	Rank      int
	Iter      uint64
	Converged bool
}

// decisionMsg carries the coordinating rank's directive for one iteration.
type decisionMsg struct {
	Iter     uint64
	Decision types.Decision
}

// chunkEnvelopeBytes bounds the gob type descriptor and scalar fields around
// a chunk payload.
const chunkEnvelopeBytes = 512

// chunkWireBound returns an upper bound on the encoded size of a chunk
// holding rows x cols values. Gob spends at most nine bytes per float64.
func chunkWireBound(rows, cols int) int64 {
	return int64(rows)*int64(cols)*9 + chunkEnvelopeBytes
}

// payloadSum hashes a flattened row payload with xxh3, bit-exact over the
// float64 values, matching the hashing grid.Fingerprint uses.
func payloadSum(vals []float64) uint64 {
	h := xxh3.New()
	buf := make([]byte, 8*64)
	for len(vals) > 0 {
		n := min(len(vals), 64)
		for i, v := range vals[:n] {
			binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
		}
		_, _ = h.Write(buf[:8*n])
		vals = vals[n:]
	}

	return h.Sum64()
}

// newChunk builds a checksummed chunk message around payload. The payload
// slice is referenced, not copied; it must stay untouched until the chunk is
// encoded.
func newChunk(rank int, iter uint64, firstRow, rows, n int, halo bool, payload []float64) *chunkMsg {
	return &chunkMsg{
		Rank:     rank,
		Iter:     iter,
		FirstRow: firstRow,
		Rows:     rows,
		N:        n,
		Halo:     halo,
		Payload:  payload,
		Sum:      payloadSum(payload),
	}
}

// payloadLen returns the number of values the chunk's shape implies.
func (m *chunkMsg) payloadLen() int {
	rows := m.Rows
	if m.Halo {
		rows += 2
	}

	return rows * m.N
}

// validate checks the chunk's shape and checksum.
func (m *chunkMsg) validate() error {
	if m.Rows < 1 || m.N < grid.MinSize || m.FirstRow < 1 {
		return fmt.Errorf("%w: impossible shape %dx%d at row %d", ErrBadChunk, m.Rows, m.N, m.FirstRow)
	}
	if len(m.Payload) != m.payloadLen() {
		return fmt.Errorf(
			"%w: payload holds %d values, shape implies %d",
			ErrBadChunk, len(m.Payload), m.payloadLen(),
		)
	}
	if sum := payloadSum(m.Payload); sum != m.Sum {
		return fmt.Errorf("%w: checksum %x does not match payload %x", ErrBadChunk, m.Sum, sum)
	}

	return nil
}

// encodeChunk serializes a chunk message with gob.
func encodeChunk(m *chunkMsg) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode chunk: %w", err)
	}

	return buf.Bytes(), nil
}

// decodeChunk deserializes and validates a chunk message.
//
// Returns ErrBadChunk when the payload is truncated, misshapen or fails its
// checksum.
func decodeChunk(data []byte) (*chunkMsg, error) {
	var m chunkMsg
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadChunk, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// encodeFlag serializes a convergence flag message with gob.
func encodeFlag(m *flagMsg) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode flag: %w", err)
	}

	return buf.Bytes(), nil
}

// decodeFlag deserializes a convergence flag message.
func decodeFlag(data []byte) (*flagMsg, error) {
	var m flagMsg
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode flag: %w", err)
	}

	return &m, nil
}

// encodeDecision serializes a decision message with gob.
func encodeDecision(m *decisionMsg) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode decision: %w", err)
	}

	return buf.Bytes(), nil
}

// decodeDecision deserializes a decision message.
func decodeDecision(data []byte) (*decisionMsg, error) {
	var m decisionMsg
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode decision: %w", err)
	}

	return &m, nil
}
