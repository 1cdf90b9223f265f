package cluster

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	relaxtest "github.com/bridges-wood/parallel-relaxation/testing"
	"github.com/bridges-wood/parallel-relaxation/types"
)

func TestComm_PublishClassifiesDeadTransport(t *testing.T) {
	_, nc := relaxtest.StartEmbeddedNATS(t)
	c := newComm(nc, "relax", "classify-test", 0, 2, relaxtest.NewTestLogger(t))

	require.NoError(t, c.publish(c.flagSubject(), []byte("flag")))

	nc.Close()

	err := c.publish(c.flagSubject(), []byte("flag"))
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrConnectivity)
}

func TestComm_PublishKeepsProtocolErrors(t *testing.T) {
	_, nc := relaxtest.StartEmbeddedNATS(t)
	c := newComm(nc, "relax", "payload-test", 0, 2, relaxtest.NewTestLogger(t))

	oversized := make([]byte, nc.MaxPayload()+1)

	err := c.publish(c.flagSubject(), oversized)
	require.Error(t, err)
	require.ErrorIs(t, err, nats.ErrMaxPayload)
	require.NotErrorIs(t, err, types.ErrConnectivity)
}
