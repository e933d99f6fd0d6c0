package conntrack

import (
	"testing"
	"time"

	"github.com/hiplane/hipd/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestLifecycleI1ThroughEstablished(t *testing.T) {
	tr := New()
	a := wire.HIT{0x01}
	b := wire.HIT{0x02}

	tr.OnI1(a, b)
	tup, ok := tr.Lookup(a, b)
	require.True(t, ok)
	require.Equal(t, ConnI1Seen, tup.State)

	tr.OnR1(b, a, []byte("responder-hostid"))
	require.Equal(t, ConnR1Seen, tup.State)
	require.Equal(t, []byte("responder-hostid"), tup.ResponderHostID)

	tr.OnI2(a, b, 0x1111, []byte("initiator-anchor"))
	require.Equal(t, ConnI2Seen, tup.State)

	tr.OnR2(b, a, 0x2222, []byte("responder-anchor"))
	require.Equal(t, ConnEstablished, tup.State)
}

func TestMatchESPTupleByActiveAnchor(t *testing.T) {
	tr := New()
	a := wire.HIT{0x01}
	b := wire.HIT{0x02}
	tr.OnI1(a, b)
	tr.OnI2(a, b, 0x1111, []byte("anchor-v1"))

	et, ok := tr.MatchESPTuple(a, b, []byte("anchor-v1"))
	require.True(t, ok)
	require.Equal(t, uint32(0x1111), et.SPI)

	_, ok = tr.MatchESPTuple(a, b, []byte("no-such-anchor"))
	require.False(t, ok)
}

func TestRotateAnchorUpdatesInPlace(t *testing.T) {
	et := &ESPTuple{ActiveAnchor: []byte("old"), NextAnchor: []byte("new")}
	et.RotateAnchor([]byte("future"), []byte("future-root"))
	require.Equal(t, []byte("new"), et.ActiveAnchor)
	require.Equal(t, []byte("future"), et.NextAnchor)
}

func TestPurgeRemovesOldClosedConnections(t *testing.T) {
	tr := New()
	a := wire.HIT{0x01}
	b := wire.HIT{0x02}
	tr.OnI1(a, b)
	tr.Close(a, b)

	tr.Purge(time.Hour, time.Now())
	require.Equal(t, 1, tr.Len())

	tr.Purge(time.Millisecond, time.Now().Add(time.Hour))
	require.Equal(t, 0, tr.Len())
}
