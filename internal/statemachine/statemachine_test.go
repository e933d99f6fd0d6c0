package statemachine

import (
	"crypto/elliptic"
	"testing"
	"time"

	"github.com/hiplane/hipd/internal/hadb"
	"github.com/hiplane/hipd/internal/hid"
	"github.com/hiplane/hipd/internal/puzzle"
	"github.com/hiplane/hipd/internal/sa"
	"github.com/hiplane/hipd/internal/wire"
	"github.com/stretchr/testify/require"
)

type recordingOutbound struct {
	sent []*wire.Message
}

func (r *recordingOutbound) Send(msg *wire.Message, dstIP string, dstPort uint16) error {
	r.sent = append(r.sent, msg)
	return nil
}

func insertIdentity(t *testing.T, store *hid.Store, hostname string) wire.HIT {
	t.Helper()
	entry, err := store.GenerateECDSA(elliptic.P256(), hostname, false)
	require.NoError(t, err)
	return entry.HIT
}

func newMachine(t *testing.T) (*Machine, *hadb.DB, *hid.Store, *recordingOutbound) {
	t.Helper()
	db := hadb.New()
	hids := hid.New()
	puzzles := puzzle.NewCache(time.Hour, 2)
	sas := sa.NewManager()
	out := &recordingOutbound{}
	return New(db, hids, puzzles, sas, out), db, hids, out
}

func TestI1GeneratesR1WithPuzzle(t *testing.T) {
	m, _, hids, out := newMachine(t)
	responder := insertIdentity(t, hids, "responder.example")
	initiator := wire.HIT{0x09}

	i1 := &wire.Message{Header: wire.Header{Type: wire.TypeI1, SenderHIT: initiator, ReceiverHIT: responder}}
	require.NoError(t, m.Dispatch(i1, "203.0.113.5", 0))

	require.Len(t, out.sent, 1)
	_, ok := out.sent[0].Find(wire.PPuzzle)
	require.True(t, ok)
}

func TestI1RejectsWithoutLocalIdentity(t *testing.T) {
	m, _, _, _ := newMachine(t)
	i1 := &wire.Message{Header: wire.Header{Type: wire.TypeI1, SenderHIT: wire.HIT{0x01}, ReceiverHIT: wire.HIT{0x02}}}
	err := m.Dispatch(i1, "203.0.113.5", 0)
	require.Error(t, err)
}

func TestFullBaseExchangeReachesEstablished(t *testing.T) {
	m, db, hids, out := newMachine(t)
	responderHIT := insertIdentity(t, hids, "responder.example")
	initiatorHIT := insertIdentity(t, hids, "initiator.example")

	ha, err := m.TriggerBEX(initiatorHIT, responderHIT, "203.0.113.5", 0)
	require.NoError(t, err)
	require.Equal(t, hadb.StateI1Sent, ha.State)
	require.Len(t, out.sent, 1)

	i1 := out.sent[0]
	out.sent = nil
	require.NoError(t, m.Dispatch(i1, "203.0.113.9", 0))
	require.Len(t, out.sent, 1)
	r1 := out.sent[0]

	out.sent = nil
	require.NoError(t, m.Dispatch(r1, "203.0.113.5", 0))
	ha, ok := db.FindByHITs(initiatorHIT, responderHIT)
	require.True(t, ok)
	require.Equal(t, hadb.StateI2Sent, ha.State)
	require.Len(t, out.sent, 1)
	i2 := out.sent[0]

	out.sent = nil
	require.NoError(t, m.Dispatch(i2, "203.0.113.9", 0))
	respHA, ok := db.FindByHITs(responderHIT, initiatorHIT)
	require.True(t, ok)
	require.Equal(t, hadb.StateR2Sent, respHA.State)
	require.Len(t, out.sent, 1)
	r2 := out.sent[0]

	require.NoError(t, m.Dispatch(r2, "203.0.113.5", 0))
	ha, _ = db.FindByHITs(initiatorHIT, responderHIT)
	require.Equal(t, hadb.StateEstablished, ha.State)
}

func TestCloseCloseAckTransitions(t *testing.T) {
	m, db, _, _ := newMachine(t)
	local := wire.HIT{0x01}
	peer := wire.HIT{0x02}
	ha := hadb.Create(local, peer)
	ha.State = hadb.StateEstablished
	ha.Keys.HIPEncIn = []byte{1}
	require.NoError(t, db.Insert(ha))

	closeMsg := &wire.Message{Header: wire.Header{Type: wire.TypeClose, SenderHIT: peer, ReceiverHIT: local}}
	require.NoError(t, m.Dispatch(closeMsg, "203.0.113.9", 0))
	require.Equal(t, hadb.StateClosing, ha.State)

	closeAck := &wire.Message{Header: wire.Header{Type: wire.TypeCloseAck, SenderHIT: peer, ReceiverHIT: local}}
	require.NoError(t, m.Dispatch(closeAck, "203.0.113.9", 0))
	require.Equal(t, hadb.StateClosed, ha.State)
}

func TestClassifyUpdate(t *testing.T) {
	first := &wire.Message{}
	first.Add(wire.PSequence, []byte{0, 0, 0, 1})
	require.Equal(t, UpdateFirst, ClassifyUpdate(first))

	second := &wire.Message{}
	second.Add(wire.PSequence, []byte{0, 0, 0, 1})
	second.Add(wire.PACK, []byte{0, 0, 0, 1})
	second.Add(wire.PESPInfo, []byte{0, 0, 0, 0})
	require.Equal(t, UpdateSecond, ClassifyUpdate(second))

	third := &wire.Message{}
	third.Add(wire.PACK, []byte{0, 0, 0, 1})
	third.Add(wire.PESPInfo, []byte{0, 0, 0, 0})
	require.Equal(t, UpdateThird, ClassifyUpdate(third))
}
