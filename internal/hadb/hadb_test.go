package hadb

import (
	"testing"

	"github.com/hiplane/hipd/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestInsertEnforcesAtMostOnePerPair(t *testing.T) {
	db := New()
	local := wire.HIT{0x01}
	peer := wire.HIT{0x02}

	ha := Create(local, peer)
	require.NoError(t, db.Insert(ha))

	dup := Create(local, peer)
	require.Error(t, db.Insert(dup))
}

func TestInsertRejectsMissingKeysForEstablished(t *testing.T) {
	db := New()
	ha := Create(wire.HIT{0x01}, wire.HIT{0x02})
	ha.State = StateEstablished
	require.Error(t, db.Insert(ha))

	ha.Keys.HIPEncIn = []byte{1, 2, 3}
	require.NoError(t, db.Insert(ha))
}

func TestFindByHITsAndPeerHIT(t *testing.T) {
	db := New()
	local := wire.HIT{0x01}
	peer := wire.HIT{0x02}
	ha := Create(local, peer)
	require.NoError(t, db.Insert(ha))

	got, ok := db.FindByHITs(local, peer)
	require.True(t, ok)
	require.Same(t, ha, got)

	byPeer := db.FindByPeerHIT(peer)
	require.Len(t, byPeer, 1)
}

func TestDeleteRemovesFromAllIndices(t *testing.T) {
	db := New()
	local := wire.HIT{0x01}
	peer := wire.HIT{0x02}
	ha := Create(local, peer)
	require.NoError(t, db.Insert(ha))

	db.Delete(ha)
	_, ok := db.FindByHITs(local, peer)
	require.False(t, ok)
	require.Empty(t, db.FindByPeerHIT(peer))
	require.Equal(t, 0, db.Len())
}

func TestForEachSafeUnderDeletionOfCurrent(t *testing.T) {
	db := New()
	for i := 0; i < 3; i++ {
		ha := Create(wire.HIT{byte(i)}, wire.HIT{0x99})
		require.NoError(t, db.Insert(ha))
	}
	var visited int
	db.ForEach(func(ha *HA) {
		visited++
		db.Delete(ha)
	})
	require.Equal(t, 3, visited)
	require.Equal(t, 0, db.Len())
}

func TestRegisterLSIUniquePerHIT(t *testing.T) {
	db := New()
	ha1 := Create(wire.HIT{0x01}, wire.HIT{0x02})
	ha2 := Create(wire.HIT{0x01}, wire.HIT{0x03})
	lsi := wire.LSI{1, 0, 0, 5}

	require.NoError(t, db.RegisterLSI(lsi, ha1))
	require.Error(t, db.RegisterLSI(lsi, ha2))
}
