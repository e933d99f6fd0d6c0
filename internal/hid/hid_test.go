package hid

import (
	"testing"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/wire"
	"github.com/stretchr/testify/require"
)

func sampleEntry(t *testing.T, hostname string) *Entry {
	t.Helper()
	canonical := wire.EncodeHostID(wire.HostID{
		Algorithm: wire.HIAlgoRSA,
		KeyBytes:  []byte("fake-key-bytes-for-test"),
		Hostname:  hostname,
	})
	hit := wire.HITFromHI(canonical, wire.HITTypeHash100)
	return &Entry{HIT: hit, Algo: hipcrypto.SignRSA, Canonical: canonical, Hostname: hostname}
}

func TestInsertLookupRemove(t *testing.T) {
	s := New()
	e := sampleEntry(t, "alice.example")
	require.NoError(t, s.Insert(e))

	got, ok := s.Lookup(e.HIT, 0)
	require.True(t, ok)
	require.Equal(t, e.Hostname, got.Hostname)
	require.True(t, got.LSI.IsValid())

	s.Remove(e.HIT)
	_, ok = s.Lookup(e.HIT, 0)
	require.False(t, ok)
}

func TestInsertRejectsMismatchedHIT(t *testing.T) {
	s := New()
	e := sampleEntry(t, "bob.example")
	e.HIT[0] ^= 0xFF
	require.Error(t, s.Insert(e))
}

func TestInsertRejectsDuplicateHIT(t *testing.T) {
	s := New()
	e := sampleEntry(t, "carol.example")
	require.NoError(t, s.Insert(e))
	require.Error(t, s.Insert(e))
}

func TestDefaultHITDeterministic(t *testing.T) {
	s := New()
	first := sampleEntry(t, "first.example")
	second := sampleEntry(t, "second.example")
	require.NoError(t, s.Insert(first))
	require.NoError(t, s.Insert(second))

	hit, ok := s.DefaultHIT()
	require.True(t, ok)
	require.Equal(t, first.HIT, hit)
}

func TestForEachVisitsAllEntries(t *testing.T) {
	s := New()
	a := sampleEntry(t, "a.example")
	b := sampleEntry(t, "b.example")
	require.NoError(t, s.Insert(a))
	require.NoError(t, s.Insert(b))

	seen := map[wire.HIT]bool{}
	s.ForEach(func(e *Entry) { seen[e.HIT] = true })
	require.True(t, seen[a.HIT])
	require.True(t, seen[b.HIT])
	require.Len(t, seen, 2)
}
