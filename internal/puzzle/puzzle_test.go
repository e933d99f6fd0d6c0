package puzzle

import (
	"testing"
	"time"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/wire"
	"github.com/stretchr/testify/require"
)

var testGroups = []hipcrypto.GroupID{hipcrypto.GroupNISTP256}

func TestGenerateIsStableUntilExpiry(t *testing.T) {
	c := NewCache(time.Hour, 4)
	hit := wire.HIT{0x01}

	i1, k1, dh1, err := c.Generate(hit, testGroups)
	require.NoError(t, err)
	i2, k2, dh2, err := c.Generate(hit, testGroups)
	require.NoError(t, err)
	require.Equal(t, i1, i2)
	require.Equal(t, k1, k2)
	require.Equal(t, dh1[testGroups[0]].PublicBytes(), dh2[testGroups[0]].PublicBytes())
}

func TestSolveAndVerifyRoundTrip(t *testing.T) {
	c := NewCache(time.Hour, 4)
	hitI := wire.HIT{0x01}
	hitR := wire.HIT{0x02}

	i, k, _, err := c.Generate(hitR, testGroups)
	require.NoError(t, err)

	j := Solve(i, hitI, hitR, k)
	require.NoError(t, c.Verify(hitR, hitI, i, j))
}

func TestVerifyRejectsWrongSolution(t *testing.T) {
	c := NewCache(time.Hour, 4)
	hitI := wire.HIT{0x01}
	hitR := wire.HIT{0x02}

	i, _, _, err := c.Generate(hitR, testGroups)
	require.NoError(t, err)
	require.Error(t, c.Verify(hitR, hitI, i, 0))
}

func TestVerifyRejectsUnknownI(t *testing.T) {
	c := NewCache(time.Hour, 4)
	hitI := wire.HIT{0x01}
	hitR := wire.HIT{0x02}
	_, _, _, err := c.Generate(hitR, testGroups)
	require.NoError(t, err)

	require.Error(t, c.Verify(hitR, hitI, 0xDEADBEEF, 0))
}

func TestVerifyRejectsExpiredPuzzle(t *testing.T) {
	c := NewCache(time.Millisecond, 1)
	hitI := wire.HIT{0x01}
	hitR := wire.HIT{0x02}
	i, k, _, err := c.Generate(hitR, testGroups)
	require.NoError(t, err)
	j := Solve(i, hitI, hitR, k)

	time.Sleep(5 * time.Millisecond)
	require.Error(t, c.Verify(hitR, hitI, i, j))
}

func TestRotateForcesNewPuzzle(t *testing.T) {
	c := NewCache(time.Hour, 4)
	hit := wire.HIT{0x01}
	i1, _, _, err := c.Generate(hit, testGroups)
	require.NoError(t, err)

	c.Rotate(hit, 6)
	i2, k2, _, err := c.Generate(hit, testGroups)
	require.NoError(t, err)
	require.NotEqual(t, i1, i2)
	require.Equal(t, uint8(6), k2)
}

func TestGenerateCachesDHKeysAlongsidePuzzle(t *testing.T) {
	c := NewCache(time.Hour, 4)
	hit := wire.HIT{0x01}

	_, _, dhKeys, err := c.Generate(hit, testGroups)
	require.NoError(t, err)
	require.Contains(t, dhKeys, testGroups[0])

	cached, ok := c.DHKeys(hit)
	require.True(t, ok)
	require.Equal(t, dhKeys[testGroups[0]].PublicBytes(), cached[testGroups[0]].PublicBytes())
}
