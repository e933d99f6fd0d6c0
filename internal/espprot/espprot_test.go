package espprot

import (
	"testing"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/stretchr/testify/require"
)

func TestVerifyTokenAcceptsWithinWindowAndAdvances(t *testing.T) {
	chain, err := hipcrypto.GenerateHashChain([]byte("seed"), 16)
	require.NoError(t, err)
	cs := &ChainState{ActiveAnchor: chain.Anchor(), LastSeenSeq: 0}

	elem5, err := chain.Element(5)
	require.NoError(t, err)
	require.NoError(t, VerifyToken(cs, 64, 5, elem5))
	require.Equal(t, elem5, cs.ActiveAnchor)
	require.Equal(t, uint32(5), cs.LastSeenSeq)
}

func TestVerifyTokenRejectsOutsideWindow(t *testing.T) {
	chain, err := hipcrypto.GenerateHashChain([]byte("seed"), 16)
	require.NoError(t, err)
	cs := &ChainState{ActiveAnchor: chain.Anchor(), LastSeenSeq: 10}

	elem5, err := chain.Element(5)
	require.NoError(t, err)
	require.Error(t, VerifyToken(cs, 64, 5, elem5))
}

func TestVerifyTokenRejectsWrongToken(t *testing.T) {
	chain, err := hipcrypto.GenerateHashChain([]byte("seed"), 16)
	require.NoError(t, err)
	cs := &ChainState{ActiveAnchor: chain.Anchor(), LastSeenSeq: 0}

	require.Error(t, VerifyToken(cs, 64, 3, []byte("not-a-valid-token")))
}

func TestRingSampleIncludesLinearEntries(t *testing.T) {
	r := NewRing(8, 2, 1, 42)
	for seq := uint32(0); seq < 5; seq++ {
		r.Record(seq, []byte{byte(seq)})
	}
	entries := r.Sample(4)
	var seqs []uint32
	for _, e := range entries {
		seqs = append(seqs, e.Seq)
	}
	require.Contains(t, seqs, uint32(3))
	require.Contains(t, seqs, uint32(2))
}

func TestAnchorCacheIgnoresDuplicateFirstUpdate(t *testing.T) {
	c := NewCache()
	item := &AnchorUpdateItem{Seq: 1, Transform: TransformTree}
	require.True(t, c.Offer("inbound", 0, item))
	require.False(t, c.Offer("inbound", 0, &AnchorUpdateItem{Seq: 1}))

	got, ok := c.Take("inbound", 0)
	require.True(t, ok)
	require.Equal(t, uint32(1), got.Seq)

	_, ok = c.Take("inbound", 0)
	require.False(t, ok)
}

func TestVerifyBranchAgainstTree(t *testing.T) {
	leaves := make([][]byte, 4)
	for i := range leaves {
		leaves[i] = []byte{byte(i), byte(i + 10)}
	}
	tree, err := hipcrypto.BuildHashTree(leaves)
	require.NoError(t, err)
	path, err := tree.Path(2)
	require.NoError(t, err)

	require.NoError(t, VerifyBranch(leaves[2], 2, path, tree.Root()))
	require.Error(t, VerifyBranch(leaves[1], 2, path, tree.Root()))
}
