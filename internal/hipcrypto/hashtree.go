package hipcrypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// HashTree is a binary Merkle tree over 2^depth leaves, used by the HHL
// (hash tree) ESP-protection transform: the root is published as the
// anchor, and each packet carries one leaf plus its sibling path so the
// receiver can fold up to the known root without holding every leaf.
type HashTree struct {
	depth int
	// levels[0] is the leaves, levels[depth] is {root}.
	levels [][][]byte
}

func treeNodeHash(l, r []byte) []byte {
	h := sha256.New()
	h.Write(l)
	h.Write(r)
	return h.Sum(nil)
}

func treeLeafHash(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// BuildHashTree constructs a tree from exactly 2^depth leaf secrets.
func BuildHashTree(leafSecrets [][]byte) (*HashTree, error) {
	n := len(leafSecrets)
	depth := 0
	for (1 << depth) < n {
		depth++
	}
	if 1<<depth != n || n == 0 {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.BuildHashTree", fmt.Errorf("leaf count %d is not a positive power of two", n))
	}
	levels := make([][][]byte, depth+1)
	leaves := make([][]byte, n)
	for i, s := range leafSecrets {
		leaves[i] = treeLeafHash(s)
	}
	levels[0] = leaves
	for lvl := 1; lvl <= depth; lvl++ {
		prev := levels[lvl-1]
		cur := make([][]byte, len(prev)/2)
		for i := range cur {
			cur[i] = treeNodeHash(prev[2*i], prev[2*i+1])
		}
		levels[lvl] = cur
	}
	return &HashTree{depth: depth, levels: levels}, nil
}

// Root returns the published tree anchor.
func (t *HashTree) Root() []byte {
	return t.levels[t.depth][0]
}

// Path returns the sibling hash at each level from leaf to root for
// leaf index idx, ordered leaf-first, for inclusion in a packet's HHL
// token alongside the leaf secret itself.
func (t *HashTree) Path(idx int) ([][]byte, error) {
	if idx < 0 || idx >= len(t.levels[0]) {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.HashTree.Path", fmt.Errorf("leaf index %d out of range", idx))
	}
	path := make([][]byte, t.depth)
	cur := idx
	for lvl := 0; lvl < t.depth; lvl++ {
		sibling := cur ^ 1
		path[lvl] = t.levels[lvl][sibling]
		cur /= 2
	}
	return path, nil
}

// VerifyHashTreePath folds leafSecret up through path (leaf-first,
// sibling at each level) using idx's bits to choose left/right order at
// each step, and compares the result to root.
func VerifyHashTreePath(leafSecret []byte, idx int, path [][]byte, root []byte) bool {
	cur := treeLeafHash(leafSecret)
	pos := idx
	for _, sibling := range path {
		if pos%2 == 0 {
			cur = treeNodeHash(cur, sibling)
		} else {
			cur = treeNodeHash(sibling, cur)
		}
		pos /= 2
	}
	return constantTimeEqual(cur, root)
}
