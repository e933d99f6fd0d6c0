package espprot

import (
	"fmt"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/hiperr"
)

// AnchorUpdateItem is the cached state of a pending HHL (hash-tree) or
// TPA anchor update, from receipt of the first anchor-carrying UPDATE
// to the matching ACK.
type AnchorUpdateItem struct {
	Seq       uint32
	Transform Transform
	Active    [][]byte
	Next      [][]byte
	Roots     [][]byte
	RootLen   int
}

// Cache holds at most one pending update per direction per chain, per
// the "duplicate first UPDATEs with the same seq are ignored"
// discipline.
type Cache struct {
	pending map[string]*AnchorUpdateItem // keyed by "direction:chainIndex"
}

// NewCache returns an empty anchor-update cache.
func NewCache() *Cache {
	return &Cache{pending: make(map[string]*AnchorUpdateItem)}
}

func cacheKey(direction string, chainIndex int) string {
	return fmt.Sprintf("%s:%d", direction, chainIndex)
}

// Offer records a first-UPDATE anchor item, ignoring a duplicate offer
// for the same (direction, chain, seq).
func (c *Cache) Offer(direction string, chainIndex int, item *AnchorUpdateItem) bool {
	k := cacheKey(direction, chainIndex)
	if existing, ok := c.pending[k]; ok && existing.Seq == item.Seq {
		return false
	}
	c.pending[k] = item
	return true
}

// Take removes and returns the pending item for (direction, chain), if
// any — called when the matching ACK arrives.
func (c *Cache) Take(direction string, chainIndex int) (*AnchorUpdateItem, bool) {
	k := cacheKey(direction, chainIndex)
	item, ok := c.pending[k]
	if ok {
		delete(c.pending, k)
	}
	return item, ok
}

// VerifyBranch checks an HHL light-UPDATE's Merkle branch against the
// active link-tree root: recompute the leaf from (secret), fold up
// using the anchor's position bits, and compare to root.
func VerifyBranch(leafSecret []byte, leafIndex int, branch [][]byte, root []byte) error {
	if !hipcrypto.VerifyHashTreePath(leafSecret, leafIndex, branch, root) {
		return hiperr.New(hiperr.KindAuthFailed, "espprot.VerifyBranch", fmt.Errorf("Merkle branch does not fold to the active root"))
	}
	return nil
}
