package hipcrypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// HashChain is a one-way hash chain used by the TPA (token-based packet
// authentication) ESP-protection transform: a random anchor is hashed
// repeatedly to produce a chain of length, and elements are released
// from the far end backward so each revealed element verifies against
// the previously-released (closer to anchor) one by a single hash.
type HashChain struct {
	elements [][]byte // elements[0] is the anchor; elements[length-1] is the seed
}

// chainHash is the chain's single-input hash step, H(x) = SHA256(x).
func chainHash(x []byte) []byte {
	h := sha256.Sum256(x)
	return h[:]
}

// GenerateHashChain builds a chain of the given length from a random
// seed: elements[length-1] = seed, elements[i] = H(elements[i+1]), so
// elements[0] is the anchor published to the peer.
func GenerateHashChain(seed []byte, length int) (*HashChain, error) {
	if length < 1 {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.GenerateHashChain", fmt.Errorf("length %d must be >= 1", length))
	}
	elems := make([][]byte, length)
	elems[length-1] = append([]byte{}, seed...)
	for i := length - 2; i >= 0; i-- {
		elems[i] = chainHash(elems[i+1])
	}
	return &HashChain{elements: elems}, nil
}

// Anchor returns the published chain anchor, elements[0].
func (c *HashChain) Anchor() []byte {
	return c.elements[0]
}

// Element returns the i-th element (0 is the anchor, length-1 the seed).
func (c *HashChain) Element(i int) ([]byte, error) {
	if i < 0 || i >= len(c.elements) {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.HashChain.Element", fmt.Errorf("index %d out of range [0,%d)", i, len(c.elements)))
	}
	return c.elements[i], nil
}

// Len returns the chain length.
func (c *HashChain) Len() int { return len(c.elements) }

// VerifyHashChainStep checks that candidate, claimed to be element[idx],
// hashes forward to anchor element[idx-distance] in exactly distance
// steps — the core TPA per-packet check: a receiver holding the last
// verified element at some index can accept any later (higher-index)
// element offered, as long as repeated hashing reaches the held one.
func VerifyHashChainStep(candidate []byte, distance int, expectedAncestor []byte) bool {
	if distance < 0 {
		return false
	}
	cur := candidate
	for i := 0; i < distance; i++ {
		cur = chainHash(cur)
	}
	return constantTimeEqual(cur, expectedAncestor)
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
