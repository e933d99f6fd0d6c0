// Package espprot implements the ESP-protection extension: per-packet
// hash-chain/hash-tree tokens that let a receiver authenticate an ESP
// packet's freshness and ordering beyond the base sequence-number
// check, plus the cumulative-authentication ring buffer and HHL
// (hash-tree) anchor update protocol.
package espprot

import (
	"fmt"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/hiperr"
)

// Transform selects the ESP-protection mode negotiated for one
// direction of an SA.
type Transform uint8

const (
	TransformUnused Transform = iota
	TransformPlain
	TransformParallel
	TransformCumulative
	TransformParaCumul
	TransformTree
)

// Config is the fixed per-transform parameter table: how many hash
// chains are in play, whether a cumulative-auth ring buffer exists and
// its size, and how many linear/random entries each packet carries from
// it.
type Config struct {
	Transform  Transform
	HChains    int
	RingBuf    int
	NumLinear  int
	NumRandom  int
	WindowSize int
}

// DefaultConfig returns the fixed per-transform defaults the
// specification's configuration table names.
func DefaultConfig(t Transform, hchains int) Config {
	switch t {
	case TransformPlain:
		return Config{Transform: t, HChains: 1, WindowSize: 64}
	case TransformParallel:
		if hchains < 2 {
			hchains = 2
		}
		return Config{Transform: t, HChains: hchains, WindowSize: 64}
	case TransformCumulative:
		return Config{Transform: t, HChains: 1, RingBuf: 64, NumLinear: 1, NumRandom: 2, WindowSize: 64}
	case TransformParaCumul:
		if hchains < 2 {
			hchains = 2
		}
		return Config{Transform: t, HChains: hchains, RingBuf: 64, NumLinear: 1, NumRandom: 2, WindowSize: 64}
	case TransformTree:
		return Config{Transform: t, HChains: 1, WindowSize: 64}
	default:
		return Config{Transform: TransformUnused}
	}
}

// ChainState is one hash chain's runtime verification state: the last
// element a receiver has accepted, and the pending next-anchor once a
// rotation has been announced.
type ChainState struct {
	Chain        *hipcrypto.HashChain // nil on the verifier side; only the generator holds the full chain
	ActiveAnchor []byte
	NextAnchor   []byte
	LastSeenSeq  uint32
}

// VerifyToken applies the non-tree per-packet check: W = seq -
// last_seen_seq must be in (0, window_size]; hashing the received token
// W times must reach the active anchor. On acceptance, active advances
// to the received token; if the token equals the pending next anchor,
// the chain rotates (active := next).
func VerifyToken(cs *ChainState, windowSize int, seq uint32, token []byte) error {
	w := int(seq) - int(cs.LastSeenSeq)
	if w <= 0 || w > windowSize {
		return hiperr.New(hiperr.KindReplayWindow, "espprot.VerifyToken", fmt.Errorf("seq window %d outside (0,%d]", w, windowSize))
	}
	if !hipcrypto.VerifyHashChainStep(token, w, cs.ActiveAnchor) {
		return hiperr.New(hiperr.KindAuthFailed, "espprot.VerifyToken", fmt.Errorf("token does not fold to active anchor in %d steps", w))
	}
	cs.ActiveAnchor = token
	cs.LastSeenSeq = seq
	if cs.NextAnchor != nil && bytesEqual(token, cs.NextAnchor) {
		cs.ActiveAnchor = cs.NextAnchor
		cs.NextAnchor = nil
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NextToken returns the generator's next preimage to disclose for
// outbound seq (distance-from-anchor = chain length - 1 - seq offset);
// callers track their own send cursor and pass the matching chain
// index.
func NextToken(chain *hipcrypto.HashChain, elementIndex int) ([]byte, error) {
	return chain.Element(elementIndex)
}
