// Package puzzle implements the HIP R1 cookie mechanism: stateless
// client puzzles the responder uses to slow down I1 flooding before any
// per-initiator state is created.
package puzzle

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // puzzle verification is defined over SHA-1 by the protocol
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/hiperr"
	"github.com/hiplane/hipd/internal/wire"
)

// DefaultDifficulty is the starting puzzle difficulty K (low-order zero
// bits required of the solution hash), raised under load.
const DefaultDifficulty = 10

// entry is one cached (I, K) puzzle, keyed by destination HIT. Since a
// responder never commits an HA to the HADB until I2 arrives, the R1
// cache is also the only place to hold the ephemeral DH/ECDH keypairs
// R1 offered, for reuse when I2's chosen group needs the matching
// private exponent.
type entry struct {
	i          uint64
	k          uint8
	expiresAt  time.Time
	dhKeys     map[hipcrypto.GroupID]hipcrypto.KeyAgreement
}

// Cache is the responder's R1 cache: a small, periodically-rotated set
// of precomputed puzzles per local HIT. Puzzles are stateless —
// verification reconstructs everything it needs from (I, K) plus the
// HIT pair and the initiator's claimed J, never from per-initiator
// state held since R1 was sent.
type Cache struct {
	mu         sync.RWMutex
	lifetime   time.Duration
	difficulty uint8
	byHIT      map[wire.HIT]*entry
}

// NewCache returns a cache with the given puzzle lifetime and starting
// difficulty.
func NewCache(lifetime time.Duration, difficulty uint8) *Cache {
	return &Cache{lifetime: lifetime, difficulty: difficulty, byHIT: make(map[wire.HIT]*entry)}
}

// Generate produces (or returns the still-valid cached) puzzle and DH
// keypairs for responding to I1s addressed to localHIT. groups is the
// responder's DH preference list, highest first; a keypair is generated
// for each and cached alongside the puzzle so the same ephemeral
// private exponents back every R1 sent before the entry rotates.
func (c *Cache) Generate(localHIT wire.HIT, groups []hipcrypto.GroupID) (i uint64, k uint8, dhKeys map[hipcrypto.GroupID]hipcrypto.KeyAgreement, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byHIT[localHIT]; ok && time.Now().Before(e.expiresAt) {
		return e.i, e.k, e.dhKeys, nil
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, 0, nil, hiperr.New(hiperr.KindFatal, "puzzle.Generate", err)
	}
	dhKeys = make(map[hipcrypto.GroupID]hipcrypto.KeyAgreement, len(groups))
	for _, g := range groups {
		kp, err := hipcrypto.GenerateKeyAgreement(g)
		if err != nil {
			return 0, 0, nil, err
		}
		dhKeys[g] = kp
	}
	e := &entry{
		i:         binary.BigEndian.Uint64(buf[:]),
		k:         c.difficulty,
		expiresAt: time.Now().Add(c.lifetime),
		dhKeys:    dhKeys,
	}
	c.byHIT[localHIT] = e
	return e.i, e.k, e.dhKeys, nil
}

// DHKeys returns the cached ephemeral keypairs generated by the most
// recent Generate call for localHIT, for recovering the private
// exponent matching I2's chosen group.
func (c *Cache) DHKeys(localHIT wire.HIT) (map[hipcrypto.GroupID]hipcrypto.KeyAgreement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byHIT[localHIT]
	if !ok {
		return nil, false
	}
	return e.dhKeys, true
}

// Rotate forces regeneration of the puzzle for localHIT on the next
// Generate call, used by the periodic maintenance tick even when the
// current puzzle has not yet expired, so K can be raised under load
// without waiting out the full lifetime.
func (c *Cache) Rotate(localHIT wire.HIT, newDifficulty uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byHIT, localHIT)
	c.difficulty = newDifficulty
}

// SetDifficulty adjusts the difficulty applied to puzzles generated
// from now on (existing cached entries are unaffected until rotated).
func (c *Cache) SetDifficulty(k uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.difficulty = k
}

// Difficulty reports the difficulty currently applied to newly
// generated puzzles.
func (c *Cache) Difficulty() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.difficulty
}

// Verify checks an I2's (I, J) solution against the cache: I must
// correspond to a non-expired puzzle issued for localHIT, and
// H(I‖HIT_i‖HIT_r‖J) must have k low-order zero bits.
func (c *Cache) Verify(localHIT, peerHIT wire.HIT, i, j uint64) error {
	c.mu.RLock()
	e, ok := c.byHIT[localHIT]
	c.mu.RUnlock()
	if !ok || e.i != i {
		return hiperr.New(hiperr.KindAuthFailed, "puzzle.Verify", fmt.Errorf("I does not match a known R1 for this HIT"))
	}
	if time.Now().After(e.expiresAt) {
		return hiperr.New(hiperr.KindAuthFailed, "puzzle.Verify", fmt.Errorf("puzzle expired"))
	}
	if !checkSolution(i, peerHIT, localHIT, j, e.k) {
		return hiperr.New(hiperr.KindAuthFailed, "puzzle.Verify", fmt.Errorf("solution does not satisfy K=%d", e.k))
	}
	return nil
}

// Solve is the initiator side: brute-force search for a J such that
// H(I‖HIT_i‖HIT_r‖J) has k low-order zero bits.
func Solve(i uint64, hitI, hitR wire.HIT, k uint8) uint64 {
	var j uint64
	for {
		if checkSolution(i, hitI, hitR, j, k) {
			return j
		}
		j++
	}
}

func checkSolution(i uint64, hitI, hitR wire.HIT, j uint64, k uint8) bool {
	h := sha1.New() //nolint:gosec
	var ib, jb [8]byte
	binary.BigEndian.PutUint64(ib[:], i)
	binary.BigEndian.PutUint64(jb[:], j)
	h.Write(ib[:])
	h.Write(hitI[:])
	h.Write(hitR[:])
	h.Write(jb[:])
	sum := h.Sum(nil)
	return lowOrderZeroBits(sum) >= int(k)
}

// lowOrderZeroBits counts trailing zero bits across the whole digest,
// scanning from the last byte.
func lowOrderZeroBits(digest []byte) int {
	count := 0
	for i := len(digest) - 1; i >= 0; i-- {
		b := digest[i]
		if b == 0 {
			count += 8
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				return count + bit
			}
		}
	}
	return count
}
