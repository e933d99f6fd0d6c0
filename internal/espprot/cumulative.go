package espprot

import (
	"crypto/sha256"
	"math/rand"
)

// Ring is the cumulative-authentication ring buffer. Its random source
// is seeded per-Ring so picks are reproducible within a test run
// without depending on the package-level global RNG; cumulative-auth
// sampling is not security-relevant, only a freshness aid, so
// math/rand suffices.
type Ring struct {
	buf      [][]byte
	size     int
	numLinear, numRandom int
	rng      *rand.Rand
}

// NewRing returns a cumulative-auth ring buffer of the given size.
func NewRing(size, numLinear, numRandom int, seed int64) *Ring {
	return &Ring{buf: make([][]byte, size), size: size, numLinear: numLinear, numRandom: numRandom, rng: rand.New(rand.NewSource(seed))}
}

// espHeaderHash is the hash stored per outbound packet: SHA256 over the
// ESP header bytes (SPI‖seq), used so a receiver can authenticate a
// late-arriving earlier packet without re-deriving its full ciphertext.
func espHeaderHash(espHeader []byte) []byte {
	h := sha256.Sum256(espHeader)
	return h[:]
}

// Record stores seq's ESP-header hash in the ring.
func (r *Ring) Record(seq uint32, espHeader []byte) {
	r.buf[int(seq)%r.size] = espHeaderHash(espHeader)
}

// Entry is one (seq, hash) tuple carried alongside an outbound packet.
type Entry struct {
	Seq  uint32
	Hash []byte
}

// Sample returns up to numLinear most-recent entries (seq-1, seq-2, ...)
// plus up to numRandom entries chosen from the remainder of the ring,
// for attachment to the outbound packet at seq.
func (r *Ring) Sample(seq uint32) []Entry {
	var out []Entry
	seen := map[uint32]bool{seq: true}
	for i := 1; i <= r.numLinear && uint32(i) <= seq; i++ {
		s := seq - uint32(i)
		if h := r.buf[int(s)%r.size]; h != nil {
			out = append(out, Entry{Seq: s, Hash: h})
			seen[s] = true
		}
	}
	attempts, picked := 0, 0
	for picked < r.numRandom && attempts < r.size*2 {
		attempts++
		idx := r.rng.Intn(r.size)
		if r.buf[idx] == nil {
			continue
		}
		candidateSeq := reconstructSeq(seq, idx, r.size)
		if seen[candidateSeq] {
			continue
		}
		out = append(out, Entry{Seq: candidateSeq, Hash: r.buf[idx]})
		seen[candidateSeq] = true
		picked++
	}
	return out
}

// reconstructSeq recovers the most recent seq value that maps to ring
// index idx, given the current seq.
func reconstructSeq(curSeq uint32, idx, size int) uint32 {
	curIdx := int(curSeq) % size
	delta := curIdx - idx
	if delta < 0 {
		delta += size
	}
	return curSeq - uint32(delta)
}

// Verify checks a received (seq, hash) entry against an independently
// recomputed ESP-header hash for that seq — used when a packet the
// receiver already has buffered references an earlier seq it can now
// retroactively authenticate.
func Verify(entry Entry, espHeaderForSeq []byte) bool {
	return bytesEqual(espHeaderHash(espHeaderForSeq), entry.Hash)
}
