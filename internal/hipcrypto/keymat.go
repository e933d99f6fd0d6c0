package hipcrypto

import (
	"crypto/sha1" //nolint:gosec // the keymat KDF's output block function is fixed to SHA1 by the protocol

	"github.com/hiplane/hipd/internal/wire"
)

// KeymatKind labels each of the eight keys drawn from the keymat stream,
// in the fixed draw order: HIP-enc-gL, HIP-HMAC-gL, HIP-enc-Lg,
// HIP-HMAC-Lg, ESP-enc-gL, ESP-auth-gL, ESP-enc-Lg, ESP-auth-Lg, where
// "gL" denotes the direction from the numerically greater HIT to the
// lesser one and "Lg" the reverse.
type KeymatKind int

const (
	KeyHIPEncGL KeymatKind = iota
	KeyHIPAuthGL
	KeyHIPEncLG
	KeyHIPAuthLG
	KeyESPEncGL
	KeyESPAuthGL
	KeyESPEncLG
	KeyESPAuthLG
	keyCount
)

// KeyLengths gives the byte length to draw for each KeymatKind, sized to
// the negotiated HIP and ESP transforms.
type KeyLengths struct {
	HIPEncBytes  int // AES-128=16, AES-256=32, 3DES=24, NULL=0
	HIPAuthBytes int // HMAC-SHA1 key: 20
	ESPEncBytes  int
	ESPAuthBytes int
}

// Keymat is the deterministic byte stream both ends of an exchange
// derive independently: K_1 = SHA1(Kij || sort(HIT-I,HIT-R) || I || J),
// K_n = SHA1(K_(n-1) || Kij || sort(HIT-I,HIT-R) || I || J || n) for
// n>1, concatenated to as many bytes as the eight draws require.
type Keymat struct {
	kij      []byte
	hitOrder []byte // sort(HIT-I,HIT-R) precomputed once
	i, j     []byte
	pool     []byte // already-generated stream, grows on demand
	prev     []byte // last generated block, K_(n-1)
	counter  byte   // number of blocks generated so far
}

// NewKeymat seeds the stream. hitI and hitR are the initiator's and
// responder's HITs respectively; I and J are the 64-bit nonces
// exchanged in R1/I2 used as salt.
func NewKeymat(kij []byte, hitI, hitR wire.HIT, i, j []byte) *Keymat {
	var order []byte
	if hitI.Compare(hitR) > 0 {
		order = append(append([]byte{}, hitI[:]...), hitR[:]...)
	} else {
		order = append(append([]byte{}, hitR[:]...), hitI[:]...)
	}
	return &Keymat{
		kij:      append([]byte{}, kij...),
		hitOrder: order,
		i:        append([]byte{}, i...),
		j:        append([]byte{}, j...),
	}
}

func (k *Keymat) extend() {
	h := sha1.New() //nolint:gosec
	if k.counter == 0 {
		h.Write(k.kij)
		h.Write(k.hitOrder)
		h.Write(k.i)
		h.Write(k.j)
	} else {
		h.Write(k.prev)
		h.Write(k.kij)
		h.Write(k.hitOrder)
		h.Write(k.i)
		h.Write(k.j)
		h.Write([]byte{k.counter + 1})
	}
	k.prev = h.Sum(nil)
	k.pool = append(k.pool, k.prev...)
	k.counter++
}

// Draw returns the next n bytes of the stream, extending it as needed.
func (k *Keymat) Draw(n int) []byte {
	for len(k.pool) < n {
		k.extend()
	}
	out := k.pool[:n]
	k.pool = k.pool[n:]
	return out
}

// DeriveAll draws all eight keys in the fixed order and returns them
// indexed by KeymatKind. Call on a fresh Keymat — draws are one-shot and
// consume the stream in sequence, matching both ends' independent
// derivation.
func DeriveAll(k *Keymat, lens KeyLengths) map[KeymatKind][]byte {
	order := []struct {
		kind KeymatKind
		n    int
	}{
		{KeyHIPEncGL, lens.HIPEncBytes},
		{KeyHIPAuthGL, lens.HIPAuthBytes},
		{KeyHIPEncLG, lens.HIPEncBytes},
		{KeyHIPAuthLG, lens.HIPAuthBytes},
		{KeyESPEncGL, lens.ESPEncBytes},
		{KeyESPAuthGL, lens.ESPAuthBytes},
		{KeyESPEncLG, lens.ESPEncBytes},
		{KeyESPAuthLG, lens.ESPAuthBytes},
	}
	out := make(map[KeymatKind][]byte, keyCount)
	for _, e := range order {
		if e.n == 0 {
			out[e.kind] = nil
			continue
		}
		out[e.kind] = k.Draw(e.n)
	}
	return out
}
