package statemachine

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/hiplane/hipd/internal/espprot"
	"github.com/hiplane/hipd/internal/hadb"
	"github.com/hiplane/hipd/internal/hiperr"
	"github.com/hiplane/hipd/internal/hipcrypto"
)

// keyLengthsFor sizes the eight keymat draws to the transform both the
// HIP control channel and the ESP SA use (this implementation shares
// one negotiated transform across both, rather than running a separate
// ESP_TRANSFORM negotiation). HMAC-SHA1 keys are always 20 bytes
// regardless of the cipher, per the fixed HIP integrity transform.
func keyLengthsFor(t hipcrypto.TransformID) hipcrypto.KeyLengths {
	lens := hipcrypto.KeyLengths{HIPAuthBytes: 20, ESPAuthBytes: 20}
	switch t {
	case hipcrypto.TransformAESCBC:
		lens.HIPEncBytes, lens.ESPEncBytes = 16, 16
	case hipcrypto.Transform3DESCBC:
		lens.HIPEncBytes, lens.ESPEncBytes = 24, 24
	case hipcrypto.TransformNULL:
		lens.HIPEncBytes, lens.ESPEncBytes = 0, 0
	}
	return lens
}

// assignKeys maps the eight draws DeriveAll produces onto ha.Keys's
// In/Out fields. The draw order is fixed relative to the numerically
// greater HIT (keymat.go); localGreater tells us which side of that
// fixed labeling this HA's "local" is on.
func assignKeys(ha *hadb.HA, keys map[hipcrypto.KeymatKind][]byte, localGreater bool) {
	if localGreater {
		ha.Keys.HIPEncOut = keys[hipcrypto.KeyHIPEncGL]
		ha.Keys.HIPAuthOut = keys[hipcrypto.KeyHIPAuthGL]
		ha.Keys.HIPEncIn = keys[hipcrypto.KeyHIPEncLG]
		ha.Keys.HIPAuthIn = keys[hipcrypto.KeyHIPAuthLG]
		ha.Keys.ESPEncOut = keys[hipcrypto.KeyESPEncGL]
		ha.Keys.ESPAuthOut = keys[hipcrypto.KeyESPAuthGL]
		ha.Keys.ESPEncIn = keys[hipcrypto.KeyESPEncLG]
		ha.Keys.ESPAuthIn = keys[hipcrypto.KeyESPAuthLG]
		return
	}
	ha.Keys.HIPEncIn = keys[hipcrypto.KeyHIPEncGL]
	ha.Keys.HIPAuthIn = keys[hipcrypto.KeyHIPAuthGL]
	ha.Keys.HIPEncOut = keys[hipcrypto.KeyHIPEncLG]
	ha.Keys.HIPAuthOut = keys[hipcrypto.KeyHIPAuthLG]
	ha.Keys.ESPEncIn = keys[hipcrypto.KeyESPEncGL]
	ha.Keys.ESPAuthIn = keys[hipcrypto.KeyESPAuthGL]
	ha.Keys.ESPEncOut = keys[hipcrypto.KeyESPEncLG]
	ha.Keys.ESPAuthOut = keys[hipcrypto.KeyESPAuthLG]
}

// randSPI draws a fresh 32-bit SPI for a newly installed inbound SA.
func randSPI() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, hiperr.New(hiperr.KindFatal, "statemachine.randSPI", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// uint64ToBytes renders v as the 8-byte big-endian form the keymat KDF
// and the PUZZLE/SOLUTION parameters both use for I and J.
func uint64ToBytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// selectTransform picks the first entry of peerOffered (given in the
// offering side's preference order) that ourSupported also lists.
func selectTransform(peerOffered, ourSupported []uint16) (uint16, bool) {
	supported := make(map[uint16]bool, len(ourSupported))
	for _, t := range ourSupported {
		supported[t] = true
	}
	for _, t := range peerOffered {
		if supported[t] {
			return t, true
		}
	}
	return 0, false
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

// generateAnchor produces a fresh ESP-protection hash chain anchor for
// cfg's negotiated transform, or (nil, nil) when the extension is
// unused. The chain itself is not retained: per-packet token
// issuance and verification is the data path's responsibility
// (internal/espprot, internal/conntrack), not the control-plane
// handshake, which only has to agree on transform and starting anchor.
func generateAnchor(cfg espprot.Config) ([]byte, error) {
	if cfg.Transform == espprot.TransformUnused {
		return nil, nil
	}
	length := cfg.WindowSize * 4
	if length < 16 {
		length = 16
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, hiperr.New(hiperr.KindFatal, "statemachine.generateAnchor", err)
	}
	chain, err := hipcrypto.GenerateHashChain(seed, length)
	if err != nil {
		return nil, err
	}
	return chain.Anchor(), nil
}
