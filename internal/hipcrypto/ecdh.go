package hipcrypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// ECDHKeyPair is an elliptic-curve Diffie-Hellman keypair for one of
// NIST P-256/P-384/P-521.
type ECDHKeyPair struct {
	Group   *GroupInfo
	private *ecdh.PrivateKey
}

// GenerateECDH creates a fresh keypair on the given curve group.
func GenerateECDH(id GroupID) (*ECDHKeyPair, error) {
	g, ok := Lookup(id)
	if !ok || g.Kind != KindECDH {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.GenerateECDH", fmt.Errorf("unknown or non-ECDH group %d", id))
	}
	priv, err := g.Curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.GenerateECDH", err)
	}
	return &ECDHKeyPair{Group: g, private: priv}, nil
}

// PublicBytes returns the uncompressed point encoding crypto/ecdh uses,
// which is what goes in the DIFFIE_HELLMAN parameter's public_value.
func (kp *ECDHKeyPair) PublicBytes() []byte {
	return kp.private.PublicKey().Bytes()
}

// SharedSecret computes the ECDH shared secret from the peer's
// uncompressed point encoding, rejecting points not on the curve or at
// infinity (crypto/ecdh enforces this).
func (kp *ECDHKeyPair) SharedSecret(peerPublic []byte) ([]byte, error) {
	peerKey, err := kp.Group.Curve.NewPublicKey(peerPublic)
	if err != nil {
		return nil, hiperr.New(hiperr.KindAuthFailed, "hipcrypto.SharedSecret", err)
	}
	secret, err := kp.private.ECDH(peerKey)
	if err != nil {
		return nil, hiperr.New(hiperr.KindAuthFailed, "hipcrypto.SharedSecret", err)
	}
	return secret, nil
}
