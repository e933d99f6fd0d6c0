package hipcrypto

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/hiplane/hipd/internal/hiperr"
)

// DHKeyPair is a finite-field Diffie-Hellman keypair for one of the
// fixed MODP/Oakley groups.
type DHKeyPair struct {
	Group   *GroupInfo
	private *big.Int
	Public  *big.Int
}

// GenerateDH creates a fresh keypair in the given group.
func GenerateDH(id GroupID) (*DHKeyPair, error) {
	g, ok := Lookup(id)
	if !ok || g.Kind != KindMODP {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.GenerateDH", fmt.Errorf("unknown or non-MODP group %d", id))
	}
	// Private exponent: uniform in [2, p-2], sized to the group.
	priv, err := rand.Int(rand.Reader, new(big.Int).Sub(g.Prime, big.NewInt(3)))
	if err != nil {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.GenerateDH", err)
	}
	priv.Add(priv, big.NewInt(2))

	pub := new(big.Int).Exp(g.Generator, priv, g.Prime)
	return &DHKeyPair{Group: g, private: priv, Public: pub}, nil
}

// PublicBytes encodes the public value as a fixed-width, big-endian
// byte string sized to the group's prime, per the DIFFIE_HELLMAN
// parameter's pub_len field.
func (kp *DHKeyPair) PublicBytes() []byte {
	return leftPad(kp.Public.Bytes(), kp.Group.KeySize)
}

// SharedSecret computes g^(priv*peerPriv) mod p given the peer's public
// value bytes, validating the peer's value is in [2, p-2] (rejecting
// the small-subgroup/identity degenerate values).
func (kp *DHKeyPair) SharedSecret(peerPublic []byte) ([]byte, error) {
	peer := new(big.Int).SetBytes(peerPublic)
	if peer.Cmp(big.NewInt(2)) < 0 || peer.Cmp(new(big.Int).Sub(kp.Group.Prime, big.NewInt(2))) > 0 {
		return nil, hiperr.New(hiperr.KindAuthFailed, "hipcrypto.SharedSecret", fmt.Errorf("peer public value out of range"))
	}
	secret := new(big.Int).Exp(peer, kp.private, kp.Group.Prime)
	return leftPad(secret.Bytes(), kp.Group.KeySize), nil
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
