package hid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/wire"
)

// VerifierFromHostID reconstructs a public-key verifier from a peer's
// HOST_ID parameter, the decode-side counterpart of encodeRSAPublicKey
// and encodeECDSAPublicKey used when a previously-unseen initiator's
// identity first appears in I2.
func VerifierFromHostID(h wire.HostID) (hipcrypto.Verifier, error) {
	switch h.Algorithm {
	case wire.HIAlgoRSA:
		pub, err := decodeRSAPublicKey(h.KeyBytes)
		if err != nil {
			return nil, fmt.Errorf("hid.VerifierFromHostID: %w", err)
		}
		return &hipcrypto.RSAVerifier{Key: pub}, nil
	case wire.HIAlgoECDSA:
		algo, curve, err := ecdsaCurveForKeyLen(len(h.KeyBytes))
		if err != nil {
			return nil, fmt.Errorf("hid.VerifierFromHostID: %w", err)
		}
		x, y := elliptic.Unmarshal(curve, h.KeyBytes)
		if x == nil {
			return nil, fmt.Errorf("hid.VerifierFromHostID: invalid ECDSA point")
		}
		return hipcrypto.NewECDSAVerifier(&ecdsa.PublicKey{Curve: curve, X: x, Y: y}, algo), nil
	default:
		return nil, fmt.Errorf("hid.VerifierFromHostID: unsupported algorithm %d", h.Algorithm)
	}
}

// decodeRSAPublicKey reverses encodeRSAPublicKey's length-prefixed
// exponent followed by modulus.
func decodeRSAPublicKey(b []byte) (*rsa.PublicKey, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("empty RSA key bytes")
	}
	eLen := int(b[0])
	if 1+eLen > len(b) {
		return nil, fmt.Errorf("RSA exponent length %d exceeds key bytes", eLen)
	}
	e := new(big.Int).SetBytes(b[1 : 1+eLen])
	n := new(big.Int).SetBytes(b[1+eLen:])
	if len(n.Bytes()) == 0 {
		return nil, fmt.Errorf("RSA modulus missing")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func ecdsaCurveForKeyLen(n int) (hipcrypto.SignAlgo, elliptic.Curve, error) {
	switch n {
	case 65:
		return hipcrypto.SignECDSA256, elliptic.P256(), nil
	case 97:
		return hipcrypto.SignECDSA384, elliptic.P384(), nil
	default:
		return 0, nil, fmt.Errorf("unrecognized ECDSA point length %d", n)
	}
}
