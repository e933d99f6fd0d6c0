package hipcrypto

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // HIP's DSA HI variant requires the classic FIPS 186 DSA, not a curve-based substitute
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // SIGNATURE over RSA/DSA HIs is defined as PKCS1v15/DSA-SHA1 by the protocol
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"

	"github.com/hiplane/hipd/internal/hiperr"
	"github.com/hiplane/hipd/internal/wire"
)

// SignAlgo identifies the signature algorithm a Host Identity uses.
type SignAlgo uint16

const (
	SignRSA      SignAlgo = SignAlgo(wire.HIAlgoRSA)
	SignDSA      SignAlgo = SignAlgo(wire.HIAlgoDSA)
	SignECDSA256 SignAlgo = 100 // ECDSA-P256/SHA256
	SignECDSA384 SignAlgo = 101 // ECDSA-P384/SHA384
)

// dsaQSizeBytes is the fixed width (160 bits) r and s are left-padded to
// on both sign and verify. Stripping leading zero bytes from r/s before
// sending intermittently produces a SIGNATURE parameter one byte short
// of the expected size and fails verification on the peer; fixed-width
// encoding avoids that entirely.
const dsaQSizeBytes = 20

// Signer is implemented by each HI variant's private key wrapper.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
	Algo() SignAlgo
}

// Verifier is implemented by each HI variant's public key wrapper.
type Verifier interface {
	Verify(digest, sig []byte) error
	Algo() SignAlgo
}

// RSASigner wraps an RSA private key for PKCS1v15/SHA1 signing.
type RSASigner struct{ Key *rsa.PrivateKey }

func (s *RSASigner) Algo() SignAlgo { return SignRSA }

func (s *RSASigner) Sign(msg []byte) ([]byte, error) {
	h := sha1.Sum(msg) //nolint:gosec
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.Key, crypto.SHA1, h[:])
	if err != nil {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.RSASigner.Sign", err)
	}
	return sig, nil
}

// RSAVerifier wraps an RSA public key.
type RSAVerifier struct{ Key *rsa.PublicKey }

func (v *RSAVerifier) Algo() SignAlgo { return SignRSA }

func (v *RSAVerifier) Verify(msg, sig []byte) error {
	h := sha1.Sum(msg) //nolint:gosec
	if err := rsa.VerifyPKCS1v15(v.Key, crypto.SHA1, h[:], sig); err != nil {
		return hiperr.New(hiperr.KindAuthFailed, "hipcrypto.RSAVerifier.Verify", err)
	}
	return nil
}

// DSASigner wraps a DSA private key (P in {512,768,1024}, fixed Q=160).
type DSASigner struct{ Key *dsa.PrivateKey }

func (s *DSASigner) Algo() SignAlgo { return SignDSA }

func (s *DSASigner) Sign(msg []byte) ([]byte, error) {
	h := sha1.Sum(msg) //nolint:gosec
	r, sVal, err := dsa.Sign(rand.Reader, s.Key, h[:])
	if err != nil {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.DSASigner.Sign", err)
	}
	out := make([]byte, 1+2*dsaQSizeBytes)
	out[0] = 0 // T value placeholder; hipl encodes (P-512)/64 here, left as 0 for the 512-bit default
	copy(out[1:1+dsaQSizeBytes], leftPad(r.Bytes(), dsaQSizeBytes))
	copy(out[1+dsaQSizeBytes:], leftPad(sVal.Bytes(), dsaQSizeBytes))
	return out, nil
}

// DSAVerifier wraps a DSA public key.
type DSAVerifier struct{ Key *dsa.PublicKey }

func (v *DSAVerifier) Algo() SignAlgo { return SignDSA }

func (v *DSAVerifier) Verify(msg, sig []byte) error {
	if len(sig) != 1+2*dsaQSizeBytes {
		return hiperr.New(hiperr.KindAuthFailed, "hipcrypto.DSAVerifier.Verify", fmt.Errorf("signature length %d, want %d", len(sig), 1+2*dsaQSizeBytes))
	}
	r := new(big.Int).SetBytes(sig[1 : 1+dsaQSizeBytes])
	s := new(big.Int).SetBytes(sig[1+dsaQSizeBytes:])
	h := sha1.Sum(msg) //nolint:gosec
	if !dsa.Verify(v.Key, h[:], r, s) {
		return hiperr.New(hiperr.KindAuthFailed, "hipcrypto.DSAVerifier.Verify", fmt.Errorf("signature rejected"))
	}
	return nil
}

// ECDSASigner wraps an ECDSA private key (P-256 or P-384).
type ECDSASigner struct {
	Key  *ecdsa.PrivateKey
	algo SignAlgo
}

func NewECDSASigner(key *ecdsa.PrivateKey, algo SignAlgo) *ECDSASigner {
	return &ECDSASigner{Key: key, algo: algo}
}

func (s *ECDSASigner) Algo() SignAlgo { return s.algo }

func (s *ECDSASigner) Sign(msg []byte) ([]byte, error) {
	digest, size, err := ecdsaDigest(s.algo, msg)
	if err != nil {
		return nil, err
	}
	r, sVal, err := ecdsa.Sign(rand.Reader, s.Key, digest)
	if err != nil {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.ECDSASigner.Sign", err)
	}
	out := make([]byte, 2*size)
	copy(out[0:size], leftPad(r.Bytes(), size))
	copy(out[size:], leftPad(sVal.Bytes(), size))
	return out, nil
}

// ECDSAVerifier wraps an ECDSA public key.
type ECDSAVerifier struct {
	Key  *ecdsa.PublicKey
	algo SignAlgo
}

func NewECDSAVerifier(key *ecdsa.PublicKey, algo SignAlgo) *ECDSAVerifier {
	return &ECDSAVerifier{Key: key, algo: algo}
}

func (v *ECDSAVerifier) Algo() SignAlgo { return v.algo }

func (v *ECDSAVerifier) Verify(msg, sig []byte) error {
	digest, size, err := ecdsaDigest(v.algo, msg)
	if err != nil {
		return err
	}
	if len(sig) != 2*size {
		return hiperr.New(hiperr.KindAuthFailed, "hipcrypto.ECDSAVerifier.Verify", fmt.Errorf("signature length %d, want %d", len(sig), 2*size))
	}
	r := new(big.Int).SetBytes(sig[0:size])
	s := new(big.Int).SetBytes(sig[size:])
	if !ecdsa.Verify(v.Key, digest, r, s) {
		return hiperr.New(hiperr.KindAuthFailed, "hipcrypto.ECDSAVerifier.Verify", fmt.Errorf("signature rejected"))
	}
	return nil
}

// SignatureLen returns the fixed byte length s's signatures occupy, so
// callers can size a zero-valued SIGNATURE/SIGNATURE2 placeholder before
// the real value is known (the R1/I2/R2 pre-image needs the parameter's
// final length before signing).
func SignatureLen(s Signer) int {
	switch v := s.(type) {
	case *RSASigner:
		return (v.Key.N.BitLen() + 7) / 8
	case *DSASigner:
		return 1 + 2*dsaQSizeBytes
	case *ECDSASigner:
		switch v.algo {
		case SignECDSA256:
			return 64
		case SignECDSA384:
			return 96
		}
	}
	return 0
}

func ecdsaDigest(algo SignAlgo, msg []byte) ([]byte, int, error) {
	switch algo {
	case SignECDSA256:
		d := sha256.Sum256(msg)
		return d[:], 32, nil
	case SignECDSA384:
		d := sha512.Sum384(msg)
		return d[:], 48, nil

	default:
		return nil, 0, hiperr.New(hiperr.KindFatal, "hipcrypto.ecdsaDigest", fmt.Errorf("unsupported ECDSA algo %d", algo))
	}
}
