package hid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/wire"
)

// encodeRSAPublicKey renders an RSA public key in the RFC 3110 DNSKEY
// form HIP's HOST_ID parameter reuses: a length-prefixed exponent
// followed by the modulus.
func encodeRSAPublicKey(pub *rsa.PublicKey) []byte {
	e := big64(pub.E)
	n := pub.N.Bytes()
	buf := make([]byte, 0, 1+len(e)+len(n))
	buf = append(buf, byte(len(e)))
	buf = append(buf, e...)
	buf = append(buf, n...)
	return buf
}

func big64(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var out []byte
	for v > 0 {
		out = append([]byte{byte(v & 0xff)}, out...)
		v >>= 8
	}
	return out
}

// encodeECDSAPublicKey renders an ECDSA public key as an uncompressed
// curve point (0x04 || X || Y), the same convention crypto/ecdh uses.
func encodeECDSAPublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
}

// GenerateRSA creates a new RSA host identity of the given modulus size
// and inserts it into s.
func (s *Store) GenerateRSA(bits int, hostname string, anonymous bool) (*Entry, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("hid.GenerateRSA: %w", err)
	}
	hostID := wire.HostID{
		Algorithm: wire.HIAlgoRSA,
		KeyBytes:  encodeRSAPublicKey(&key.PublicKey),
		DIType:    wire.DITypeFQDN,
		Hostname:  hostname,
	}
	canonical := wire.EncodeHostID(hostID)
	entry := &Entry{
		HIT:       wire.HITFromHI(canonical, wire.HITTypeHash100),
		Canonical: canonical,
		Algo:      hipcrypto.SignRSA,
		Signer:    &hipcrypto.RSASigner{Key: key},
		Verifier:  &hipcrypto.RSAVerifier{Key: &key.PublicKey},
		Anonymous: anonymous,
		Hostname:  hostname,
	}
	if err := s.Insert(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// LoadPEM reads an RSA or EC private key (PKCS#1, SEC1 or PKCS#8, PEM
// encoded) from path and inserts the corresponding host identity into
// s, so a deployment's long-term identity survives daemon restarts
// instead of a fresh one being generated every time.
func (s *Store) LoadPEM(path, hostname string, anonymous bool) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hid.LoadPEM: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("hid.LoadPEM: %s: no PEM block found", path)
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("hid.LoadPEM: %s: %w", path, err)
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		hostID := wire.HostID{
			Algorithm: wire.HIAlgoRSA,
			KeyBytes:  encodeRSAPublicKey(&k.PublicKey),
			DIType:    wire.DITypeFQDN,
			Hostname:  hostname,
		}
		canonical := wire.EncodeHostID(hostID)
		entry := &Entry{
			HIT:       wire.HITFromHI(canonical, wire.HITTypeHash100),
			Canonical: canonical,
			Algo:      hipcrypto.SignRSA,
			Signer:    &hipcrypto.RSASigner{Key: k},
			Verifier:  &hipcrypto.RSAVerifier{Key: &k.PublicKey},
			Anonymous: anonymous,
			Hostname:  hostname,
		}
		if err := s.Insert(entry); err != nil {
			return nil, err
		}
		return entry, nil
	case *ecdsa.PrivateKey:
		var algo hipcrypto.SignAlgo
		switch k.Curve {
		case elliptic.P256():
			algo = hipcrypto.SignECDSA256
		case elliptic.P384():
			algo = hipcrypto.SignECDSA384
		default:
			return nil, fmt.Errorf("hid.LoadPEM: unsupported curve %s", k.Curve.Params().Name)
		}
		hostID := wire.HostID{
			Algorithm: wire.HIAlgoECDSA,
			KeyBytes:  encodeECDSAPublicKey(&k.PublicKey),
			DIType:    wire.DITypeFQDN,
			Hostname:  hostname,
		}
		canonical := wire.EncodeHostID(hostID)
		entry := &Entry{
			HIT:       wire.HITFromHI(canonical, wire.HITTypeHash100),
			Canonical: canonical,
			Algo:      algo,
			Signer:    hipcrypto.NewECDSASigner(k, algo),
			Verifier:  hipcrypto.NewECDSAVerifier(&k.PublicKey, algo),
			Anonymous: anonymous,
			Hostname:  hostname,
		}
		if err := s.Insert(entry); err != nil {
			return nil, err
		}
		return entry, nil
	default:
		return nil, fmt.Errorf("hid.LoadPEM: unsupported key type %T", key)
	}
}

func parsePrivateKey(der []byte) (interface{}, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unrecognized private key encoding")
}

// GenerateECDSA creates a new ECDSA host identity on the given curve
// (P-256 or P-384) and inserts it into s.
func (s *Store) GenerateECDSA(curve elliptic.Curve, hostname string, anonymous bool) (*Entry, error) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("hid.GenerateECDSA: %w", err)
	}
	var algo hipcrypto.SignAlgo
	switch curve {
	case elliptic.P256():
		algo = hipcrypto.SignECDSA256
	case elliptic.P384():
		algo = hipcrypto.SignECDSA384
	default:
		return nil, fmt.Errorf("hid.GenerateECDSA: unsupported curve %s", curve.Params().Name)
	}
	hostID := wire.HostID{
		Algorithm: wire.HIAlgoECDSA,
		KeyBytes:  encodeECDSAPublicKey(&key.PublicKey),
		DIType:    wire.DITypeFQDN,
		Hostname:  hostname,
	}
	canonical := wire.EncodeHostID(hostID)
	entry := &Entry{
		HIT:       wire.HITFromHI(canonical, wire.HITTypeHash100),
		Canonical: canonical,
		Algo:      algo,
		Signer:    hipcrypto.NewECDSASigner(key, algo),
		Verifier:  hipcrypto.NewECDSAVerifier(&key.PublicKey, algo),
		Anonymous: anonymous,
		Hostname:  hostname,
	}
	if err := s.Insert(entry); err != nil {
		return nil, err
	}
	return entry, nil
}
