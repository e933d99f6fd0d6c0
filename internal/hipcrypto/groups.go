// Package hipcrypto implements the HIP cryptographic suite: DH/ECDH
// group negotiation and key agreement, RSA/DSA/ECDSA sign/verify, the
// symmetric HIP transforms (AES/3DES/NULL-CBC with HMAC-SHA1), the
// keymat KDF, and the hash-chain/hash-tree primitives the ESP-protection
// extension builds on.
package hipcrypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"math/big"
)

// GroupID identifies a DH or ECDH group, per a fixed table whose values
// follow the HIP parameters registry so wire interop constants match
// what other implementations emit.
type GroupID uint8

const (
	GroupReserved  GroupID = 0
	GroupModp384   GroupID = 1 // deprecated, weak; kept for interop
	GroupOakley1   GroupID = 2 // Oakley well-known group 1, 768-bit
	GroupModp1536  GroupID = 3
	GroupModp3072  GroupID = 4
	GroupModp6144  GroupID = 5
	GroupModp8192  GroupID = 6
	GroupNISTP256  GroupID = 7
	GroupNISTP384  GroupID = 8
	GroupNISTP521  GroupID = 9
)

// GroupKind distinguishes finite-field (MODP/Oakley) from elliptic-curve
// groups; SharedSecret dispatches on it.
type GroupKind int

const (
	KindMODP GroupKind = iota
	KindECDH
)

// GroupInfo is the fixed per-group constant table: finite-field groups
// carry Prime/Generator; EC groups carry Curve.
type GroupInfo struct {
	ID        GroupID
	Kind      GroupKind
	Prime     *big.Int // MODP only
	Generator *big.Int // MODP only
	Curve     ecdh.Curve
	// KeySize is the public-value encoding length in bytes: the prime
	// size for MODP, the curve's uncompressed-point size including its
	// 0x04 prefix byte for EC (crypto/ecdh already encodes this; kept
	// for table parity).
	KeySize int
}

// groupTable is populated by init() below, once the fixed primes are
// parsed. It is a map, so iterating it has no defined order.
var groupTable = map[GroupID]*GroupInfo{}

func init() {
	registerMODP(GroupModp384, modp384Hex, 2)
	registerMODP(GroupOakley1, oakley1Hex, 2)
	registerMODP(GroupModp1536, modp1536Hex, 2)
	registerMODP(GroupModp3072, modp3072Hex, 2)
	registerMODP(GroupModp6144, modp6144Hex, 2)
	registerMODP(GroupModp8192, modp8192Hex, 2)
	registerECDH(GroupNISTP256, ecdh.P256())
	registerECDH(GroupNISTP384, ecdh.P384())
	registerECDH(GroupNISTP521, ecdh.P521())
}

func registerMODP(id GroupID, primeHex string, generator int64) {
	p, ok := new(big.Int).SetString(primeHex, 16)
	if !ok {
		panic("hipcrypto: malformed fixed prime for group " + primeHexLabel(id))
	}
	groupTable[id] = &GroupInfo{
		ID:        id,
		Kind:      KindMODP,
		Prime:     p,
		Generator: big.NewInt(generator),
		KeySize:   (p.BitLen() + 7) / 8,
	}
}

func registerECDH(id GroupID, curve ecdh.Curve) {
	info := &GroupInfo{ID: id, Kind: KindECDH, Curve: curve}
	if priv, err := curve.GenerateKey(rand.Reader); err == nil {
		info.KeySize = len(priv.PublicKey().Bytes())
	}
	groupTable[id] = info
}

// Lookup returns the fixed constants for id, or false if unknown.
func Lookup(id GroupID) (*GroupInfo, bool) {
	g, ok := groupTable[id]
	return g, ok
}

func primeHexLabel(id GroupID) string {
	switch id {
	case GroupModp384:
		return "modp384"
	case GroupOakley1:
		return "oakley1"
	case GroupModp1536:
		return "modp1536"
	case GroupModp3072:
		return "modp3072"
	case GroupModp6144:
		return "modp6144"
	case GroupModp8192:
		return "modp8192"
	default:
		return "unknown"
	}
}
