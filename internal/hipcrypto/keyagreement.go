package hipcrypto

import (
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// KeyAgreement is the shape DHKeyPair and ECDHKeyPair already share;
// giving it a name lets the base-exchange handlers treat MODP and
// elliptic-curve groups identically instead of branching on GroupKind
// themselves.
type KeyAgreement interface {
	PublicBytes() []byte
	SharedSecret(peerPublic []byte) ([]byte, error)
}

// GenerateKeyAgreement dispatches to GenerateDH or GenerateECDH
// depending on the group's kind.
func GenerateKeyAgreement(id GroupID) (KeyAgreement, error) {
	g, ok := Lookup(id)
	if !ok {
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.GenerateKeyAgreement", fmt.Errorf("unknown group %d", id))
	}
	switch g.Kind {
	case KindMODP:
		return GenerateDH(id)
	case KindECDH:
		return GenerateECDH(id)
	default:
		return nil, hiperr.New(hiperr.KindFatal, "hipcrypto.GenerateKeyAgreement", fmt.Errorf("unsupported group kind for %d", id))
	}
}

// groupNames maps the config-file spelling of a group to its GroupID,
// highest-preference names first matching the groupTable registration
// order only incidentally — order here carries no meaning, callers
// preserve the config file's own ordering.
var groupNames = map[string]GroupID{
	"modp-384":  GroupModp384,
	"oakley-1":  GroupOakley1,
	"modp-1536": GroupModp1536,
	"modp-3072": GroupModp3072,
	"modp-6144": GroupModp6144,
	"modp-8192": GroupModp8192,
	"nist-p256": GroupNISTP256,
	"nist-p384": GroupNISTP384,
	"nist-p521": GroupNISTP521,
}

// GroupIDByName resolves a dh.group_preference entry to its GroupID.
func GroupIDByName(name string) (GroupID, bool) {
	id, ok := groupNames[name]
	return id, ok
}
