package command

import (
	"crypto/elliptic"
	"fmt"
	"strings"

	"github.com/hiplane/hipd/internal/hid"
)

// generateHID dispatches hid_generate's algorithm parameter to the
// matching hid.Store generator.
func generateHID(store *hid.Store, p HIDGenerateParams) (*hid.Entry, error) {
	switch strings.ToLower(p.Algorithm) {
	case "rsa":
		bits := p.Bits
		if bits == 0 {
			bits = 2048
		}
		return store.GenerateRSA(bits, p.Hostname, p.Anonymous)
	case "ecdsa256", "ecdsa", "":
		return store.GenerateECDSA(elliptic.P256(), p.Hostname, p.Anonymous)
	case "ecdsa384":
		return store.GenerateECDSA(elliptic.P384(), p.Hostname, p.Anonymous)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q (valid: rsa, ecdsa256, ecdsa384)", p.Algorithm)
	}
}
