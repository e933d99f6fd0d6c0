package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// HI algorithm identifiers, as carried in the HOST_ID parameter.
const (
	HIAlgoDSA     uint16 = 3
	HIAlgoRSA     uint16 = 5
	HIAlgoECDSA   uint16 = 7
	HIAlgoECDSALo uint16 = 9 // reserved distinguishing low-order curve variants; unused here
)

// DIType enumerates the Domain Identifier type carried alongside the
// hostname in a HOST_ID parameter. HIP only defines "none" and FQDN.
const (
	DITypeNone uint16 = 0
	DITypeFQDN uint16 = 1
)

const maxHostnameLen = 255

// HostID is the decoded form of a HOST_ID parameter: an algorithm tag,
// algorithm-specific public key bytes (opaque to this package — encoded
// by internal/hipcrypto), and an optional hostname.
type HostID struct {
	Algorithm uint16
	KeyBytes  []byte
	DIType    uint16
	Hostname  string
}

// EncodeHostID renders h into the canonical "DNS-key-RR-like" byte form:
// hi_length, DI-type/length, algorithm, key bytes, hostname. This exact
// byte form is both what goes on the wire inside a
// HOST_ID TLV and what is SHA-1'd to derive the HIT.
func EncodeHostID(h HostID) []byte {
	hostnameBytes := []byte(h.Hostname)
	if len(hostnameBytes) > maxHostnameLen {
		hostnameBytes = hostnameBytes[:maxHostnameLen]
	}

	buf := make([]byte, 0, 4+len(h.KeyBytes)+len(hostnameBytes))
	var hiLen [2]byte
	binary.BigEndian.PutUint16(hiLen[:], uint16(len(h.KeyBytes)))
	buf = append(buf, hiLen[:]...)

	var diField uint16
	diField = (h.DIType << 12) | uint16(len(hostnameBytes))&0x0FFF
	var diBytes [2]byte
	binary.BigEndian.PutUint16(diBytes[:], diField)
	buf = append(buf, diBytes[:]...)

	var algoBytes [2]byte
	binary.BigEndian.PutUint16(algoBytes[:], h.Algorithm)
	buf = append(buf, algoBytes[:]...)

	buf = append(buf, h.KeyBytes...)
	buf = append(buf, hostnameBytes...)
	return buf
}

// DecodeHostID parses the byte form EncodeHostID produces.
func DecodeHostID(data []byte) (HostID, error) {
	if len(data) < 6 {
		return HostID{}, hiperr.New(hiperr.KindMalformed, "wire.DecodeHostID", fmt.Errorf("HOST_ID too short: %d bytes", len(data)))
	}
	hiLen := binary.BigEndian.Uint16(data[0:2])
	diField := binary.BigEndian.Uint16(data[2:4])
	algo := binary.BigEndian.Uint16(data[4:6])
	diType := diField >> 12
	diLen := diField & 0x0FFF

	off := 6
	if off+int(hiLen) > len(data) {
		return HostID{}, hiperr.New(hiperr.KindMalformed, "wire.DecodeHostID", fmt.Errorf("key length %d exceeds HOST_ID contents", hiLen))
	}
	key := make([]byte, hiLen)
	copy(key, data[off:off+int(hiLen)])
	off += int(hiLen)

	if off+int(diLen) > len(data) {
		return HostID{}, hiperr.New(hiperr.KindMalformed, "wire.DecodeHostID", fmt.Errorf("hostname length %d exceeds HOST_ID contents", diLen))
	}
	hostname := string(data[off : off+int(diLen)])

	return HostID{Algorithm: algo, KeyBytes: key, DIType: diType, Hostname: hostname}, nil
}
