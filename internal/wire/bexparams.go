package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// EncodeDH renders one DIFFIE_HELLMAN parameter's contents: a 1-byte
// group ID followed by the 2-byte public-value length and the value
// itself. R1 may carry several of these, one per offered group — the
// TLV codec already permits repeated same-type parameters.
func EncodeDH(group uint8, public []byte) []byte {
	buf := make([]byte, 3+len(public))
	buf[0] = group
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(public)))
	copy(buf[3:], public)
	return buf
}

// DecodeDH reverses EncodeDH.
func DecodeDH(b []byte) (group uint8, public []byte, err error) {
	if len(b) < 3 {
		return 0, nil, hiperr.New(hiperr.KindMalformed, "wire.DecodeDH", fmt.Errorf("DIFFIE_HELLMAN too short"))
	}
	group = b[0]
	pubLen := binary.BigEndian.Uint16(b[1:3])
	if 3+int(pubLen) > len(b) {
		return 0, nil, hiperr.New(hiperr.KindMalformed, "wire.DecodeDH", fmt.Errorf("public value length %d exceeds parameter", pubLen))
	}
	public = append([]byte{}, b[3:3+int(pubLen)]...)
	return group, public, nil
}

// EncodeTransformList renders a HIP_TRANSFORM parameter: an ordered
// list of 2-byte transform IDs, most-preferred first.
func EncodeTransformList(ids []uint16) []byte {
	buf := make([]byte, 2*len(ids))
	for i, id := range ids {
		binary.BigEndian.PutUint16(buf[2*i:2*i+2], id)
	}
	return buf
}

// DecodeTransformList reverses EncodeTransformList.
func DecodeTransformList(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, hiperr.New(hiperr.KindMalformed, "wire.DecodeTransformList", fmt.Errorf("odd-length HIP_TRANSFORM contents"))
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[2*i : 2*i+2])
	}
	return out, nil
}

// ESPInfo is the decoded form of an ESP_INFO parameter.
type ESPInfo struct {
	KeymatIndex uint16
	OldSPI      uint32
	NewSPI      uint32
}

// EncodeESPInfo renders the fixed 12-byte ESP_INFO body: 2 reserved
// bytes, keymat index, old SPI, new SPI.
func EncodeESPInfo(e ESPInfo) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[2:4], e.KeymatIndex)
	binary.BigEndian.PutUint32(buf[4:8], e.OldSPI)
	binary.BigEndian.PutUint32(buf[8:12], e.NewSPI)
	return buf
}

// DecodeESPInfo reverses EncodeESPInfo.
func DecodeESPInfo(b []byte) (ESPInfo, error) {
	if len(b) < 12 {
		return ESPInfo{}, hiperr.New(hiperr.KindMalformed, "wire.DecodeESPInfo", fmt.Errorf("ESP_INFO too short: %d bytes", len(b)))
	}
	return ESPInfo{
		KeymatIndex: binary.BigEndian.Uint16(b[2:4]),
		OldSPI:      binary.BigEndian.Uint32(b[4:8]),
		NewSPI:      binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// EncodeEncrypted renders an ENCRYPTED parameter's contents: 4 reserved
// bytes followed by the already-encrypted iv||ciphertext.
func EncodeEncrypted(ivCiphertext []byte) []byte {
	buf := make([]byte, 4+len(ivCiphertext))
	copy(buf[4:], ivCiphertext)
	return buf
}

// DecodeEncrypted reverses EncodeEncrypted, returning the iv||ciphertext.
func DecodeEncrypted(b []byte) ([]byte, error) {
	if len(b) < 4 {
		return nil, hiperr.New(hiperr.KindMalformed, "wire.DecodeEncrypted", fmt.Errorf("ENCRYPTED too short"))
	}
	return append([]byte{}, b[4:]...), nil
}

// EncodeSignature renders a SIGNATURE/SIGNATURE2 parameter's contents:
// a 2-byte algorithm ID followed by the signature bytes.
func EncodeSignature(algo uint16, sig []byte) []byte {
	buf := make([]byte, 2+len(sig))
	binary.BigEndian.PutUint16(buf[0:2], algo)
	copy(buf[2:], sig)
	return buf
}

// DecodeSignature reverses EncodeSignature.
func DecodeSignature(b []byte) (algo uint16, sig []byte, err error) {
	if len(b) < 2 {
		return 0, nil, hiperr.New(hiperr.KindMalformed, "wire.DecodeSignature", fmt.Errorf("SIGNATURE too short"))
	}
	return binary.BigEndian.Uint16(b[0:2]), append([]byte{}, b[2:]...), nil
}

// EncodeESPProtTransforms renders the ESP-protection extension's
// transform-preference list: one byte per candidate transform.
func EncodeESPProtTransforms(ids []uint8) []byte {
	return append([]byte{}, ids...)
}

// DecodeESPProtTransforms reverses EncodeESPProtTransforms.
func DecodeESPProtTransforms(b []byte) []uint8 {
	return append([]uint8{}, b...)
}

// EncodeESPProtAnchor renders the ESP-protection extension's anchor
// parameter: 1-byte transform ID, 1-byte hash length, then the anchor
// (and, for the hash-tree transform, the root immediately after it).
func EncodeESPProtAnchor(transform uint8, anchor []byte) []byte {
	buf := make([]byte, 2+len(anchor))
	buf[0] = transform
	buf[1] = byte(len(anchor))
	copy(buf[2:], anchor)
	return buf
}

// DecodeESPProtAnchor reverses EncodeESPProtAnchor.
func DecodeESPProtAnchor(b []byte) (transform uint8, anchor []byte, err error) {
	if len(b) < 2 {
		return 0, nil, hiperr.New(hiperr.KindMalformed, "wire.DecodeESPProtAnchor", fmt.Errorf("ESP_PROT_ANCHOR too short"))
	}
	hashLen := int(b[1])
	if 2+hashLen > len(b) {
		return 0, nil, hiperr.New(hiperr.KindMalformed, "wire.DecodeESPProtAnchor", fmt.Errorf("anchor length %d exceeds parameter", hashLen))
	}
	return b[0], append([]byte{}, b[2:2+hashLen]...), nil
}
