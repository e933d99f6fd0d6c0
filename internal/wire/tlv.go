package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// Parameter types relevant to the core (abridged table). Numeric values
// follow the IANA HIP parameters registry.
const (
	PR1Counter         uint16 = 128
	PPuzzle            uint16 = 257
	PSolution          uint16 = 321
	PDiffieHellman     uint16 = 513
	PHIPTransform      uint16 = 577
	PHostID            uint16 = 705
	PHIPSignature2     uint16 = 769
	PHIPSignature      uint16 = 773
	PSequence          uint16 = 304
	PACK               uint16 = 305
	PEncrypted         uint16 = 641
	PNotification      uint16 = 832
	PESPInfo           uint16 = 65
	PESPTransform      uint16 = 4095
	PHMAC              uint16 = 61505
	PHMAC2             uint16 = 61569
	PEchoRequestSigned uint16 = 897
	PEchoResponse      uint16 = 961

	// ESP-protection extension parameters.
	PESPProtTransforms uint16 = 65500
	PESPProtAnchor     uint16 = 65501
	PESPProtBranch     uint16 = 65502
	PESPProtSecret     uint16 = 65503
	PESPProtRoot       uint16 = 65504

	// Midauth challenge extension.
	PChallengeRequest  uint16 = 65505
	PChallengeResponse uint16 = 65506
)

// criticalBit is the low bit of the 16-bit TLV type: 1 means the
// receiver MUST understand it or drop the packet with NOTIFY.
const criticalBit = 1

// TLV is one type-length-value parameter, 8-byte aligned on the wire.
type TLV struct {
	Type     uint16
	Contents []byte
}

// Critical reports whether the low bit of Type marks this TLV as
// critical (unknown critical TLVs force a NOTIFY + drop).
func (t TLV) Critical() bool {
	return t.Type&criticalBit == criticalBit
}

// paddedLen returns the TLV's on-wire footprint: 4-byte type+length
// header, the contents, and zero padding up to the next 8-byte boundary.
func paddedLen(contentsLen int) int {
	n := 4 + contentsLen
	if rem := n % 8; rem != 0 {
		n += 8 - rem
	}
	return n
}

// encodeTLV appends t's wire form (header, contents, padding) to buf.
func encodeTLV(buf []byte, t TLV) []byte {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], t.Type)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(t.Contents)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, t.Contents...)
	total := paddedLen(len(t.Contents))
	pad := total - (4 + len(t.Contents))
	for i := 0; i < pad; i++ {
		buf = append(buf, 0)
	}
	return buf
}

// decodeTLVs walks a TLV stream strictly in ascending type order,
// enforcing 8-byte alignment and that no TLV's declared length crosses
// the remaining buffer. Unknown handling (skip non-critical, reject
// critical) is left to the caller, which sees every TLV including
// unrecognized ones.
func decodeTLVs(data []byte) ([]TLV, error) {
	var out []TLV
	var lastType uint16
	first := true
	off := 0
	for off < len(data) {
		if len(data)-off < 4 {
			return nil, hiperr.New(hiperr.KindMalformed, "wire.decodeTLVs", fmt.Errorf("truncated TLV header at offset %d", off))
		}
		typ := binary.BigEndian.Uint16(data[off : off+2])
		length := binary.BigEndian.Uint16(data[off+2 : off+4])
		contentsStart := off + 4
		contentsEnd := contentsStart + int(length)
		if contentsEnd > len(data) {
			return nil, hiperr.New(hiperr.KindMalformed, "wire.decodeTLVs", fmt.Errorf("TLV type %d length %d crosses packet boundary", typ, length))
		}
		if !first && typ < lastType {
			return nil, hiperr.New(hiperr.KindMalformed, "wire.decodeTLVs", fmt.Errorf("TLV type %d out of ascending order after %d", typ, lastType))
		}
		contents := make([]byte, length)
		copy(contents, data[contentsStart:contentsEnd])
		out = append(out, TLV{Type: typ, Contents: contents})

		total := paddedLen(int(length))
		nextOff := off + total
		if nextOff <= off {
			return nil, hiperr.New(hiperr.KindMalformed, "wire.decodeTLVs", fmt.Errorf("non-advancing TLV at offset %d", off))
		}
		off = nextOff
		lastType = typ
		first = false
	}
	return out, nil
}
