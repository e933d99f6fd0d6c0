package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/hiplane/hipd/internal/hiperr"
)

// Message is a parsed HIP control packet: fixed header plus an ordered
// TLV stream.
type Message struct {
	Header Header
	Params []TLV
}

// Find returns the first TLV of the given type, or false.
func (m *Message) Find(typ uint16) (TLV, bool) {
	for _, p := range m.Params {
		if p.Type == typ {
			return p, true
		}
	}
	return TLV{}, false
}

// FindAll returns all TLVs of the given type in wire order.
func (m *Message) FindAll(typ uint16) []TLV {
	var out []TLV
	for _, p := range m.Params {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

// Add appends a TLV. Callers are responsible for adding parameters in
// ascending type order; Serialize does not re-sort (matching the
// original's requirement that the signature/HMAC cover the transmitted
// byte order exactly).
func (m *Message) Add(typ uint16, contents []byte) {
	m.Params = append(m.Params, TLV{Type: typ, Contents: contents})
}

// Parse validates and decodes a wire-format HIP packet.
func Parse(data []byte) (*Message, error) {
	if len(data) < HeaderLen {
		return nil, hiperr.New(hiperr.KindMalformed, "wire.Parse", fmt.Errorf("packet shorter than fixed header: %d bytes", len(data)))
	}

	h := Header{
		NextHeader:   data[0],
		HeaderLength: data[1],
		Type:         PacketType(data[2] & 0x7F),
		Version:      Version(data[3] >> 4),
		Checksum:     binary.BigEndian.Uint16(data[4:6]),
		Controls:     binary.BigEndian.Uint16(data[6:8]),
	}
	copy(h.SenderHIT[:], data[8:24])
	copy(h.ReceiverHIT[:], data[24:40])

	total := h.TotalLen()
	if total != len(data) {
		return nil, hiperr.New(hiperr.KindMalformed, "wire.Parse", fmt.Errorf("header length implies %d bytes, got %d", total, len(data)))
	}

	params, err := decodeTLVs(data[HeaderLen:])
	if err != nil {
		return nil, err
	}

	return &Message{Header: h, Params: params}, nil
}

// Serialize emits the wire form: TLVs in the order already present on
// m.Params (callers add them in ascending type order), header-length
// computed last, checksum computed last of all.
func Serialize(m *Message) ([]byte, error) {
	var body []byte
	var lastType uint16
	for i, p := range m.Params {
		if i > 0 && p.Type < lastType {
			return nil, hiperr.New(hiperr.KindFatal, "wire.Serialize", fmt.Errorf("parameters not in ascending type order: %d after %d", p.Type, lastType))
		}
		body = encodeTLV(body, p)
		lastType = p.Type
	}

	total := HeaderLen + len(body)
	if total%8 != 0 {
		return nil, hiperr.New(hiperr.KindFatal, "wire.Serialize", fmt.Errorf("total length %d not 8-byte aligned", total))
	}

	out := make([]byte, HeaderLen, total)
	out[0] = m.Header.NextHeader
	out[1] = uint8(total/8 - 1)
	out[2] = byte(m.Header.Type) & 0x7F
	out[3] = byte(m.Header.Version) << 4
	binary.BigEndian.PutUint16(out[6:8], m.Header.Controls)
	copy(out[8:24], m.Header.SenderHIT[:])
	copy(out[24:40], m.Header.ReceiverHIT[:])
	out = append(out, body...)

	sum := Checksum(out, m.Header.SenderHIT, m.Header.ReceiverHIT)
	binary.BigEndian.PutUint16(out[4:6], sum)

	m.Header.HeaderLength = out[1]
	m.Header.Checksum = sum
	return out, nil
}
