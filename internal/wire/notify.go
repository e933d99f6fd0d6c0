package wire

import "encoding/binary"

// NOTIFY message type codes used by this daemon.
const (
	NotifyUnsupportedCriticalParameterType uint16 = 46
	NotifyInvalidSyntax                    uint16 = 7
)

// BuildNotify constructs a NOTIFY control message in reply to a
// malformed or rejected packet. data is the notify-type-specific
// payload (empty for the simple cases this core emits).
func BuildNotify(sender, receiver HIT, version Version, code uint16, data []byte) *Message {
	contents := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(contents[2:4], code)
	copy(contents[4:], data)

	m := &Message{
		Header: Header{
			Type:        TypeNotify,
			Version:     version,
			SenderHIT:   sender,
			ReceiverHIT: receiver,
		},
	}
	m.Add(PNotification, contents)
	return m
}

// FirstUnsupportedCritical scans m for a TLV type this core does not
// recognize and that carries the critical bit, returning it. Unknown
// non-critical TLVs are the caller's responsibility to simply ignore.
func FirstUnsupportedCritical(m *Message, known map[uint16]bool) (TLV, bool) {
	for _, p := range m.Params {
		if known[p.Type] {
			continue
		}
		if p.Critical() {
			return p, true
		}
	}
	return TLV{}, false
}
