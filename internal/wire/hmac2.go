package wire

// BuildPseudoForHMAC2 returns a copy of m with the HMAC2 parameter's
// contents truncated to empty and, when hostID is non-nil, a HOST_ID
// parameter inserted at its ascending-type position so the HMAC2
// computation covers header+params as if
// the responder's identity were present — binding R2 to that identity
// without actually retransmitting it.
func BuildPseudoForHMAC2(m *Message, hostID *TLV) *Message {
	out := &Message{Header: m.Header}
	out.Params = make([]TLV, 0, len(m.Params)+1)
	for _, p := range m.Params {
		if p.Type == PHMAC2 {
			out.Params = append(out.Params, TLV{Type: p.Type, Contents: nil})
			continue
		}
		out.Params = append(out.Params, p)
	}
	if hostID != nil {
		inserted := false
		merged := make([]TLV, 0, len(out.Params)+1)
		for _, p := range out.Params {
			if !inserted && p.Type > PHostID {
				merged = append(merged, *hostID)
				inserted = true
			}
			merged = append(merged, p)
		}
		if !inserted {
			merged = append(merged, *hostID)
		}
		out.Params = merged
	}
	return out
}

// BuildPseudoForHMAC returns a copy of m with the HMAC parameter's
// contents truncated to empty, the plain-HMAC counterpart of
// BuildPseudoForHMAC2 used by I2, which carries no responder identity to
// splice in.
func BuildPseudoForHMAC(m *Message) *Message {
	out := &Message{Header: m.Header}
	out.Params = make([]TLV, 0, len(m.Params))
	for _, p := range m.Params {
		if p.Type == PHMAC {
			out.Params = append(out.Params, TLV{Type: p.Type, Contents: nil})
			continue
		}
		out.Params = append(out.Params, p)
	}
	return out
}

// ZeroedForSignature returns a copy of m with the given signature
// parameter type's contents blanked and its length preserved as zero
// bytes, matching the "signature TLV zeroed, fields set to transmission
// form" rule a SIGNATURE/SIGNATURE2 computation requires.
func ZeroedForSignature(m *Message, sigType uint16) *Message {
	out := &Message{Header: m.Header}
	out.Params = make([]TLV, 0, len(m.Params))
	for _, p := range m.Params {
		if p.Type == sigType {
			out.Params = append(out.Params, TLV{Type: p.Type, Contents: make([]byte, len(p.Contents))})
			continue
		}
		out.Params = append(out.Params, p)
	}
	return out
}
