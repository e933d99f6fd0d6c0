package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleHITs() (HIT, HIT) {
	var a, b HIT
	copy(a[:], []byte{0x20, 0x01, 0x00, 0x11, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	copy(b[:], []byte{0x20, 0x01, 0x00, 0x11, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9})
	return a, b
}

func TestParseSerializeRoundTrip(t *testing.T) {
	sender, receiver := sampleHITs()
	m := &Message{Header: Header{Type: TypeI1, Version: Version1, SenderHIT: sender, ReceiverHIT: receiver}}
	m.Add(PESPTransform, []byte{0, 1})

	data, err := Serialize(m)
	require.NoError(t, err)
	require.Zero(t, len(data)%8)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, m.Header.Type, parsed.Header.Type)
	require.Equal(t, sender, parsed.Header.SenderHIT)
	require.Equal(t, receiver, parsed.Header.ReceiverHIT)
	require.Len(t, parsed.Params, 1)
	require.Equal(t, []byte{0, 1}, parsed.Params[0].Contents)

	data2, err := Serialize(parsed)
	require.NoError(t, err)
	require.Equal(t, data, data2)
}

func TestParseRejectsTruncatedTLV(t *testing.T) {
	sender, receiver := sampleHITs()
	m := &Message{Header: Header{Type: TypeI1, SenderHIT: sender, ReceiverHIT: receiver}}
	m.Add(PESPTransform, []byte{0, 1, 2, 3})
	data, err := Serialize(m)
	require.NoError(t, err)

	// Truncate the packet mid-TLV but leave the header claiming the
	// original length: parse must reject, not read past the slice.
	truncated := append([]byte{}, data[:HeaderLen+2]...)
	truncated[1] = data[1] // keep the (now wrong) header length
	_, err = Parse(truncated)
	require.Error(t, err)
}

func TestParseRejectsOutOfOrderTLV(t *testing.T) {
	sender, receiver := sampleHITs()
	body := []byte{}
	body = encodeTLV(body, TLV{Type: 500, Contents: []byte{1}})
	body = encodeTLV(body, TLV{Type: 100, Contents: []byte{2}})
	raw := make([]byte, HeaderLen)
	raw[2] = byte(TypeI1)
	copy(raw[8:24], sender[:])
	copy(raw[24:40], receiver[:])
	total := len(raw) + len(body)
	raw[1] = byte(total/8 - 1)
	raw = append(raw, body...)

	_, err := Parse(raw)
	require.Error(t, err)
}

func TestHITOrderingIsTotal(t *testing.T) {
	a, b := sampleHITs()
	require.True(t, b.Greater(a))
	require.False(t, a.Greater(b))
	require.False(t, a.Greater(a))
	require.Equal(t, 0, a.Compare(a))
}

func TestHITFromHIIsDeterministic(t *testing.T) {
	hi := []byte("some canonical host identity bytes")
	h1 := HITFromHI(hi, HITTypeHash100)
	h2 := HITFromHI(hi, HITTypeHash100)
	require.Equal(t, h1, h2)
	require.Equal(t, OrchidPrefix[0], h1[0])
	require.Equal(t, OrchidPrefix[1], h1[1])
}

func TestHostIDEncodeDecodeRoundTrip(t *testing.T) {
	h := HostID{Algorithm: HIAlgoRSA, KeyBytes: []byte{1, 2, 3, 4}, DIType: DITypeFQDN, Hostname: "host.example"}
	data := EncodeHostID(h)
	decoded, err := DecodeHostID(data)
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestBuildNotifyCarriesCode(t *testing.T) {
	sender, receiver := sampleHITs()
	m := BuildNotify(sender, receiver, Version2, NotifyInvalidSyntax, nil)
	tlv, ok := m.Find(PNotification)
	require.True(t, ok)
	require.Len(t, tlv.Contents, 4)
}
