package sa

import (
	"net"
	"testing"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/wire"
	"github.com/stretchr/testify/require"
)

func pairEntries() (*Entry, *Entry) {
	encKey := make([]byte, 16)
	authKey := make([]byte, 20)
	for i := range encKey {
		encKey[i] = byte(i)
	}
	for i := range authKey {
		authKey[i] = byte(i + 1)
	}
	out := &Entry{
		Direction:   DirOutbound,
		InnerSrcHIT: wire.HIT{0x01},
		InnerDstHIT: wire.HIT{0x02},
		OuterSrc:    net.ParseIP("192.0.2.1"),
		OuterDst:    net.ParseIP("192.0.2.2"),
		SPI:         0x1234,
		Transform:   hipcrypto.TransformAESCBC,
		EncKey:      encKey,
		AuthKey:     authKey,
	}
	in := &Entry{
		Direction:   DirInbound,
		InnerSrcHIT: wire.HIT{0x02},
		InnerDstHIT: wire.HIT{0x01},
		OuterSrc:    net.ParseIP("192.0.2.2"),
		OuterDst:    net.ParseIP("192.0.2.2"),
		SPI:         0x1234,
		Transform:   hipcrypto.TransformAESCBC,
		EncKey:      encKey,
		AuthKey:     authKey,
	}
	return out, in
}

func TestAddFindDeleteSA(t *testing.T) {
	m := NewManager()
	out, in := pairEntries()
	require.NoError(t, m.AddSA(out))
	require.NoError(t, m.AddSA(in))

	gotOut, ok := m.FindOutbound(out.InnerSrcHIT, out.InnerDstHIT)
	require.True(t, ok)
	require.Same(t, out, gotOut)

	gotIn, ok := m.FindInbound(in.OuterDst, in.SPI)
	require.True(t, ok)
	require.Same(t, in, gotIn)

	m.DeleteSA(in.OuterDst, in.SPI)
	_, ok = m.FindInbound(in.OuterDst, in.SPI)
	require.False(t, ok)
}

func TestEncapsulateDecapsulateRoundTrip(t *testing.T) {
	m := NewManager()
	out, in := pairEntries()

	payload := []byte("transport segment contents, arbitrary length")
	pkt, err := m.Encapsulate(out, payload, 6)
	require.NoError(t, err)

	got, nh, err := m.Decapsulate(in, pkt)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, uint8(6), nh)
}

func TestDecapsulateRejectsTamperedAuth(t *testing.T) {
	m := NewManager()
	out, in := pairEntries()

	pkt, err := m.Encapsulate(out, []byte("hello"), 6)
	require.NoError(t, err)
	pkt[len(pkt)-1] ^= 0xFF

	_, _, err = m.Decapsulate(in, pkt)
	require.Error(t, err)
}

func TestFlushClearsAllSAs(t *testing.T) {
	m := NewManager()
	out, in := pairEntries()
	require.NoError(t, m.AddSA(out))
	require.NoError(t, m.AddSA(in))

	m.Flush()
	_, ok := m.FindOutbound(out.InnerSrcHIT, out.InnerDstHIT)
	require.False(t, ok)
	_, ok = m.FindInbound(in.OuterDst, in.SPI)
	require.False(t, ok)
}
