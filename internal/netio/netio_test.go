package netio

import (
	"net"
	"testing"
	"time"

	"github.com/hiplane/hipd/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestUDPTransportSendServeRoundTrip(t *testing.T) {
	server, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	received := make(chan *wire.Message, 1)
	go func() {
		_ = server.Serve(func(msg *wire.Message, srcIP string, srcPort uint16) {
			received <- msg
		})
	}()

	client, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	serverAddr := server.conn.LocalAddr().(*net.UDPAddr)
	msg := &wire.Message{Header: wire.Header{Type: wire.TypeI1, Version: wire.Version2, SenderHIT: wire.HIT{0x01}, ReceiverHIT: wire.HIT{0x02}}}
	require.NoError(t, client.Send(msg, serverAddr.IP.String(), uint16(serverAddr.Port)))

	select {
	case got := <-received:
		require.Equal(t, wire.TypeI1, got.Header.Type)
		require.Equal(t, wire.HIT{0x01}, got.Header.SenderHIT)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestUDPTransportSendRejectsInvalidIP(t *testing.T) {
	client, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	msg := &wire.Message{Header: wire.Header{Type: wire.TypeI1, Version: wire.Version2}}
	err = client.Send(msg, "not-an-ip", 10500)
	require.Error(t, err)
}

func TestSameAddressSet(t *testing.T) {
	a := []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")}
	b := []net.IP{net.ParseIP("10.0.0.2"), net.ParseIP("10.0.0.1")}
	require.True(t, sameAddressSet(a, b))

	c := []net.IP{net.ParseIP("10.0.0.3")}
	require.False(t, sameAddressSet(a, c))
}

func TestSystemAddressesLocalAddresses(t *testing.T) {
	s := NewSystemAddresses(time.Second)
	addrs, err := s.LocalAddresses()
	require.NoError(t, err)
	for _, ip := range addrs {
		require.False(t, ip.IsLoopback())
	}
}
