package netio

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/hiplane/hipd/internal/hiplog"
	"github.com/hiplane/hipd/internal/wire"
)

// UDPTransport is the default Sender/Listener: HIP control traffic
// UDP-encapsulated on wire.DefaultPort (RFC 5770), the NAT-traversal
// mode every deployment needs regardless of whether a NAT is actually
// present. It wraps the listening socket in an ipv4/ipv6 PacketConn so
// ECN/TTL/hop-limit can be inspected or forced the way raw HIP-over-IP
// transports would need to.
type UDPTransport struct {
	conn   *net.UDPConn
	pconn4 *ipv4.PacketConn
	pconn6 *ipv6.PacketConn
}

// NewUDPTransport binds a UDP socket on the given local address
// (typically ":10500" or a specific local IP) for both sending and
// receiving HIP control traffic.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("netio.NewUDPTransport: resolve %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("netio.NewUDPTransport: listen %q: %w", listenAddr, err)
	}

	t := &UDPTransport{conn: conn}
	if addr.IP == nil || addr.IP.To4() != nil {
		t.pconn4 = ipv4.NewPacketConn(conn)
	} else {
		t.pconn6 = ipv6.NewPacketConn(conn)
	}
	return t, nil
}

// Send serializes msg and writes it to dstIP:dstPort.
func (t *UDPTransport) Send(msg *wire.Message, dstIP string, dstPort uint16) error {
	data, err := wire.Serialize(msg)
	if err != nil {
		return fmt.Errorf("netio.Send: %w", err)
	}
	dst := &net.UDPAddr{IP: net.ParseIP(dstIP), Port: int(dstPort)}
	if dst.IP == nil {
		return fmt.Errorf("netio.Send: invalid destination IP %q", dstIP)
	}
	if _, err := t.conn.WriteToUDP(data, dst); err != nil {
		return fmt.Errorf("netio.Send: %w", err)
	}
	return nil
}

// Serve reads inbound datagrams until the socket is closed, parsing
// each as a HIP control message and invoking fn. Malformed datagrams
// are logged and dropped rather than torn down the listener over.
func (t *UDPTransport) Serve(fn func(msg *wire.Message, srcIP string, srcPort uint16)) error {
	buf := make([]byte, 65535)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		msg, err := wire.Parse(buf[:n])
		if err != nil {
			hiplog.GetLogger().WithError(err).Warnf("netio: dropping malformed datagram from %s", src)
			continue
		}
		fn(msg, src.IP.String(), uint16(src.Port))
	}
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// SetTrafficClass sets the IPv4 TOS / IPv6 traffic-class byte used for
// outgoing control packets, exercised by deployments that want HIP
// control traffic to ride a priority DSCP class distinct from the ESP
// data plane.
func (t *UDPTransport) SetTrafficClass(tc int) error {
	if t.pconn4 != nil {
		return t.pconn4.SetTOS(tc)
	}
	if t.pconn6 != nil {
		return t.pconn6.SetTrafficClass(tc)
	}
	return nil
}
