// Package netio implements the daemon's external-collaborator surface:
// delivering serialized HIP control packets to the network and
// listening for inbound ones, enumerating local addresses for the
// base exchange and UPDATE address-change procedures, and the
// kernel-facing hooks (SA install/remove, ACQUIRE) that the rest of
// the daemon drives against an interface rather than a concrete
// transport, so tests can substitute an in-memory fake.
package netio

import (
	"net"

	"github.com/hiplane/hipd/internal/wire"
)

// Sender delivers one serialized HIP message to a destination. It
// satisfies statemachine.Outbound.
type Sender interface {
	Send(msg *wire.Message, dstIP string, dstPort uint16) error
}

// Listener receives inbound HIP control packets and dispatches them to
// fn until the listener is closed.
type Listener interface {
	Serve(fn func(msg *wire.Message, srcIP string, srcPort uint16)) error
	Close() error
}

// AddressEnumerator reports the local addresses the daemon can offer
// as LOCATOR candidates in I2/R2/UPDATE, and notifies subscribers when
// the set changes (interface up/down, DHCP renewal).
type AddressEnumerator interface {
	LocalAddresses() ([]net.IP, error)
	Watch(onChange func([]net.IP)) (stop func(), err error)
}

// SAInstaller is the kernel IPsec-SA-plumbing hook: install/remove the
// BEET-mode security associations the daemon negotiates. A concrete
// implementation shells out to XFRM/iptables-equivalent tooling; it is
// deliberately not provided here (kernel plumbing is out of scope),
// only the interface the daemon's core drives it through.
type SAInstaller interface {
	InstallInbound(spi uint32, localHIT, peerHIT wire.HIT, encKey, authKey []byte, transform uint16) error
	InstallOutbound(spi uint32, localHIT, peerHIT wire.HIT, dstIP string, encKey, authKey []byte, transform uint16) error
	Remove(spi uint32) error
}

// AcquireNotifier delivers ACQUIRE-equivalent events: a local
// application attempted to talk to a peer HIT/LSI with no established
// association, and the daemon should trigger a base exchange.
type AcquireNotifier interface {
	Acquire() (<-chan AcquireEvent, error)
}

// AcquireEvent is one ACQUIRE notification.
type AcquireEvent struct {
	PeerHIT wire.HIT
	PeerLSI wire.LSI
	PeerIP  net.IP
}
