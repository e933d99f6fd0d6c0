// Package sa implements the userspace ESP Security Association manager:
// the table of live inbound/outbound SAs and the BEET-mode
// encapsulation/decapsulation transform applied to each packet.
package sa

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/hiperr"
	"github.com/hiplane/hipd/internal/wire"
)

// Direction distinguishes inbound (decapsulate) from outbound
// (encapsulate) SAs.
type Direction int

const (
	DirInbound Direction = iota
	DirOutbound
)

// EncapMode selects whether ESP is wrapped in a UDP datagram (for NAT
// traversal) or sent as raw IP protocol 50.
type EncapMode int

const (
	EncapRaw EncapMode = iota
	EncapUDP
)

// ESPProtContext carries the minimal state the ESP-protection engine
// needs attached to an SA; the engine itself (internal/espprot) owns
// the hash-chain/tree runtime state keyed by the same SPI.
type ESPProtContext struct {
	Transform uint8
	Active    bool
}

// Entry is one live ESP Security Association.
type Entry struct {
	Direction    Direction
	InnerSrcHIT  wire.HIT
	InnerDstHIT  wire.HIT
	OuterSrc     net.IP
	OuterDst     net.IP
	SPI          uint32
	Transform    hipcrypto.TransformID
	EncKey       []byte
	AuthKey      []byte
	Encap        EncapMode
	SrcPort      uint16
	DstPort      uint16
	ESPProt      ESPProtContext
	SeqNo        uint32
}

// key indexes inbound SAs by (dst_ip, SPI) — the lookup a receiver has
// available from the packet alone — and outbound SAs by HIT pair.
type inKey struct {
	dst string
	spi uint32
}

// Manager is the live SA table. A single instance is owned by the core
// event loop; entries are added by the state machine as base exchanges
// complete.
type Manager struct {
	mu       sync.RWMutex
	inbound  map[inKey]*Entry
	outbound map[wire.HIT]map[wire.HIT]*Entry
}

// NewManager returns an empty SA table.
func NewManager() *Manager {
	return &Manager{
		inbound:  make(map[inKey]*Entry),
		outbound: make(map[wire.HIT]map[wire.HIT]*Entry),
	}
}

// AddSA installs a new SA entry.
func (m *Manager) AddSA(e *Entry) error {
	if e == nil {
		return hiperr.New(hiperr.KindFatal, "sa.AddSA", fmt.Errorf("nil entry"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e.Direction {
	case DirInbound:
		m.inbound[inKey{e.OuterDst.String(), e.SPI}] = e
	case DirOutbound:
		if m.outbound[e.InnerSrcHIT] == nil {
			m.outbound[e.InnerSrcHIT] = make(map[wire.HIT]*Entry)
		}
		m.outbound[e.InnerSrcHIT][e.InnerDstHIT] = e
	default:
		return hiperr.New(hiperr.KindFatal, "sa.AddSA", fmt.Errorf("unknown direction %d", e.Direction))
	}
	return nil
}

// DeleteSA removes the inbound SA matching (dstIP, spi), if present.
func (m *Manager) DeleteSA(dstIP net.IP, spi uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inbound, inKey{dstIP.String(), spi})
}

// FindInbound looks up an inbound SA by destination IP and SPI — the
// lookup path a just-received ESP packet uses.
func (m *Manager) FindInbound(dstIP net.IP, spi uint32) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.inbound[inKey{dstIP.String(), spi}]
	return e, ok
}

// FindOutbound looks up the outbound SA for a HIT pair.
func (m *Manager) FindOutbound(srcHIT, dstHIT wire.HIT) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDst, ok := m.outbound[srcHIT]
	if !ok {
		return nil, false
	}
	e, ok := byDst[dstHIT]
	return e, ok
}

// Flush removes every SA entry (used on shutdown or configuration
// reload that changes ESP-protection policy wholesale).
func (m *Manager) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = make(map[inKey]*Entry)
	m.outbound = make(map[wire.HIT]map[wire.HIT]*Entry)
}

// Encapsulate transforms an outbound transport payload into a BEET-mode
// ESP packet body: ESP header (SPI, seq), IV, ciphertext of
// (payload‖padding‖pad_len‖next_hdr), then a 12-byte truncated
// HMAC-SHA1 over header‖IV‖ciphertext. The optional ESP-protection hash
// token, if active, is the caller's responsibility to insert between
// the ESP header and the IV — this function only covers the RFC 4303
// core.
func (m *Manager) Encapsulate(e *Entry, payload []byte, nextHeader uint8) ([]byte, error) {
	e.SeqNo++

	block := blockAlign(e.Transform)
	padLen := block - ((len(payload) + 2) % block)
	if padLen == block {
		padLen = 0
	}
	plaintext := make([]byte, 0, len(payload)+padLen+2)
	plaintext = append(plaintext, payload...)
	for i := 1; i <= padLen; i++ {
		plaintext = append(plaintext, byte(i))
	}
	plaintext = append(plaintext, byte(padLen), nextHeader)

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], e.SPI)
	binary.BigEndian.PutUint32(header[4:8], e.SeqNo)

	ct, err := hipcrypto.EncryptCBC(e.Transform, e.EncKey, plaintext)
	if err != nil {
		return nil, err
	}

	mac := hipcrypto.Truncate12(hipcrypto.HMACSHA1(e.AuthKey, append(append([]byte{}, header...), ct...)))
	out := make([]byte, 0, len(header)+len(ct)+len(mac))
	out = append(out, header...)
	out = append(out, ct...)
	out = append(out, mac...)
	return out, nil
}

// blockAlign returns the alignment the ESP plaintext (payload + padding
// + 2-byte tail) must be a multiple of: the cipher block size for CBC
// transforms, 4 for NULL.
func blockAlign(t hipcrypto.TransformID) int {
	switch t {
	case hipcrypto.TransformAESCBC:
		return 16
	case hipcrypto.Transform3DESCBC:
		return 8
	default:
		return 4
	}
}

// Decapsulate reverses Encapsulate: authenticate first, then decrypt,
// returning the inner transport payload and next-header value.
func (m *Manager) Decapsulate(e *Entry, pkt []byte) (payload []byte, nextHeader uint8, err error) {
	if len(pkt) < 8+12 {
		return nil, 0, hiperr.New(hiperr.KindMalformed, "sa.Decapsulate", fmt.Errorf("ESP packet too short: %d bytes", len(pkt)))
	}
	macOffset := len(pkt) - 12
	header := pkt[0:8]
	ct := pkt[8:macOffset]
	gotMAC := pkt[macOffset:]

	wantMAC := hipcrypto.Truncate12(hipcrypto.HMACSHA1(e.AuthKey, append(append([]byte{}, header...), ct...)))
	if !hmacEqual(gotMAC, wantMAC) {
		return nil, 0, hiperr.New(hiperr.KindAuthFailed, "sa.Decapsulate", fmt.Errorf("ESP authentication failed"))
	}

	pt, err := hipcrypto.DecryptCBC(e.Transform, e.EncKey, ct)
	if err != nil {
		return nil, 0, err
	}
	if len(pt) < 2 {
		return nil, 0, hiperr.New(hiperr.KindMalformed, "sa.Decapsulate", fmt.Errorf("decrypted ESP body too short for tail"))
	}
	padLen := int(pt[len(pt)-2])
	nh := pt[len(pt)-1]
	pt = pt[:len(pt)-2]
	if padLen > len(pt) {
		return nil, 0, hiperr.New(hiperr.KindMalformed, "sa.Decapsulate", fmt.Errorf("pad length %d exceeds plaintext", padLen))
	}
	return pt[:len(pt)-padLen], nh, nil
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
