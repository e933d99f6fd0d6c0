// Package hadb implements the Host Association database: the table of
// per-peer state machines keyed by (local HIT, peer HIT), their
// derived keys, negotiated transforms, and retransmission slots.
package hadb

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hiplane/hipd/internal/hiperr"
	"github.com/hiplane/hipd/internal/wire"
)

// State is a Host Association's control-plane state.
type State int

const (
	StateUnassoc State = iota
	StateI1Sent
	StateI2Sent
	StateR2Sent
	StateEstablished
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnassoc:
		return "UNASSOC"
	case StateI1Sent:
		return "I1_SENT"
	case StateI2Sent:
		return "I2_SENT"
	case StateR2Sent:
		return "R2_SENT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// NATMode describes whether HIP control traffic is UDP-encapsulated.
type NATMode int

const (
	NATNone NATMode = iota
	NATPlainUDP
)

// retransmitCapacity is the fixed size of each HA's retransmission ring.
const retransmitCapacity = 4

// RetransmitSlot holds one outstanding unacknowledged packet.
type RetransmitSlot struct {
	PacketType wire.PacketType
	Packet     []byte
	Attempts   int
	NextDue    time.Time
	InUse      bool
}

// KeySet holds the eight keys hipcrypto.DeriveAll produces, named by
// direction relative to this HA (not by numerically-greater-HIT, which
// is an implementation detail of the derivation order only).
type KeySet struct {
	HIPEncIn, HIPEncOut   []byte
	HIPAuthIn, HIPAuthOut []byte
	ESPEncIn, ESPEncOut   []byte
	ESPAuthIn, ESPAuthOut []byte
}

// Puzzle is the pending (I, J) pair an initiator is solving, or has
// solved and sent, for this HA.
type Puzzle struct {
	I uint64
	J uint64
	K uint8
}

// ESPProtState carries this HA's negotiated ESP-protection transform
// and any anchors already exchanged; the full runtime context (hash
// chains, trees, ring buffers) lives in internal/espprot, referenced by
// HIT pair, not embedded here.
type ESPProtState struct {
	Transform uint8
}

// HA is a mutable Host Association record.
type HA struct {
	LocalHIT wire.HIT
	PeerHIT  wire.HIT

	State      State
	HIPVersion wire.Version

	HIPTransform uint16
	ESPTransform uint16

	Keys         KeySet
	KeymatCursor int

	DHSecret    []byte
	DHGroup     uint8
	PeerPubKey  []byte

	// PeerHostID is the peer's canonical HOST_ID bytes (the same
	// encoding wire.EncodeHostID produces), learned the first time the
	// peer's identity is seen — in R1 for an initiator, in I2's
	// ENCRYPTED parameter for a responder — and kept so R2's HMAC2 can
	// be reconstructed without retransmitting it.
	PeerHostID []byte

	PeerIP  net.IP
	LocalIP net.IP
	NAT     NATMode
	LocalPort, PeerPort uint16

	SPIInbound, SPIOutbound       uint32
	SPIOutboundOld, SPIOutboundNew uint32

	PendingPuzzle Puzzle

	PeerControls uint16

	ESPProt ESPProtState

	Retransmit [retransmitCapacity]RetransmitSlot

	LastSeen      time.Time
	BirthdayCount uint64
}

// checkKeysInvariant enforces "keys present if state in
// {R2_SENT, ESTABLISHED, CLOSING, CLOSED}"; keys held in other states
// (e.g. I2_SENT) are not rejected.
func (h *HA) checkKeysInvariant() error {
	needKeys := h.State == StateR2Sent || h.State == StateEstablished || h.State == StateClosing || h.State == StateClosed
	hasKeys := h.Keys.HIPEncIn != nil || h.Keys.HIPEncOut != nil
	if needKeys && !hasKeys {
		return fmt.Errorf("state %s requires derived keys", h.State)
	}
	return nil
}

// Key is the HADB's lookup key.
type Key struct {
	Local wire.HIT
	Peer  wire.HIT
}

// DB is the Host Association database. A single instance is owned by
// the core event loop; command-socket handlers read through a snapshot
// taken under RLock, never mutating directly.
type DB struct {
	mu      sync.RWMutex
	byHITs  map[Key]*HA
	byPeer  map[wire.HIT][]*HA
	byLSI   map[wire.LSI]*HA
}

// New returns an empty database.
func New() *DB {
	return &DB{
		byHITs: make(map[Key]*HA),
		byPeer: make(map[wire.HIT][]*HA),
		byLSI:  make(map[wire.LSI]*HA),
	}
}

// Create allocates a fresh UNASSOC HA for (local, peer) without
// inserting it — callers insert once the state transition they are
// driving has been decided, keeping "reply emitted only after the
// transition is committed" true even under this two-step API.
func Create(local, peer wire.HIT) *HA {
	return &HA{LocalHIT: local, PeerHIT: peer, State: StateUnassoc, LastSeen: time.Now()}
}

// Insert adds ha, enforcing at most one HA per (local,peer) pair.
func (d *DB) Insert(ha *HA) error {
	if err := ha.checkKeysInvariant(); err != nil {
		return hiperr.New(hiperr.KindFatal, "hadb.Insert", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	k := Key{ha.LocalHIT, ha.PeerHIT}
	if _, exists := d.byHITs[k]; exists {
		return hiperr.New(hiperr.KindFatal, "hadb.Insert", fmt.Errorf("HA for (%s,%s) already exists", ha.LocalHIT, ha.PeerHIT))
	}
	d.byHITs[k] = ha
	d.byPeer[ha.PeerHIT] = append(d.byPeer[ha.PeerHIT], ha)
	return nil
}

// FindByHITs looks up the HA for an exact (local,peer) pair.
func (d *DB) FindByHITs(local, peer wire.HIT) (*HA, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ha, ok := d.byHITs[Key{local, peer}]
	return ha, ok
}

// FindByPeerHIT returns all HAs (across local identities) for a peer.
func (d *DB) FindByPeerHIT(peer wire.HIT) []*HA {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*HA{}, d.byPeer[peer]...)
}

// FindByLSIs resolves a legacy (local,peer) LSI pair via the
// registered LSI→HA mapping set by RegisterLSI. Only the peer LSI is
// looked up; local is not checked against the HA found.
func (d *DB) FindByLSIs(local, peer wire.LSI) (*HA, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ha, ok := d.byLSI[peer]
	if !ok {
		return nil, false
	}
	if ha.LocalHIT.IsZero() {
		return ha, true
	}
	_ = local
	return ha, true
}

// RegisterLSI records the LSI under which ha's peer is reachable,
// enforcing LSI uniqueness per HIT.
func (d *DB) RegisterLSI(lsi wire.LSI, ha *HA) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.byLSI[lsi]; ok && existing.PeerHIT != ha.PeerHIT {
		return hiperr.New(hiperr.KindFatal, "hadb.RegisterLSI", fmt.Errorf("LSI %s already mapped to a different HIT", lsi))
	}
	d.byLSI[lsi] = ha
	return nil
}

// Delete removes ha from all indices.
func (d *DB) Delete(ha *HA) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := Key{ha.LocalHIT, ha.PeerHIT}
	delete(d.byHITs, k)
	peers := d.byPeer[ha.PeerHIT]
	for i, p := range peers {
		if p == ha {
			d.byPeer[ha.PeerHIT] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	for lsi, v := range d.byLSI {
		if v == ha {
			delete(d.byLSI, lsi)
		}
	}
}

// ForEach visits every HA. It is safe for fn to call Delete on the HA
// it was just given; it is not safe against concurrent mutation of the
// database by unrelated callers.
func (d *DB) ForEach(fn func(*HA)) {
	d.mu.RLock()
	all := make([]*HA, 0, len(d.byHITs))
	for _, ha := range d.byHITs {
		all = append(all, ha)
	}
	d.mu.RUnlock()
	for _, ha := range all {
		fn(ha)
	}
}

// Len reports the number of Host Associations currently tracked.
func (d *DB) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byHITs)
}
