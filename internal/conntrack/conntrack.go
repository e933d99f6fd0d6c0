// Package conntrack implements the HIP connection tracker: per-flow
// tuple tables driven by observed HIP control messages, independent of
// the HADB (cross-references are by HIT only), recording the ESP flows
// (SPIs and anchors) each observed HIP exchange authorized.
package conntrack

import (
	"sync"
	"time"

	"github.com/hiplane/hipd/internal/wire"
)

// TupleDirection distinguishes the original direction (the side that
// sent the first observed I1) from the reply direction.
type TupleDirection int

const (
	DirOriginal TupleDirection = iota
	DirReply
)

// ConnState tracks the connection's HIP-level progress, independent of
// (but informed by) the HADB's own per-HA state.
type ConnState int

const (
	ConnI1Seen ConnState = iota
	ConnR1Seen
	ConnI2Seen
	ConnEstablished
	ConnClosing
	ConnClosed
)

// ESPTuple is one direction's ESP flow: its SPI, the set of destination
// addresses it has been observed arriving from/to, and — when the
// ESP-protection extension is active — the current token-verification
// state.
type ESPTuple struct {
	SPI          uint32
	Destinations []string
	SeqNo        uint32
	ActiveAnchor []byte
	NextAnchor   []byte
	ActiveRoot   []byte
	NextRoot     []byte
}

// SubTuple is one half (original or reply) of a connection.
type SubTuple struct {
	Direction  TupleDirection
	HITPair    [2]wire.HIT // [0]=src, [1]=dst for this direction
	ESPTuples  []*ESPTuple
	SrcPort    uint16
	DstPort    uint16
	HookOrigin string
	MidauthNonce []byte
}

// Tuple is a bidirectional HIP connection entry.
type Tuple struct {
	Original       SubTuple
	Reply          SubTuple
	State          ConnState
	ResponderHostID []byte
	LastSeen       time.Time
}

// key identifies a tuple by the unordered HIT pair.
type key struct {
	a, b wire.HIT
}

func makeKey(h1, h2 wire.HIT) key {
	if h1.Greater(h2) {
		return key{h2, h1}
	}
	return key{h1, h2}
}

// Tracker owns the live connection tuples. The daemon creates a single
// instance and the state machine feeds it as base exchanges progress.
type Tracker struct {
	mu    sync.RWMutex
	byHIT map[key]*Tuple
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{byHIT: make(map[key]*Tuple)}
}

// OnI1 creates a connection entry on first observation of an I1, if one
// does not already exist.
func (t *Tracker) OnI1(src, dst wire.HIT) *Tuple {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := makeKey(src, dst)
	if existing, ok := t.byHIT[k]; ok {
		return existing
	}
	tup := &Tuple{
		Original: SubTuple{Direction: DirOriginal, HITPair: [2]wire.HIT{src, dst}},
		Reply:    SubTuple{Direction: DirReply, HITPair: [2]wire.HIT{dst, src}},
		State:    ConnI1Seen,
		LastSeen: time.Now(),
	}
	t.byHIT[k] = tup
	return tup
}

// OnR1 records the responder's HOST_ID bytes for later signature
// verification of subsequent messages in this flow.
func (t *Tracker) OnR1(src, dst wire.HIT, hostID []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tup, ok := t.byHIT[makeKey(src, dst)]; ok {
		tup.ResponderHostID = hostID
		tup.State = ConnR1Seen
		tup.LastSeen = time.Now()
	}
}

// OnI2 records the initiator's proposed SPI and anchor.
func (t *Tracker) OnI2(src, dst wire.HIT, spi uint32, anchor []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tup, ok := t.byHIT[makeKey(src, dst)]
	if !ok {
		return
	}
	tup.Original.ESPTuples = append(tup.Original.ESPTuples, &ESPTuple{SPI: spi, ActiveAnchor: anchor})
	tup.State = ConnI2Seen
	tup.LastSeen = time.Now()
}

// OnR2 records the responder's SPI and anchor and moves the connection
// to ESTABLISHED.
func (t *Tracker) OnR2(src, dst wire.HIT, spi uint32, anchor []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tup, ok := t.byHIT[makeKey(src, dst)]
	if !ok {
		return
	}
	tup.Reply.ESPTuples = append(tup.Reply.ESPTuples, &ESPTuple{SPI: spi, ActiveAnchor: anchor})
	tup.State = ConnEstablished
	tup.LastSeen = time.Now()
}

// MatchESPTuple finds the ESPTuple whose current active anchor equals
// activeAnchor, searching both directions of hitA/hitB's tuple — per
// the invariant that "an ESP-tuple is matched by the first received
// ACTIVE anchor, not solely by SPI".
func (t *Tracker) MatchESPTuple(hitA, hitB wire.HIT, activeAnchor []byte) (*ESPTuple, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tup, ok := t.byHIT[makeKey(hitA, hitB)]
	if !ok {
		return nil, false
	}
	for _, et := range append(append([]*ESPTuple{}, tup.Original.ESPTuples...), tup.Reply.ESPTuples...) {
		if bytesEqual(et.ActiveAnchor, activeAnchor) {
			return et, true
		}
	}
	return nil, false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RotateAnchor replaces an ESP tuple's active anchor with its
// previously-cached next anchor, applying the "anchor changes update
// the ESP-tuple in place" rule the UPDATE-ack path uses.
func (et *ESPTuple) RotateAnchor(newNext, newNextRoot []byte) {
	et.ActiveAnchor = et.NextAnchor
	et.ActiveRoot = et.NextRoot
	et.NextAnchor = newNext
	et.NextRoot = newNextRoot
}

// Close moves a connection to CLOSING, to be purged after a grace
// period by the caller's maintenance tick.
func (t *Tracker) Close(src, dst wire.HIT) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tup, ok := t.byHIT[makeKey(src, dst)]; ok {
		tup.State = ConnClosing
		tup.LastSeen = time.Now()
	}
}

// Purge removes connections in CLOSING or CLOSED whose LastSeen is
// older than graceTimeout.
func (t *Tracker) Purge(graceTimeout time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, tup := range t.byHIT {
		if (tup.State == ConnClosing || tup.State == ConnClosed) && now.Sub(tup.LastSeen) > graceTimeout {
			delete(t.byHIT, k)
		}
	}
}

// Lookup returns the tuple for an (unordered) HIT pair.
func (t *Tracker) Lookup(hitA, hitB wire.HIT) (*Tuple, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tup, ok := t.byHIT[makeKey(hitA, hitB)]
	return tup, ok
}

// Len reports the number of tracked connections.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byHIT)
}
