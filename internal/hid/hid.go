// Package hid implements the Host Identity store: the daemon's table of
// local Host Identities keyed by HIT, each holding the private key
// material, canonical HI bytes, and signing algorithm used when acting
// as initiator or responder for that identity.
package hid

import (
	"fmt"
	"sync"

	"github.com/hiplane/hipd/internal/hipcrypto"
	"github.com/hiplane/hipd/internal/hiperr"
	"github.com/hiplane/hipd/internal/wire"
)

// Entry is one local Host Identity.
type Entry struct {
	HIT        wire.HIT
	LSI        wire.LSI
	Algo       hipcrypto.SignAlgo
	Canonical  []byte // canonical HI bytes, as encoded by wire.EncodeHostID
	Signer     hipcrypto.Signer
	Verifier   hipcrypto.Verifier
	Anonymous  bool // not advertised as the default identity
	Hostname   string
}

// Store is the process-wide table of local Host Identities. A single
// instance is held for the daemon's lifetime; Store is safe for
// concurrent use even though the core event loop is single-threaded,
// because control-socket commands (e.g. "hi add") run outside it.
type Store struct {
	mu       sync.RWMutex
	entries  map[wire.HIT]*Entry
	order    []wire.HIT // insertion order, for default_hit()
	nextLSI  byte
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entries: make(map[wire.HIT]*Entry),
		nextLSI: 1,
	}
}

// Insert adds a Host Identity, deriving its HIT from the canonical HI
// bytes and rejecting the entry if that does not equal e.HIT (a
// caller-supplied HIT/key mismatch) or if e.HIT is already present.
func (s *Store) Insert(e *Entry) error {
	if e == nil {
		return hiperr.New(hiperr.KindFatal, "hid.Insert", fmt.Errorf("nil entry"))
	}
	derived := wire.HITFromHI(e.Canonical, wire.HITTypeHash100)
	if derived != e.HIT {
		return hiperr.New(hiperr.KindFatal, "hid.Insert", fmt.Errorf("HIT %s does not match HI (derives %s)", e.HIT, derived))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.HIT]; exists {
		return hiperr.New(hiperr.KindFatal, "hid.Insert", fmt.Errorf("HIT %s already present", e.HIT))
	}
	if e.LSI == (wire.LSI{}) {
		e.LSI = wire.LSI{wire.LSIPrefix, 0, 0, s.nextLSI}
		s.nextLSI++
	}
	s.entries[e.HIT] = e
	s.order = append(s.order, e.HIT)
	return nil
}

// Remove deletes the identity for hit, if present.
func (s *Store) Remove(hit wire.HIT) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, hit)
	for i, h := range s.order {
		if h == hit {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Lookup finds the identity for hit, optionally requiring a specific
// algorithm (pass 0 for "any").
func (s *Store) Lookup(hit wire.HIT, algo hipcrypto.SignAlgo) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[hit]
	if !ok {
		return nil, false
	}
	if algo != 0 && e.Algo != algo {
		return nil, false
	}
	return e, true
}

// LookupByLSI resolves a legacy LSI to its shadowed HIT's entry.
func (s *Store) LookupByLSI(lsi wire.LSI) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.LSI == lsi {
			return e, true
		}
	}
	return nil, false
}

// DefaultHIT deterministically selects a non-anonymous HIT by algorithm
// preference (ECDSA-384, then ECDSA-256, then RSA, then DSA); among
// identities of the same algorithm the earliest inserted wins.
func (s *Store) DefaultHIT() (wire.HIT, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Entry
	for _, h := range s.order {
		e := s.entries[h]
		if e.Anonymous {
			continue
		}
		if best == nil || algoRank(e.Algo) < algoRank(best.Algo) {
			best = e
		}
	}
	if best == nil {
		return wire.HIT{}, false
	}
	return best.HIT, true
}

func algoRank(a hipcrypto.SignAlgo) int {
	switch a {
	case hipcrypto.SignECDSA384:
		return 0
	case hipcrypto.SignECDSA256:
		return 1
	case hipcrypto.SignRSA:
		return 2
	case hipcrypto.SignDSA:
		return 3
	default:
		return 99
	}
}

// ForEach invokes fn for every entry. fn must not call Insert or Remove
// on this store; callers needing deletion-during-iteration should
// collect HITs and delete afterward.
func (s *Store) ForEach(fn func(*Entry)) {
	s.mu.RLock()
	hits := append([]wire.HIT{}, s.order...)
	s.mu.RUnlock()
	for _, h := range hits {
		s.mu.RLock()
		e, ok := s.entries[h]
		s.mu.RUnlock()
		if ok {
			fn(e)
		}
	}
}

// Len reports the number of local identities held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
