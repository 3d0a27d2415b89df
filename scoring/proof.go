// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package scoring

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"

	"github.com/vechain/mpbft/core"
)

var (
	// ErrStaleProof is returned for a proof older than its validity window.
	ErrStaleProof = errors.New("stale proof")
	// ErrInvalidProof is returned when proof verification fails.
	ErrInvalidProof = errors.New("invalid proof")
)

// ProofKind distinguishes storage from work proofs.
type ProofKind uint8

const (
	ProofStorage ProofKind = iota + 1
	ProofWork
)

func (k ProofKind) String() string {
	switch k {
	case ProofStorage:
		return "storage"
	case ProofWork:
		return "work"
	default:
		return "unknown"
	}
}

// Proof is an opaque attestation issued at Round.
type Proof struct {
	Round uint64
	Data  []byte
}

// Verifier is the proof collaborator. Verification is pure: it never
// mutates state and returns a score, ErrStaleProof or ErrInvalidProof.
type Verifier interface {
	VerifyStorageProof(id core.Address, proof Proof) (uint64, error)
	VerifyWorkProof(id core.Address, proof Proof) (uint64, error)
}

// ProofBook keeps the latest proof of each kind per validator.
type ProofBook struct {
	mu      sync.RWMutex
	storage map[core.Address]Proof
	work    map[core.Address]Proof
}

// NewProofBook creates an empty book.
func NewProofBook() *ProofBook {
	return &ProofBook{
		storage: make(map[core.Address]Proof),
		work:    make(map[core.Address]Proof),
	}
}

// Submit records proof if it is newer than the one held. It reports whether
// the book changed.
func (b *ProofBook) Submit(id core.Address, kind ProofKind, proof Proof) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var m map[core.Address]Proof
	switch kind {
	case ProofStorage:
		m = b.storage
	case ProofWork:
		m = b.work
	default:
		return false
	}
	if cur, ok := m[id]; ok && (cur.Round > proof.Round || (cur.Round == proof.Round && bytes.Equal(cur.Data, proof.Data))) {
		return false
	}
	m[id] = Proof{Round: proof.Round, Data: bytes.Clone(proof.Data)}
	return true
}

// Get returns the latest proof of kind for id.
func (b *ProofBook) Get(id core.Address, kind ProofKind) (Proof, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var (
		p  Proof
		ok bool
	)
	switch kind {
	case ProofStorage:
		p, ok = b.storage[id]
	case ProofWork:
		p, ok = b.work[id]
	}
	return p, ok
}

// Drop forgets every proof of id. It reports whether any was held.
func (b *ProofBook) Drop(id core.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, hadStorage := b.storage[id]
	_, hadWork := b.work[id]
	delete(b.storage, id)
	delete(b.work, id)
	return hadStorage || hadWork
}
