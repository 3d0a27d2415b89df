// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/scoring"
)

// devPayload chains dev blocks by their finalized hashes.
type devPayload struct {
	Height uint64
	Parent core.Bytes32
	Time   uint64
}

// DevLedger is an in-memory ledger for devnets and tests.
type DevLedger struct {
	mu     sync.RWMutex
	hashes map[uint64]core.Bytes32
	head   uint64
	notify chan struct{}
}

// NewDevLedger creates an empty dev ledger.
func NewDevLedger() *DevLedger {
	return &DevLedger{
		hashes: make(map[uint64]core.Bytes32),
		notify: make(chan struct{}),
	}
}

// BlockTemplate implements Ledger.
func (l *DevLedger) BlockTemplate(height uint64) ([]byte, error) {
	l.mu.RLock()
	parent := l.hashes[height-1]
	l.mu.RUnlock()
	return rlp.EncodeToBytes(&devPayload{Height: height, Parent: parent, Time: uint64(time.Now().Unix())})
}

// ValidatePayload implements PayloadValidator.
func (l *DevLedger) ValidatePayload(height uint64, payload []byte) error {
	var p devPayload
	if err := rlp.DecodeBytes(payload, &p); err != nil {
		return err
	}
	if p.Height != height {
		return errors.Errorf("payload height %d", p.Height)
	}
	l.mu.RLock()
	parent, ok := l.hashes[height-1]
	l.mu.RUnlock()
	if ok && parent != p.Parent {
		return errors.Errorf("payload parent %s", p.Parent.AbbrevString())
	}
	return nil
}

// FinalizedBlock implements Ledger.
func (l *DevLedger) FinalizedBlock(height uint64, hash core.Bytes32, _ []byte, _ []*bft.Vote) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if height != l.head+1 && l.head != 0 {
		return errors.Errorf("finalized height %d after %d", height, l.head)
	}
	l.hashes[height] = hash
	l.head = height
	close(l.notify)
	l.notify = make(chan struct{})
	return nil
}

// Head returns the last finalized height.
func (l *DevLedger) Head() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Hash returns the finalized hash of height.
func (l *DevLedger) Hash(height uint64) (core.Bytes32, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.hashes[height]
	return h, ok
}

// Updated is closed on the next finalized height.
func (l *DevLedger) Updated() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.notify
}

const devProofSize = 8 + 32

// DevProof builds a proof DevProofs accepts, asserting score for id.
func DevProof(id core.Address, round, score uint64) scoring.Proof {
	data := make([]byte, 8, devProofSize)
	binary.BigEndian.PutUint64(data, score)
	tag := devProofTag(id, round, score)
	return scoring.Proof{Round: round, Data: append(data, tag[:]...)}
}

func devProofTag(id core.Address, round, score uint64) core.Bytes32 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], round)
	binary.BigEndian.PutUint64(buf[8:], score)
	return core.Blake2b([]byte("dev-proof"), id.Bytes(), buf[:])
}

// DevProofs verifies proofs made by DevProof. It stands in for real storage
// and work provers on devnets.
type DevProofs struct{}

func (DevProofs) verify(id core.Address, p scoring.Proof) (uint64, error) {
	if len(p.Data) != devProofSize {
		return 0, scoring.ErrInvalidProof
	}
	score := binary.BigEndian.Uint64(p.Data[:8])
	if core.BytesToBytes32(p.Data[8:]) != devProofTag(id, p.Round, score) {
		return 0, scoring.ErrInvalidProof
	}
	return score, nil
}

// VerifyStorageProof implements scoring.Verifier.
func (d DevProofs) VerifyStorageProof(id core.Address, p scoring.Proof) (uint64, error) {
	return d.verify(id, p)
}

// VerifyWorkProof implements scoring.Verifier.
func (d DevProofs) VerifyWorkProof(id core.Address, p scoring.Proof) (uint64, error) {
	return d.verify(id, p)
}
