// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package archive keeps the audit trail of decided and failed rounds,
// together with the state needed to resume consensus after a restart.
package archive

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
)

var (
	logger       = log.WithContext("pkg", "archive")
	metricPruned = metrics.LazyLoadCounter("archive_pruned_count")
)

// DefaultAuditWindow is the number of heights round records are retained.
const DefaultAuditWindow = 10_000

var (
	roundPrefix = []byte("r")
	headKey     = []byte("meta.head")
	rotationKey = []byte("meta.rotation")
)

// ErrNotFound is returned for a round that was never archived or was pruned.
var ErrNotFound = errors.New("round not archived")

// Outcome is how a round ended.
type Outcome uint8

const (
	Committed Outcome = iota + 1
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is the archived result of one round.
type Record struct {
	Height    uint64
	Round     uint64
	Proposer  core.Address
	Proposed  bool
	Outcome   Outcome
	BlockHash *core.Bytes32 `rlp:"nil"`
	Commits   []*bft.Vote
	Evidence  []core.Bytes32 // ids of evidence applied when the height finalized
	Faulted   []core.Address // validators penalized by that evidence
}

// sealed is the stored form of a record. Sum is the blake2b hash of Body.
type sealed struct {
	Sum  core.Bytes32
	Body []byte
}

// priority is the stored form of bft.Priority; rlp has no signed integers.
type priority struct {
	ID    core.Address
	Value uint64
}

// Head is the last finalized height.
type Head struct {
	Height    uint64
	Round     uint64
	BlockHash core.Bytes32
}

// Archive stores round records keyed by (height, round).
type Archive struct {
	mu     sync.Mutex
	store  kv.Store
	window uint64
	floor  uint64 // lowest height possibly still stored
}

// New opens an archive retaining window heights of records.
func New(store kv.Store, window uint64) *Archive {
	if window == 0 {
		window = DefaultAuditWindow
	}
	return &Archive{store: store, window: window}
}

func roundKey(height, round uint64) []byte {
	k := make([]byte, len(roundPrefix)+16)
	n := copy(k, roundPrefix)
	binary.BigEndian.PutUint64(k[n:], height)
	binary.BigEndian.PutUint64(k[n+8:], round)
	return k
}

func heightRange(from, to uint64) kv.Range {
	return kv.Range{Start: roundKey(from, 0), Limit: roundKey(to, 0)}
}

// Put archives rec, replacing any record at the same coordinates.
func (a *Archive) Put(rec *Record) error {
	body, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return errors.Wrap(err, "encode round record")
	}
	if err := kv.PutRLP(a.store, roundKey(rec.Height, rec.Round), &sealed{core.Blake2b(body), body}); err != nil {
		return core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}
	return nil
}

// Get returns the record of (height, round). A record failing its checksum is
// a FatalError.
func (a *Archive) Get(height, round uint64) (*Record, error) {
	var s sealed
	found, err := kv.GetRLP(a.store, roundKey(height, round), &s)
	if err != nil {
		return nil, corrupted(height, round, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return open(height, round, &s)
}

// Rounds returns every archived round of height in round order.
func (a *Archive) Rounds(height uint64) ([]*Record, error) {
	var (
		out  []*Record
		ierr error
	)
	err := a.store.Iterate(heightRange(height, height+1), func(pair kv.Pair) bool {
		var s sealed
		round := binary.BigEndian.Uint64(pair.Key()[len(roundPrefix)+8:])
		if err := rlp.DecodeBytes(pair.Value(), &s); err != nil {
			ierr = corrupted(height, round, err)
			return false
		}
		rec, err := open(height, round, &s)
		if err != nil {
			ierr = err
			return false
		}
		out = append(out, rec)
		return true
	})
	if err != nil {
		return nil, core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}
	return out, ierr
}

func open(height, round uint64, s *sealed) (*Record, error) {
	if core.Blake2b(s.Body) != s.Sum {
		return nil, corrupted(height, round, errors.New("checksum mismatch"))
	}
	var rec Record
	if err := rlp.DecodeBytes(s.Body, &rec); err != nil {
		return nil, corrupted(height, round, err)
	}
	if rec.Height != height || rec.Round != round {
		return nil, corrupted(height, round, errors.Errorf("record is for %d/%d", rec.Height, rec.Round))
	}
	return &rec, nil
}

func corrupted(height, round uint64, cause error) error {
	return core.NewError(core.FatalError, core.CorruptedRecord).WithCause(cause).WithMsg("round %d/%d", height, round)
}

// Prune deletes records older than the audit window ending at height.
func (a *Archive) Prune(height uint64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if height < a.window {
		return 0, nil
	}
	limit := height - a.window + 1
	if limit <= a.floor {
		return 0, nil
	}

	bulk := a.store.Bulk()
	err := a.store.Iterate(heightRange(a.floor, limit), func(pair kv.Pair) bool {
		return bulk.Delete(pair.Key()) == nil
	})
	if err != nil {
		return 0, core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}
	n := bulk.Len()
	if err := bulk.Write(); err != nil {
		return 0, core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}
	a.floor = limit
	if n > 0 {
		metricPruned().Add(int64(n))
		logger.Debug("pruned round records", "below", limit, "count", n)
	}
	return n, nil
}

// SaveHead persists the last finalized height together with the proposer
// rotation that follows it, atomically.
func (a *Archive) SaveHead(head Head, rotation []bft.Priority) error {
	bulk := a.store.Bulk()
	if err := kv.PutRLP(bulk, headKey, &head); err != nil {
		return err
	}
	stored := make([]priority, 0, len(rotation))
	for _, p := range rotation {
		stored = append(stored, priority{p.ID, uint64(p.Value)})
	}
	if err := kv.PutRLP(bulk, rotationKey, stored); err != nil {
		return err
	}
	if err := bulk.Write(); err != nil {
		return core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}
	return nil
}

// LoadHead returns the last finalized head and rotation state. A fresh
// archive reports false.
func (a *Archive) LoadHead() (Head, []bft.Priority, bool, error) {
	var head Head
	found, err := kv.GetRLP(a.store, headKey, &head)
	if err != nil {
		return Head{}, nil, false, core.NewError(core.FatalError, core.CorruptedRecord).WithCause(err)
	}
	if !found {
		return Head{}, nil, false, nil
	}
	var stored []priority
	if _, err := kv.GetRLP(a.store, rotationKey, &stored); err != nil {
		return Head{}, nil, false, core.NewError(core.FatalError, core.CorruptedRecord).WithCause(err)
	}
	rotation := make([]bft.Priority, 0, len(stored))
	for _, p := range stored {
		rotation = append(rotation, bft.Priority{ID: p.ID, Value: int64(p.Value)})
	}
	return head, rotation, true, nil
}
