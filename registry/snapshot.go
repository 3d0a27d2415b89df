// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"slices"
	"sort"

	"github.com/vechain/mpbft/core"
)

// Entry is one validator as seen by a snapshot.
type Entry struct {
	ID              core.Address
	Stake           uint64
	Storage         uint64
	ConsensusKey    []byte
	Status          Status
	Reputation      uint64
	LastActiveRound uint64
}

// Snapshot is an immutable copy of the registry taken at round start.
// Scoring and quorum computations read only from snapshots, so registry
// mutations during a round never change that round's weights.
type Snapshot struct {
	round   uint64
	entries []Entry // sorted by id, exited validators omitted
}

// Snapshot freezes the current non-exited validators.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.validators))
	for _, b := range r.validators {
		if b.Status == StatusExited {
			continue
		}
		entries = append(entries, Entry{
			ID:              b.ID,
			Stake:           b.Stake,
			Storage:         b.Storage,
			ConsensusKey:    slices.Clone(b.ConsensusKey),
			Status:          b.Status,
			Reputation:      b.Reputation,
			LastActiveRound: b.LastActiveRound,
		})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return a.ID.Compare(b.ID) })
	return &Snapshot{round: r.round, entries: entries}
}

// NewSnapshot builds a snapshot from explicit entries.
func NewSnapshot(round uint64, entries []Entry) *Snapshot {
	cpy := slices.Clone(entries)
	slices.SortFunc(cpy, func(a, b Entry) int { return a.ID.Compare(b.ID) })
	return &Snapshot{round: round, entries: cpy}
}

// Round is the lifecycle round the snapshot was taken at.
func (s *Snapshot) Round() uint64 {
	return s.round
}

// Entries returns all entries ordered by id.
func (s *Snapshot) Entries() []Entry {
	return slices.Clone(s.entries)
}

// Active returns the entries eligible to vote, ordered by id.
func (s *Snapshot) Active() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Status == StatusActive {
			out = append(out, e)
		}
	}
	return out
}

// Get looks up id.
func (s *Snapshot) Get(id core.Address) (Entry, bool) {
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].ID.Compare(id) >= 0 })
	if i < len(s.entries) && s.entries[i].ID == id {
		return s.entries[i], true
	}
	return Entry{}, false
}

// TotalStake sums the stake of active entries.
func (s *Snapshot) TotalStake() uint64 {
	var total uint64
	for _, e := range s.entries {
		if e.Status == StatusActive {
			total += e.Stake
		}
	}
	return total
}
