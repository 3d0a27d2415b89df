// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package bft

import (
	"slices"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/scoring"
)

// Priority is the persisted rotation state of one validator.
type Priority struct {
	ID    core.Address
	Value int64
}

// Rotation selects proposers by weighted round-robin. Each step adds every
// member's weight to its priority, picks the highest priority (lowest id on a
// tie) and charges the pick the total weight. State carries across heights.
//
// Rotation is not safe for concurrent use.
type Rotation struct {
	priorities map[core.Address]int64
}

// NewRotation creates a rotation with all priorities at zero.
func NewRotation() *Rotation {
	return &Rotation{priorities: make(map[core.Address]int64)}
}

// LoadRotation restores persisted state.
func LoadRotation(entries []Priority) *Rotation {
	r := NewRotation()
	for _, e := range entries {
		r.priorities[e.ID] = e.Value
	}
	return r
}

// Entries returns the state ordered by id, for persistence.
func (r *Rotation) Entries() []Priority {
	entries := make([]Priority, 0, len(r.priorities))
	for id, v := range r.priorities {
		entries = append(entries, Priority{id, v})
	}
	slices.SortFunc(entries, func(a, b Priority) int { return a.ID.Compare(b.ID) })
	return entries
}

// Proposer returns the proposer of the given round of the next height without
// changing the rotation.
func (r *Rotation) Proposer(weights *scoring.WeightTable, round uint64) core.Address {
	prio := r.reconcile(weights)
	var chosen core.Address
	for i := uint64(0); i <= round; i++ {
		chosen = increment(prio, weights)
	}
	return chosen
}

// Advance moves the rotation past a height finalized at the given round.
func (r *Rotation) Advance(weights *scoring.WeightTable, round uint64) {
	prio := r.reconcile(weights)
	for i := uint64(0); i <= round; i++ {
		increment(prio, weights)
	}
	r.priorities = prio
}

// reconcile returns a copy of the priorities restricted to the members of
// weights, new members starting from zero, recentred around zero.
func (r *Rotation) reconcile(weights *scoring.WeightTable) map[core.Address]int64 {
	members := weights.Weights()
	prio := make(map[core.Address]int64, len(members))
	var sum int64
	for _, w := range members {
		p := r.priorities[w.ID]
		prio[w.ID] = p
		sum += p
	}
	if n := int64(len(members)); n > 0 {
		avg := sum / n
		for id := range prio {
			prio[id] -= avg
		}
	}
	return prio
}

func increment(prio map[core.Address]int64, weights *scoring.WeightTable) core.Address {
	var (
		chosen core.Address
		best   int64
		found  bool
	)
	// members are ordered by id, so a strict comparison keeps the lowest id on ties
	for _, w := range weights.Weights() {
		prio[w.ID] += int64(w.Value)
		if w.Value == 0 {
			continue
		}
		if !found || prio[w.ID] > best {
			chosen, best, found = w.ID, prio[w.ID], true
		}
	}
	if found {
		prio[chosen] -= int64(weights.Total())
	}
	return chosen
}
