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

// VoteSet tallies the votes of one (height, round, phase) by composite weight.
type VoteSet struct {
	height  uint64
	round   uint64
	phase   Phase
	weights *scoring.WeightTable
	quorum  uint64

	votes   map[core.Address]*Vote
	sum     uint64
	nilSum  uint64
	byBlock map[core.Bytes32]uint64
}

// NewVoteSet creates an empty tally.
func NewVoteSet(height, round uint64, phase Phase, weights *scoring.WeightTable) *VoteSet {
	return &VoteSet{
		height:  height,
		round:   round,
		phase:   phase,
		weights: weights,
		quorum:  Quorum(weights.Total()),
		votes:   make(map[core.Address]*Vote),
		byBlock: make(map[core.Bytes32]uint64),
	}
}

// Add records v. It returns false without error for an exact duplicate. A
// second vote with a different target is rejected with ConflictingVote and the
// first vote stays in place.
func (s *VoteSet) Add(v *Vote) (bool, error) {
	if v.Height != s.height || v.Round != s.round || v.Phase != s.phase {
		return false, newMalformed("vote %v does not belong to set h=%d r=%d %s", v, s.height, s.round, s.phase)
	}
	if !s.weights.Has(v.Validator) {
		return false, core.NewError(core.ValidationError, core.UnknownValidator).WithValidator(v.Validator)
	}
	if prev, ok := s.votes[v.Validator]; ok {
		if sameHash(prev.BlockHash, v.BlockHash) {
			return false, nil
		}
		return false, core.NewError(core.ConsensusFault, core.ConflictingVote).
			WithValidator(v.Validator).
			WithMsg("%v conflicts with %v", v, prev)
	}

	w := s.weights.Of(v.Validator)
	s.votes[v.Validator] = v
	s.sum += w
	if v.BlockHash == nil {
		s.nilSum += w
	} else {
		s.byBlock[*v.BlockHash] += w
	}
	return true, nil
}

// Get returns the vote of id, or nil.
func (s *VoteSet) Get(id core.Address) *Vote {
	return s.votes[id]
}

// Sum is the weight of all recorded votes.
func (s *VoteSet) Sum() uint64 {
	return s.sum
}

// Quorum is the weight needed for a majority.
func (s *VoteSet) Quorum() uint64 {
	return s.quorum
}

// WeightFor returns the weight voting for hash. A nil hash means nil votes.
func (s *VoteSet) WeightFor(hash *core.Bytes32) uint64 {
	if hash == nil {
		return s.nilSum
	}
	return s.byBlock[*hash]
}

// HasQuorumAny reports whether more than two thirds of the weight voted,
// whatever the target.
func (s *VoteSet) HasQuorumAny() bool {
	return s.sum >= s.quorum
}

// Majority returns the target backed by a quorum. The hash is nil for a nil
// majority; ok is false when no target has a quorum.
func (s *VoteSet) Majority() (hash *core.Bytes32, ok bool) {
	if s.nilSum >= s.quorum {
		return nil, true
	}
	for h, w := range s.byBlock {
		if w >= s.quorum {
			h := h
			return &h, true
		}
	}
	return nil, false
}

// Votes returns all votes ordered by validator.
func (s *VoteSet) Votes() []*Vote {
	votes := make([]*Vote, 0, len(s.votes))
	for _, v := range s.votes {
		votes = append(votes, v)
	}
	slices.SortFunc(votes, func(a, b *Vote) int { return a.Validator.Compare(b.Validator) })
	return votes
}

// VotesFor returns the votes for hash ordered by validator.
func (s *VoteSet) VotesFor(hash core.Bytes32) []*Vote {
	var votes []*Vote
	for _, v := range s.Votes() {
		if v.BlockHash != nil && *v.BlockHash == hash {
			votes = append(votes, v)
		}
	}
	return votes
}
