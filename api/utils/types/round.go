// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package types

import (
	"github.com/vechain/mpbft/archive"
	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/node"
)

// RoundStatus is the live state of the round being decided.
type RoundStatus struct {
	Height          uint64        `json:"height"`
	Round           uint64        `json:"round"`
	Phase           string        `json:"phase"`
	Proposer        core.Address  `json:"proposer"`
	Quorum          uint64        `json:"quorum"`
	Total           uint64        `json:"total"`
	Proposal        *core.Bytes32 `json:"proposal"`
	PreVoteWeight   uint64        `json:"preVoteWeight"`
	PreCommitWeight uint64        `json:"preCommitWeight"`
	PreVotes        []*Vote       `json:"preVotes"`
	PreCommits      []*Vote       `json:"preCommits"`
	Locked          *core.Bytes32 `json:"locked"`
	Committed       *core.Bytes32 `json:"committed"`
	Halted          bool          `json:"halted"`
}

func ConvertRoundStatus(s *bft.RoundStatus) *RoundStatus {
	return &RoundStatus{
		Height:          s.Height,
		Round:           s.Round,
		Phase:           s.Phase.String(),
		Proposer:        s.Proposer,
		Quorum:          s.Quorum,
		Total:           s.Total,
		Proposal:        s.Proposal,
		PreVoteWeight:   s.PreVoteWeight,
		PreCommitWeight: s.PreCommitWeight,
		PreVotes:        ConvertVotes(s.PreVotes),
		PreCommits:      ConvertVotes(s.PreCommits),
		Locked:          s.Locked,
		Committed:       s.Committed,
		Halted:          s.Halted,
	}
}

// RoundRecord is an archived round.
type RoundRecord struct {
	Round     uint64         `json:"round"`
	Proposer  core.Address   `json:"proposer"`
	Proposed  bool           `json:"proposed"`
	Outcome   string         `json:"outcome"`
	BlockHash *core.Bytes32  `json:"blockHash"`
	Commits   []*Vote        `json:"commits"`
	Evidence  []core.Bytes32 `json:"evidence"`
	Faulted   []core.Address `json:"faulted"`
}

// Rounds is everything known about one height.
type Rounds struct {
	Height  uint64         `json:"height"`
	Current *RoundStatus   `json:"current"`
	Rounds  []*RoundRecord `json:"rounds"`
}

func ConvertRounds(v *node.RoundView) *Rounds {
	out := &Rounds{Height: v.Height, Rounds: make([]*RoundRecord, 0, len(v.Rounds))}
	if v.Current != nil {
		out.Current = ConvertRoundStatus(v.Current)
	}
	for _, r := range v.Rounds {
		out.Rounds = append(out.Rounds, convertRecord(r))
	}
	return out
}

func convertRecord(r *archive.Record) *RoundRecord {
	return &RoundRecord{
		Round:     r.Round,
		Proposer:  r.Proposer,
		Proposed:  r.Proposed,
		Outcome:   r.Outcome.String(),
		BlockHash: r.BlockHash,
		Commits:   ConvertVotes(r.Commits),
		Evidence:  r.Evidence,
		Faulted:   r.Faulted,
	}
}
