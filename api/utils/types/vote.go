// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package types

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
)

var votePhases = map[string]bft.Phase{
	bft.PhasePreVote.String():   bft.PhasePreVote,
	bft.PhasePreCommit.String(): bft.PhasePreCommit,
}

// Vote is a signed vote. A null blockHash is a nil vote.
type Vote struct {
	Height    uint64        `json:"height"`
	Round     uint64        `json:"round"`
	Phase     string        `json:"phase"`
	Validator core.Address  `json:"validator"`
	BlockHash *core.Bytes32 `json:"blockHash"`
	Signature hexutil.Bytes `json:"signature"`
}

func ConvertVote(v *bft.Vote) *Vote {
	return &Vote{
		Height:    v.Height,
		Round:     v.Round,
		Phase:     v.Phase.String(),
		Validator: v.Validator,
		BlockHash: v.BlockHash,
		Signature: v.Signature,
	}
}

func ConvertVotes(votes []*bft.Vote) []*Vote {
	out := make([]*Vote, 0, len(votes))
	for _, v := range votes {
		out = append(out, ConvertVote(v))
	}
	return out
}

// Decode returns the engine form of the vote.
func (v *Vote) Decode() (*bft.Vote, error) {
	phase, ok := votePhases[v.Phase]
	if !ok {
		return nil, errors.Errorf("phase %q", v.Phase)
	}
	return &bft.Vote{
		Height:    v.Height,
		Round:     v.Round,
		Phase:     phase,
		Validator: v.Validator,
		BlockHash: v.BlockHash,
		Signature: v.Signature,
	}, nil
}

// Evidence is a fault record. Severity is in ppm.
type Evidence struct {
	ID        core.Bytes32 `json:"id"`
	Type      string       `json:"type"`
	Validator core.Address `json:"validator"`
	Height    uint64       `json:"height"`
	Round     uint64       `json:"round"`
	Severity  uint64       `json:"severity"`
	Votes     []*Vote      `json:"votes,omitempty"`
}

func ConvertEvidence(ev *evidence.Evidence) *Evidence {
	return &Evidence{
		ID:        ev.ID(),
		Type:      ev.Type.String(),
		Validator: ev.Validator,
		Height:    ev.Height,
		Round:     ev.Round,
		Severity:  uint64(ev.Severity),
		Votes:     ConvertVotes(ev.Votes),
	}
}

// EvidenceRequest submits a fault. Only double votes are accepted from
// outside.
type EvidenceRequest struct {
	Type  string  `json:"type"`
	Votes []*Vote `json:"votes"`
}

func (r *EvidenceRequest) Decode() (*evidence.Evidence, error) {
	typ, err := evidence.ParseType(r.Type)
	if err != nil {
		return nil, err
	}
	ev := &evidence.Evidence{Type: typ}
	for i, v := range r.Votes {
		if v == nil {
			return nil, errors.Errorf("votes[%d] is null", i)
		}
		vote, err := v.Decode()
		if err != nil {
			return nil, errors.WithMessagef(err, "votes[%d]", i)
		}
		ev.Votes = append(ev.Votes, vote)
	}
	if len(ev.Votes) > 0 {
		ev.Validator = ev.Votes[0].Validator
		ev.Height = ev.Votes[0].Height
		ev.Round = ev.Votes[0].Round
	}
	return ev, nil
}
