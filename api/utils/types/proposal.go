// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package types

import (
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/governance"
	"github.com/vechain/mpbft/params"
)

var changeKinds = map[string]governance.Kind{
	governance.ParameterChange.String():    governance.ParameterChange,
	governance.TreasurySpend.String():      governance.TreasurySpend,
	governance.ValidatorSetChange.String(): governance.ValidatorSetChange,
}

// Change describes what a proposal does. Only the fields of its kind are set.
type Change struct {
	Kind       string        `json:"kind"`
	Param      string        `json:"param,omitempty"`
	Value      uint64        `json:"value,omitempty"`
	Recipient  *core.Address `json:"recipient,omitempty"`
	Amount     uint64        `json:"amount,omitempty"`
	Validator  *core.Address `json:"validator,omitempty"`
	Action     string        `json:"action,omitempty"`
	JailRounds uint64        `json:"jailRounds,omitempty"`
}

func ConvertChange(c governance.Change) *Change {
	out := &Change{Kind: c.Kind.String()}
	switch c.Kind {
	case governance.ParameterChange:
		out.Param, out.Value = string(c.Param), c.Value
	case governance.TreasurySpend:
		recipient := c.Recipient
		out.Recipient, out.Amount = &recipient, c.Amount
	case governance.ValidatorSetChange:
		validator := c.Validator
		out.Validator, out.Action, out.JailRounds = &validator, c.Action.String(), c.JailRounds
	}
	return out
}

// Decode returns the engine form of the change. Values are checked when the
// proposal executes.
func (c *Change) Decode() (governance.Change, error) {
	kind, ok := changeKinds[c.Kind]
	if !ok {
		return governance.Change{}, errors.Errorf("kind %q", c.Kind)
	}
	out := governance.Change{Kind: kind}
	switch kind {
	case governance.ParameterChange:
		out.Param, out.Value = params.Key(c.Param), c.Value
	case governance.TreasurySpend:
		if c.Recipient == nil {
			return out, errors.New("recipient required")
		}
		out.Recipient, out.Amount = *c.Recipient, c.Amount
	case governance.ValidatorSetChange:
		if c.Validator == nil {
			return out, errors.New("validator required")
		}
		action, err := governance.ParseAction(c.Action)
		if err != nil {
			return out, err
		}
		out.Validator, out.Action, out.JailRounds = *c.Validator, action, c.JailRounds
	}
	return out, nil
}

type Tally struct {
	Yes     uint64 `json:"yes"`
	No      uint64 `json:"no"`
	Abstain uint64 `json:"abstain"`
}

type Ballot struct {
	Voter  core.Address `json:"voter"`
	Choice string       `json:"choice"`
	Weight uint64       `json:"weight"`
}

// Proposal is the API view of a governance proposal.
type Proposal struct {
	ID            core.Bytes32   `json:"id"`
	Seq           uint64         `json:"seq"`
	Proposer      core.Address   `json:"proposer"`
	Change        *Change        `json:"change"`
	Status        string         `json:"status"`
	CreatedRound  uint64         `json:"createdRound"`
	VotingStart   uint64         `json:"votingStart"`
	VotingEnd     uint64         `json:"votingEnd"`
	Sponsors      []core.Address `json:"sponsors"`
	SponsorWeight uint64         `json:"sponsorWeight"`
	TotalWeight   uint64         `json:"totalWeight"`
	Ballots       []*Ballot      `json:"ballots"`
	Tally         Tally          `json:"tally"`
	ClosedRound   uint64         `json:"closedRound"`
	Reason        string         `json:"reason,omitempty"`
}

func ConvertProposal(p *governance.Proposal) *Proposal {
	out := &Proposal{
		ID:            p.ID,
		Seq:           p.Seq,
		Proposer:      p.Proposer,
		Change:        ConvertChange(p.Change),
		Status:        p.Status.String(),
		CreatedRound:  p.CreatedRound,
		VotingStart:   p.VotingStart,
		VotingEnd:     p.VotingEnd,
		Sponsors:      p.Sponsors,
		SponsorWeight: p.SponsorWeight,
		TotalWeight:   p.TotalWeight,
		Ballots:       make([]*Ballot, 0, len(p.Ballots)),
		Tally:         Tally{Yes: p.Tally.Yes, No: p.Tally.No, Abstain: p.Tally.Abstain},
		ClosedRound:   p.ClosedRound,
		Reason:        p.Reason,
	}
	for _, b := range p.Ballots {
		out.Ballots = append(out.Ballots, &Ballot{Voter: b.Voter, Choice: b.Choice.String(), Weight: b.Weight})
	}
	return out
}

// BallotRequest casts a ballot by choice name.
type BallotRequest struct {
	Choice string `json:"choice"`
}
