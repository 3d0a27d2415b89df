// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package governance

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/params"
)

// Kind is the type of change a proposal makes.
type Kind uint8

const (
	ParameterChange Kind = iota + 1
	TreasurySpend
	ValidatorSetChange
)

func (k Kind) String() string {
	switch k {
	case ParameterChange:
		return "ParameterChange"
	case TreasurySpend:
		return "TreasurySpend"
	case ValidatorSetChange:
		return "ValidatorSetChange"
	default:
		return "Unknown"
	}
}

// Status is the lifecycle state of a proposal.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusVoting
	StatusPassed
	StatusRejected
	StatusExecuted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusVoting:
		return "Voting"
	case StatusPassed:
		return "Passed"
	case StatusRejected:
		return "Rejected"
	case StatusExecuted:
		return "Executed"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusFailed
}

// Action is what a ValidatorSetChange does to its target.
type Action uint8

const (
	ActionJail Action = iota + 1
	ActionUnjail
	ActionExit
)

// ParseAction parses "jail", "unjail" or "exit".
func ParseAction(s string) (Action, error) {
	switch s {
	case "jail":
		return ActionJail, nil
	case "unjail":
		return ActionUnjail, nil
	case "exit":
		return ActionExit, nil
	}
	return 0, errors.Errorf("unknown action %q", s)
}

func (a Action) String() string {
	switch a {
	case ActionJail:
		return "jail"
	case ActionUnjail:
		return "unjail"
	case ActionExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Choice is a ballot option.
type Choice uint8

const (
	Yes Choice = iota + 1
	No
	Abstain
)

// ParseChoice parses "yes", "no" or "abstain".
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "yes":
		return Yes, nil
	case "no":
		return No, nil
	case "abstain":
		return Abstain, nil
	}
	return 0, errors.Errorf("unknown choice %q", s)
}

func (c Choice) String() string {
	switch c {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// Change is the payload of a proposal. Which fields apply depends on Kind.
type Change struct {
	Kind Kind

	// ParameterChange
	Param params.Key
	Value uint64
	// TreasurySpend
	Recipient core.Address
	Amount    uint64
	// ValidatorSetChange; JailRounds applies to ActionJail
	Validator  core.Address
	Action     Action
	JailRounds uint64
}

func (c *Change) validate() error {
	switch c.Kind {
	case ParameterChange:
		if err := params.Validate(c.Param, c.Value); err != nil {
			return err
		}
	case TreasurySpend:
		if c.Amount == 0 || c.Recipient.IsZero() {
			return errors.New("spend needs a recipient and a positive amount")
		}
	case ValidatorSetChange:
		if c.Validator.IsZero() {
			return errors.New("no target validator")
		}
		if c.Action < ActionJail || c.Action > ActionExit {
			return errors.Errorf("invalid action %d", c.Action)
		}
		if c.Action == ActionJail && c.JailRounds == 0 {
			return errors.New("jail needs a term")
		}
	default:
		return errors.Errorf("invalid kind %d", c.Kind)
	}
	return nil
}

// Weight is the voting weight of one voter in a proposal snapshot.
type Weight struct {
	Voter  core.Address
	Weight uint64
}

// Ballot is one recorded vote.
type Ballot struct {
	Voter  core.Address
	Choice Choice
	Weight uint64
}

// Tally sums ballot weight per choice.
type Tally struct {
	Yes     uint64
	No      uint64
	Abstain uint64
}

// Proposal is a governance proposal and its full history.
type Proposal struct {
	ID       core.Bytes32
	Seq      uint64
	Proposer core.Address
	Change   Change
	Status   Status

	CreatedRound uint64
	VotingStart  uint64
	VotingEnd    uint64 // last round accepting ballots

	Sponsors      []core.Address
	SponsorWeight uint64

	Weights     []Weight // voting snapshot, sorted by voter
	TotalWeight uint64
	Ballots     []Ballot
	Tally       Tally

	ClosedRound uint64
	Reason      string // failure or rejection reason
}

func (p *Proposal) weightOf(id core.Address) (uint64, bool) {
	i, ok := slices.BinarySearchFunc(p.Weights, id, func(w Weight, id core.Address) int { return w.Voter.Compare(id) })
	if !ok {
		return 0, false
	}
	return p.Weights[i].Weight, true
}

func (p *Proposal) hasBallot(id core.Address) bool {
	return slices.ContainsFunc(p.Ballots, func(b Ballot) bool { return b.Voter == id })
}

func (p *Proposal) copy() *Proposal {
	cpy := *p
	cpy.Sponsors = slices.Clone(p.Sponsors)
	cpy.Weights = slices.Clone(p.Weights)
	cpy.Ballots = slices.Clone(p.Ballots)
	return &cpy
}
