// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package bft

import "github.com/vechain/mpbft/core"

// Event is an input of the round state machine.
type Event interface {
	isEvent()
}

// ProposalEvent delivers a verified proposal.
type ProposalEvent struct {
	Proposal *Proposal
}

// VoteEvent delivers a verified vote.
type VoteEvent struct {
	Vote *Vote
}

// TimeoutEvent reports that the timeout of a phase expired.
type TimeoutEvent struct {
	Height uint64
	Round  uint64
	Phase  Phase
}

// HaltEvent stops the machine after a fatal error. No action follows.
type HaltEvent struct {
	Err error
}

func (ProposalEvent) isEvent() {}
func (VoteEvent) isEvent()     {}
func (TimeoutEvent) isEvent()  {}
func (HaltEvent) isEvent()     {}

// Action is an output of the round state machine.
type Action interface {
	isAction()
}

// Propose asks the local proposer to build, sign and broadcast a proposal.
// When Block is set it must be re-proposed with the given POLRound.
type Propose struct {
	Height    uint64
	Round     uint64
	BlockHash *core.Bytes32
	Block     []byte
	POLRound  *uint64
}

// Broadcast asks for the vote to be signed, published and fed back.
type Broadcast struct {
	Vote *Vote
}

// ScheduleTimeout arms the timeout of a phase, replacing any previous one.
type ScheduleTimeout struct {
	Height uint64
	Round  uint64
	Phase  Phase
}

// Finalize reports that a block gathered a pre-commit quorum.
type Finalize struct {
	Height    uint64
	Round     uint64
	BlockHash core.Bytes32
	Block     []byte
	Commits   []*Vote
}

// Evidence reports a proposer that never proposed in a failed round once the
// height exceeded its round budget.
type Evidence struct {
	Height    uint64
	Round     uint64
	Validator core.Address
}

// RoundFailed reports that a round ended without a commit.
type RoundFailed struct {
	Height   uint64
	Round    uint64
	Proposer core.Address
	Proposed bool
}

func (Propose) isAction()         {}
func (Broadcast) isAction()       {}
func (ScheduleTimeout) isAction() {}
func (Finalize) isAction()        {}
func (Evidence) isAction()        {}
func (RoundFailed) isAction()     {}
