// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package bft

import (
	"fmt"

	"github.com/vechain/mpbft/core"
)

// Phase is the step of a consensus round.
type Phase uint8

const (
	PhasePropose Phase = iota + 1
	PhasePreVote
	PhasePreCommit
	PhaseCommit
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePropose:
		return "Propose"
	case PhasePreVote:
		return "PreVote"
	case PhasePreCommit:
		return "PreCommit"
	case PhaseCommit:
		return "Commit"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// IsVote reports whether votes may be cast in the phase.
func (p Phase) IsVote() bool {
	return p == PhasePreVote || p == PhasePreCommit
}

// Vote is a signed PreVote or PreCommit. A nil BlockHash votes for no block.
type Vote struct {
	Height    uint64
	Round     uint64
	Phase     Phase
	Validator core.Address
	BlockHash *core.Bytes32 `rlp:"nil"`
	Signature []byte
}

// SigningHash is the hash covered by the signature.
func (v *Vote) SigningHash() core.Bytes32 {
	return core.RLPHash([]any{
		v.Height,
		v.Round,
		v.Phase,
		v.Validator,
		v.BlockHash,
	})
}

// IsNil reports whether the vote is for no block.
func (v *Vote) IsNil() bool {
	return v.BlockHash == nil
}

func (v *Vote) String() string {
	target := "nil"
	if v.BlockHash != nil {
		target = v.BlockHash.AbbrevString()
	}
	return fmt.Sprintf("%s(h=%d r=%d %s by %s)", v.Phase, v.Height, v.Round, target, v.Validator)
}

// Proposal carries a candidate block for one round. POLRound is set when the
// proposer re-proposes a block that gathered a polka in an earlier round.
type Proposal struct {
	Height    uint64
	Round     uint64
	Proposer  core.Address
	BlockHash core.Bytes32
	Block     []byte
	POLRound  *uint64 `rlp:"nil"`
	Signature []byte
}

// SigningHash is the hash covered by the signature.
func (p *Proposal) SigningHash() core.Bytes32 {
	return core.RLPHash([]any{
		p.Height,
		p.Round,
		p.Proposer,
		p.BlockHash,
		p.Block,
		p.POLRound,
	})
}

// Quorum returns the smallest weight strictly above two thirds of total.
func Quorum(total uint64) uint64 {
	// split to avoid overflowing total*2
	return total/3*2 + (total%3)*2/3 + 1
}

func sameHash(a, b *core.Bytes32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func newStale(format string, args ...any) *core.Error {
	return core.NewError(core.ValidationError, core.StaleMessage).WithMsg(format, args...)
}

func newMalformed(format string, args ...any) *core.Error {
	return core.NewError(core.ValidationError, core.MalformedMessage).WithMsg(format, args...)
}
