// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"bytes"

	"github.com/vechain/mpbft/core"
)

type Status = uint8

const (
	StatusUnknown = Status(iota) // 0 -> default value
	StatusActive                 // participating in consensus
	StatusJailed                 // temporarily excluded, stake still bonded
	StatusExiting                // unbonding, still slashable for prior faults
	StatusExited                 // archived, never used again
)

// StatusString names a status for logs and the API.
func StatusString(s Status) string {
	switch s {
	case StatusActive:
		return "active"
	case StatusJailed:
		return "jailed"
	case StatusExiting:
		return "exiting"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Validator is a read-only view of a validator record.
type Validator struct {
	body *body
}

type body struct {
	ID              core.Address
	Stake           uint64  // bonded amount
	Storage         uint64  // declared storage capacity
	ConsensusKey    []byte  // public key handle resolved by the identity collaborator
	Commission      uint64  // ppm
	Status          Status  // lifecycle status
	Reputation      uint64  // +1 per participated commit, reduced by faults
	LastActiveRound uint64  // last round the validator voted in a commit
	RegisteredRound uint64  // round of registration
	JailedUntil     uint64  // round from which a jailed validator may resume
	ExitRound       *uint64 `rlp:"nil"` // round the exit was requested
	UnbondRound     *uint64 `rlp:"nil"` // round at which unbonding completes
	Slashed         uint64  // cumulative slashed amount
	Genesis         bool
}

func (b *body) clone() *body {
	cpy := *b
	cpy.ConsensusKey = bytes.Clone(b.ConsensusKey)
	if b.ExitRound != nil {
		v := *b.ExitRound
		cpy.ExitRound = &v
	}
	if b.UnbondRound != nil {
		v := *b.UnbondRound
		cpy.UnbondRound = &v
	}
	return &cpy
}

func (v *Validator) ID() core.Address {
	return v.body.ID
}

func (v *Validator) Stake() uint64 {
	return v.body.Stake
}

func (v *Validator) Storage() uint64 {
	return v.body.Storage
}

func (v *Validator) ConsensusKey() []byte {
	return bytes.Clone(v.body.ConsensusKey)
}

func (v *Validator) Commission() core.Ratio {
	return core.Ratio(v.body.Commission)
}

func (v *Validator) Status() Status {
	return v.body.Status
}

func (v *Validator) Reputation() uint64 {
	return v.body.Reputation
}

func (v *Validator) LastActiveRound() uint64 {
	return v.body.LastActiveRound
}

func (v *Validator) RegisteredRound() uint64 {
	return v.body.RegisteredRound
}

func (v *Validator) JailedUntil() uint64 {
	return v.body.JailedUntil
}

func (v *Validator) ExitRound() *uint64 {
	if v.body.ExitRound == nil {
		return nil
	}
	r := *v.body.ExitRound
	return &r
}

func (v *Validator) UnbondRound() *uint64 {
	if v.body.UnbondRound == nil {
		return nil
	}
	r := *v.body.UnbondRound
	return &r
}

func (v *Validator) Slashed() uint64 {
	return v.body.Slashed
}

func (v *Validator) IsGenesis() bool {
	return v.body.Genesis
}

// IsActive reports whether the validator takes part in consensus.
func (v *Validator) IsActive() bool {
	return v.body.Status == StatusActive
}

// IsSlashable reports whether evidence dated at round can still reduce stake.
func (v *Validator) IsSlashable(round uint64) bool {
	switch v.body.Status {
	case StatusActive, StatusJailed:
		return true
	case StatusExiting:
		return v.body.ExitRound != nil && round <= *v.body.ExitRound
	default:
		return false
	}
}
