// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package tx

import (
	"bytes"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/governance"
	"github.com/vechain/mpbft/scoring"
)

// Builder to make it easy to build a transaction.
type Builder struct {
	body body
}

// NewBuilder starts a tx of kind sent by origin.
func NewBuilder(kind Kind, origin core.Address) *Builder {
	return &Builder{body: body{Kind: kind, Origin: origin}}
}

// Nonce sets the nonce. Two otherwise identical txs need distinct nonces.
func (b *Builder) Nonce(nonce uint64) *Builder {
	b.body.Nonce = nonce
	return b
}

// Stake sets the stake to register with.
func (b *Builder) Stake(stake uint64) *Builder {
	b.body.Amount = stake
	return b
}

// StakeDelta sets the change of a Stake tx.
func (b *Builder) StakeDelta(delta int64) *Builder {
	if delta < 0 {
		b.body.Amount, b.body.Decrease = uint64(-delta), true
	} else {
		b.body.Amount, b.body.Decrease = uint64(delta), false
	}
	return b
}

// Storage sets the storage capacity to register with.
func (b *Builder) Storage(storage uint64) *Builder {
	b.body.Storage = storage
	return b
}

// ConsensusKey sets the key to register.
func (b *Builder) ConsensusKey(key []byte) *Builder {
	b.body.Key = bytes.Clone(key)
	return b
}

// Commission sets the commission rate to register with.
func (b *Builder) Commission(r core.Ratio) *Builder {
	b.body.Commission = uint64(r)
	return b
}

// Proof sets the proof to submit.
func (b *Builder) Proof(kind scoring.ProofKind, proof scoring.Proof) *Builder {
	b.body.ProofKind = kind
	b.body.ProofRound = proof.Round
	b.body.ProofData = bytes.Clone(proof.Data)
	return b
}

// Change sets the change to propose.
func (b *Builder) Change(c governance.Change) *Builder {
	b.body.Change = c
	return b
}

// Proposal sets the proposal to sponsor or vote on.
func (b *Builder) Proposal(id core.Bytes32) *Builder {
	b.body.Proposal = id
	return b
}

// Choice sets the ballot choice.
func (b *Builder) Choice(c governance.Choice) *Builder {
	b.body.Choice = c
	return b
}

// Build builds the unsigned tx.
func (b *Builder) Build() *Transaction {
	tx := Transaction{body: b.body}
	tx.body.Key = bytes.Clone(b.body.Key)
	tx.body.ProofData = bytes.Clone(b.body.ProofData)
	return &tx
}
