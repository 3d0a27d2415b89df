// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package block defines the unit the consensus engine agrees on. Besides the
// ledger payload a block carries everything that mutates replicated engine
// state, so every node applies the same changes at the same height.
package block

import (
	"bytes"
	"io"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
	"github.com/vechain/mpbft/tx"
)

const (
	// MaxSize bounds an encoded block.
	MaxSize = 4 * 1024 * 1024
	// MaxEvidence bounds the evidence items of one block.
	MaxEvidence = 64
	// MaxTxs bounds the transactions of one block.
	MaxTxs = 256
)

// Block is an immutable block type.
type Block struct {
	body body

	cache struct {
		hash atomic.Pointer[core.Bytes32]
	}
}

type body struct {
	Height     uint64
	Payload    []byte
	LastCommit []*bft.Vote
	Evidence   []*evidence.Evidence
	Txs        tx.Transactions
}

// Hash returns the hash the consensus votes on. It is the blake2b hash of the
// encoded block.
func (b *Block) Hash() core.Bytes32 {
	if cached := b.cache.hash.Load(); cached != nil {
		return *cached
	}
	h := core.RLPHash(&b.body)
	b.cache.hash.Store(&h)
	return h
}

// Height returns the height the block was built for.
func (b *Block) Height() uint64 {
	return b.body.Height
}

// Payload returns the ledger payload.
func (b *Block) Payload() []byte {
	return bytes.Clone(b.body.Payload)
}

// LastCommit returns the pre-commit certificate of the previous height.
func (b *Block) LastCommit() []*bft.Vote {
	return append([]*bft.Vote(nil), b.body.LastCommit...)
}

// Evidence returns the faults to enforce when the block finalizes.
func (b *Block) Evidence() []*evidence.Evidence {
	return append([]*evidence.Evidence(nil), b.body.Evidence...)
}

// Transactions returns the transactions to apply when the block finalizes.
func (b *Block) Transactions() tx.Transactions {
	return b.body.Txs.Copy()
}

// Signers returns the distinct validators of the last commit, in order.
func (b *Block) Signers() []core.Address {
	seen := make(map[core.Address]bool, len(b.body.LastCommit))
	out := make([]core.Address, 0, len(b.body.LastCommit))
	for _, v := range b.body.LastCommit {
		if !seen[v.Validator] {
			seen[v.Validator] = true
			out = append(out, v.Validator)
		}
	}
	return out
}

// Encode returns the wire form of the block.
func (b *Block) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(b)
}

// Decode parses the wire form of a block.
func Decode(data []byte) (*Block, error) {
	if len(data) > MaxSize {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithMsg("block of %d bytes", len(data))
	}
	var b Block
	if err := rlp.DecodeBytes(data, &b); err != nil {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithCause(err)
	}
	return &b, nil
}

// EncodeRLP implements rlp.Encoder.
func (b *Block) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &b.body)
}

// DecodeRLP implements rlp.Decoder.
func (b *Block) DecodeRLP(s *rlp.Stream) error {
	var body body
	if err := s.Decode(&body); err != nil {
		return err
	}
	*b = Block{body: body}
	return nil
}
