// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package block

import (
	"bytes"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/evidence"
	"github.com/vechain/mpbft/tx"
)

// Builder to make it easy to build a block object.
type Builder struct {
	body body
}

// Height sets the height.
func (b *Builder) Height(h uint64) *Builder {
	b.body.Height = h
	return b
}

// Payload sets the ledger payload.
func (b *Builder) Payload(p []byte) *Builder {
	b.body.Payload = bytes.Clone(p)
	return b
}

// LastCommit sets the certificate of the previous height.
func (b *Builder) LastCommit(votes []*bft.Vote) *Builder {
	b.body.LastCommit = append([]*bft.Vote(nil), votes...)
	return b
}

// Evidence adds evidence.
func (b *Builder) Evidence(ev ...*evidence.Evidence) *Builder {
	b.body.Evidence = append(b.body.Evidence, ev...)
	return b
}

// Transaction adds a transaction.
func (b *Builder) Transaction(t *tx.Transaction) *Builder {
	b.body.Txs = append(b.body.Txs, t)
	return b
}

// Build builds the block.
func (b *Builder) Build() *Block {
	return &Block{body: b.body}
}
