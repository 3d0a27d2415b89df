// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package types

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/node"
	"github.com/vechain/mpbft/tx"
)

// RawTx is a hex encoded signed transaction.
type RawTx struct {
	Raw hexutil.Bytes `json:"raw"`
}

// Receipt is the outcome of an applied transaction.
type Receipt struct {
	TxID     core.Bytes32  `json:"txID"`
	Kind     string        `json:"kind"`
	Origin   core.Address  `json:"origin"`
	Height   uint64        `json:"height"`
	Reverted bool          `json:"reverted"`
	Error    string        `json:"error,omitempty"`
	Proposal *core.Bytes32 `json:"proposal,omitempty"`
}

func ConvertReceipt(r *node.Receipt) *Receipt {
	out := &Receipt{
		TxID:     r.TxID,
		Kind:     r.Kind.String(),
		Origin:   r.Origin,
		Height:   r.Height,
		Reverted: r.Reverted,
		Error:    r.Error,
	}
	if !r.Proposal.IsZero() {
		id := r.Proposal
		out.Proposal = &id
	}
	return out
}

// PendingTx is a transaction waiting in the pool.
type PendingTx struct {
	ID      core.Bytes32 `json:"id"`
	Kind    string       `json:"kind"`
	Origin  core.Address `json:"origin"`
	Nonce   uint64       `json:"nonce"`
	Pending bool         `json:"pending"`
}

func ConvertPendingTx(t *tx.Transaction) *PendingTx {
	return &PendingTx{
		ID:      t.ID(),
		Kind:    t.Kind().String(),
		Origin:  t.Origin(),
		Nonce:   t.Nonce(),
		Pending: true,
	}
}
