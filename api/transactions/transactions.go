// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package transactions

import (
	"net/http"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/api/utils"
	"github.com/vechain/mpbft/api/utils/types"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/node"
	"github.com/vechain/mpbft/tx"
)

type Transactions struct {
	node *node.Node
}

func New(n *node.Node) *Transactions {
	return &Transactions{node: n}
}

func (t *Transactions) handleSendTransaction(w http.ResponseWriter, req *http.Request) error {
	var raw types.RawTx
	if err := utils.ParseJSON(req.Body, &raw); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	var trx tx.Transaction
	if err := rlp.DecodeBytes(raw.Raw, &trx); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "raw"))
	}
	id, err := t.node.SubmitTx(&trx)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &types.TxResponse{ID: id})
}

// handleGetTransaction returns the receipt of an applied tx, or the pooled tx
// while it waits for a block.
func (t *Transactions) handleGetTransaction(w http.ResponseWriter, req *http.Request) error {
	id, err := core.ParseBytes32(mux.Vars(req)["id"])
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "id"))
	}
	receipt, err := t.node.Receipt(id)
	switch {
	case err == nil:
		return utils.WriteJSON(w, types.ConvertReceipt(receipt))
	case !errors.Is(err, node.ErrNotFound):
		return err
	}
	if pending := t.node.PendingTx(id); pending != nil {
		return utils.WriteJSON(w, types.ConvertPendingTx(pending))
	}
	return utils.NotFound(errors.Errorf("tx %s not known", id.AbbrevString()))
}

func (t *Transactions) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").
		Methods(http.MethodPost).
		Name("POST /transactions").
		HandlerFunc(utils.WrapHandlerFunc(t.handleSendTransaction))
	sub.Path("/{id}").
		Methods(http.MethodGet).
		Name("GET /transactions/{id}").
		HandlerFunc(utils.WrapHandlerFunc(t.handleGetTransaction))
}
