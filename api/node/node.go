// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/vechain/mpbft/api/utils"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/node"
)

// Status is the API view of the node summary.
type Status struct {
	Self        *core.Address `json:"self"`
	Height      uint64        `json:"height"`
	Finalized   uint64        `json:"finalized"`
	Round       uint64        `json:"round"`
	Phase       string        `json:"phase,omitempty"`
	Mode        string        `json:"mode"`
	Validators  int           `json:"validators"`
	PendingTxs  int           `json:"pendingTxs"`
	Halted      bool          `json:"halted"`
	HaltMessage string        `json:"haltMessage,omitempty"`
}

// Param is one live parameter.
type Param struct {
	Key   string `json:"key"`
	Value uint64 `json:"value"`
}

// Treasury reports spendable and reserved balances.
type Treasury struct {
	Balance uint64 `json:"balance"`
	Pending uint64 `json:"pending"`
}

type Node struct {
	node *node.Node
}

func New(n *node.Node) *Node {
	return &Node{node: n}
}

func (n *Node) handleStatus(w http.ResponseWriter, _ *http.Request) error {
	s := n.node.Status()
	out := &Status{
		Height:      s.Height,
		Finalized:   s.Finalized,
		Round:       s.Round,
		Mode:        s.Mode.String(),
		Validators:  s.Validators,
		PendingTxs:  s.PendingTxs,
		Halted:      s.Halted,
		HaltMessage: s.HaltMessage,
	}
	if !s.Self.IsZero() {
		out.Self = &s.Self
	}
	if s.Phase != 0 {
		out.Phase = s.Phase.String()
	}
	return utils.WriteJSON(w, out)
}

func (n *Node) handleParams(w http.ResponseWriter, _ *http.Request) error {
	all := n.node.Params()
	out := make([]*Param, 0, len(all))
	for k, v := range all {
		out = append(out, &Param{Key: string(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return utils.WriteJSON(w, out)
}

func (n *Node) handleTreasury(w http.ResponseWriter, _ *http.Request) error {
	balance, pending := n.node.Treasury()
	return utils.WriteJSON(w, &Treasury{Balance: balance, Pending: pending})
}

func (n *Node) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/status").
		Methods(http.MethodGet).
		Name("GET /node/status").
		HandlerFunc(utils.WrapHandlerFunc(n.handleStatus))
	sub.Path("/params").
		Methods(http.MethodGet).
		Name("GET /node/params").
		HandlerFunc(utils.WrapHandlerFunc(n.handleParams))
	sub.Path("/treasury").
		Methods(http.MethodGet).
		Name("GET /node/treasury").
		HandlerFunc(utils.WrapHandlerFunc(n.handleTreasury))
}
