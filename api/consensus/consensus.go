// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package consensus

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/api/utils"
	"github.com/vechain/mpbft/api/utils/types"
	"github.com/vechain/mpbft/node"
)

// Consensus serves round state and accepts externally signed votes and
// double-vote evidence.
type Consensus struct {
	node *node.Node
}

func New(n *node.Node) *Consensus {
	return &Consensus{node: n}
}

func (c *Consensus) handleGetRounds(w http.ResponseWriter, req *http.Request) error {
	height, err := strconv.ParseUint(mux.Vars(req)["height"], 10, 64)
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "height"))
	}
	view, err := c.node.RoundStatus(height)
	if err != nil {
		if errors.Is(err, node.ErrNotFound) {
			return utils.NotFound(errors.Errorf("height %d not known", height))
		}
		return err
	}
	return utils.WriteJSON(w, types.ConvertRounds(view))
}

func (c *Consensus) handlePostVote(w http.ResponseWriter, req *http.Request) error {
	var body types.Vote
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	vote, err := body.Decode()
	if err != nil {
		return utils.BadRequest(err)
	}
	if err := c.node.SubmitVote(vote); err != nil {
		return err
	}
	return utils.WriteJSON(w, types.ConvertVote(vote))
}

func (c *Consensus) handlePostEvidence(w http.ResponseWriter, req *http.Request) error {
	var body types.EvidenceRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	ev, err := body.Decode()
	if err != nil {
		return utils.BadRequest(err)
	}
	canonical, err := c.node.SubmitEvidence(ev)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, types.ConvertEvidence(canonical))
}

// Mount registers the routes at the root, since rounds, votes and evidence
// are sibling resources.
func (c *Consensus) Mount(root *mux.Router) {
	root.Path("/rounds/{height:[0-9]+}").
		Methods(http.MethodGet).
		Name("GET /rounds/{height}").
		HandlerFunc(utils.WrapHandlerFunc(c.handleGetRounds))
	root.Path("/votes").
		Methods(http.MethodPost).
		Name("POST /votes").
		HandlerFunc(utils.WrapHandlerFunc(c.handlePostVote))
	root.Path("/evidence").
		Methods(http.MethodPost).
		Name("POST /evidence").
		HandlerFunc(utils.WrapHandlerFunc(c.handlePostEvidence))
}
