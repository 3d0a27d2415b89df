// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proposals

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/api/utils"
	"github.com/vechain/mpbft/api/utils/types"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/governance"
	"github.com/vechain/mpbft/node"
)

type Proposals struct {
	node *node.Node
}

func New(n *node.Node) *Proposals {
	return &Proposals{node: n}
}

func parseID(req *http.Request) (core.Bytes32, error) {
	id, err := core.ParseBytes32(mux.Vars(req)["id"])
	if err != nil {
		return core.Bytes32{}, utils.BadRequest(errors.WithMessage(err, "id"))
	}
	return id, nil
}

func (p *Proposals) handleGetProposals(w http.ResponseWriter, _ *http.Request) error {
	list := p.node.Proposals()
	out := make([]*types.Proposal, 0, len(list))
	for _, prop := range list {
		out = append(out, types.ConvertProposal(prop))
	}
	return utils.WriteJSON(w, out)
}

func (p *Proposals) handleGetProposal(w http.ResponseWriter, req *http.Request) error {
	id, err := parseID(req)
	if err != nil {
		return err
	}
	prop, err := p.node.Proposal(id)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, types.ConvertProposal(prop))
}

// handlePostProposal submits a proposal signed by the node key. The proposal
// id is in the receipt of the returned transaction.
func (p *Proposals) handlePostProposal(w http.ResponseWriter, req *http.Request) error {
	var body types.Change
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	change, err := body.Decode()
	if err != nil {
		return utils.BadRequest(err)
	}
	txID, err := p.node.SubmitProposal(change)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &types.TxResponse{ID: txID})
}

func (p *Proposals) handlePostSponsor(w http.ResponseWriter, req *http.Request) error {
	id, err := parseID(req)
	if err != nil {
		return err
	}
	if _, err := p.node.Proposal(id); err != nil {
		return err
	}
	txID, err := p.node.SponsorProposal(id)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &types.TxResponse{ID: txID})
}

func (p *Proposals) handlePostBallot(w http.ResponseWriter, req *http.Request) error {
	id, err := parseID(req)
	if err != nil {
		return err
	}
	var body types.BallotRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	choice, err := governance.ParseChoice(body.Choice)
	if err != nil {
		return utils.BadRequest(err)
	}
	if _, err := p.node.Proposal(id); err != nil {
		return err
	}
	txID, err := p.node.SubmitBallot(id, choice)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &types.TxResponse{ID: txID})
}

func (p *Proposals) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").
		Methods(http.MethodGet).
		Name("GET /proposals").
		HandlerFunc(utils.WrapHandlerFunc(p.handleGetProposals))
	sub.Path("").
		Methods(http.MethodPost).
		Name("POST /proposals").
		HandlerFunc(utils.WrapHandlerFunc(p.handlePostProposal))
	sub.Path("/{id}").
		Methods(http.MethodGet).
		Name("GET /proposals/{id}").
		HandlerFunc(utils.WrapHandlerFunc(p.handleGetProposal))
	sub.Path("/{id}/sponsors").
		Methods(http.MethodPost).
		Name("POST /proposals/{id}/sponsors").
		HandlerFunc(utils.WrapHandlerFunc(p.handlePostSponsor))
	sub.Path("/{id}/ballots").
		Methods(http.MethodPost).
		Name("POST /proposals/{id}/ballots").
		HandlerFunc(utils.WrapHandlerFunc(p.handlePostBallot))
}
