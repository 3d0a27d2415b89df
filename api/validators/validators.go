// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package validators

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/api/utils"
	"github.com/vechain/mpbft/api/utils/types"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/node"
	"github.com/vechain/mpbft/scoring"
)

// RegisterRequest registers the node key as a validator. Commission is in ppm.
type RegisterRequest struct {
	Stake      uint64 `json:"stake"`
	Storage    uint64 `json:"storage"`
	Commission uint64 `json:"commission"`
}

// StakeRequest changes the node validator's stake by delta.
type StakeRequest struct {
	Delta int64 `json:"delta"`
}

// ProofRequest publishes a storage or work proof of the node validator.
type ProofRequest struct {
	Kind  string        `json:"kind"`
	Round uint64        `json:"round"`
	Data  hexutil.Bytes `json:"data"`
}

var proofKinds = map[string]scoring.ProofKind{
	scoring.ProofStorage.String(): scoring.ProofStorage,
	scoring.ProofWork.String():    scoring.ProofWork,
}

type Validators struct {
	node *node.Node
}

func New(n *node.Node) *Validators {
	return &Validators{node: n}
}

func (v *Validators) handleGetValidators(w http.ResponseWriter, _ *http.Request) error {
	set := v.node.ValidatorSet()
	out := make([]*types.Validator, 0, len(set))
	for _, val := range set {
		out = append(out, types.ConvertValidator(val))
	}
	return utils.WriteJSON(w, out)
}

func (v *Validators) handleGetValidator(w http.ResponseWriter, req *http.Request) error {
	id, err := core.ParseAddress(mux.Vars(req)["id"])
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "id"))
	}
	val, err := v.node.Validator(id)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, types.ConvertValidator(val))
}

func (v *Validators) handleRegister(w http.ResponseWriter, req *http.Request) error {
	var body RegisterRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	if body.Commission > uint64(core.One) {
		return utils.BadRequest(errors.Errorf("commission %d above %d", body.Commission, core.One))
	}
	id, err := v.node.Register(body.Stake, body.Storage, core.Ratio(body.Commission))
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &types.TxResponse{ID: id})
}

func (v *Validators) handleExit(w http.ResponseWriter, _ *http.Request) error {
	id, err := v.node.RequestExit()
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &types.TxResponse{ID: id})
}

func (v *Validators) handleStake(w http.ResponseWriter, req *http.Request) error {
	var body StakeRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	if body.Delta == 0 {
		return utils.BadRequest(errors.New("delta must not be zero"))
	}
	id, err := v.node.UpdateStake(body.Delta)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &types.TxResponse{ID: id})
}

func (v *Validators) handleProof(w http.ResponseWriter, req *http.Request) error {
	var body ProofRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	kind, ok := proofKinds[body.Kind]
	if !ok {
		return utils.BadRequest(errors.Errorf("proof kind %q", body.Kind))
	}
	id, err := v.node.SubmitProof(kind, scoring.Proof{Round: body.Round, Data: body.Data})
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &types.TxResponse{ID: id})
}

func (v *Validators) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").
		Methods(http.MethodGet).
		Name("GET /validators").
		HandlerFunc(utils.WrapHandlerFunc(v.handleGetValidators))
	sub.Path("").
		Methods(http.MethodPost).
		Name("POST /validators").
		HandlerFunc(utils.WrapHandlerFunc(v.handleRegister))
	sub.Path("/self/exit").
		Methods(http.MethodPost).
		Name("POST /validators/self/exit").
		HandlerFunc(utils.WrapHandlerFunc(v.handleExit))
	sub.Path("/self/stake").
		Methods(http.MethodPost).
		Name("POST /validators/self/stake").
		HandlerFunc(utils.WrapHandlerFunc(v.handleStake))
	sub.Path("/self/proofs").
		Methods(http.MethodPost).
		Name("POST /validators/self/proofs").
		HandlerFunc(utils.WrapHandlerFunc(v.handleProof))
	sub.Path("/{id}").
		Methods(http.MethodGet).
		Name("GET /validators/{id}").
		HandlerFunc(utils.WrapHandlerFunc(v.handleGetValidator))
}
