// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package types

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/registry"
)

// Validator is the API view of a validator record. Commission is in ppm.
type Validator struct {
	ID              core.Address  `json:"id"`
	Stake           uint64        `json:"stake"`
	Storage         uint64        `json:"storage"`
	Commission      uint64        `json:"commission"`
	Status          string        `json:"status"`
	Reputation      uint64        `json:"reputation"`
	RegisteredRound uint64        `json:"registeredRound"`
	LastActiveRound uint64        `json:"lastActiveRound"`
	JailedUntil     uint64        `json:"jailedUntil"`
	ExitRound       *uint64       `json:"exitRound"`
	UnbondRound     *uint64       `json:"unbondRound"`
	Slashed         uint64        `json:"slashed"`
	Genesis         bool          `json:"genesis"`
	ConsensusKey    hexutil.Bytes `json:"consensusKey"`
}

func ConvertValidator(v *registry.Validator) *Validator {
	return &Validator{
		ID:              v.ID(),
		Stake:           v.Stake(),
		Storage:         v.Storage(),
		Commission:      uint64(v.Commission()),
		Status:          registry.StatusString(v.Status()),
		Reputation:      v.Reputation(),
		RegisteredRound: v.RegisteredRound(),
		LastActiveRound: v.LastActiveRound(),
		JailedUntil:     v.JailedUntil(),
		ExitRound:       v.ExitRound(),
		UnbondRound:     v.UnbondRound(),
		Slashed:         v.Slashed(),
		Genesis:         v.IsGenesis(),
		ConsensusKey:    v.ConsensusKey(),
	}
}

// TxResponse carries the id of a submitted transaction.
type TxResponse struct {
	ID core.Bytes32 `json:"id"`
}
