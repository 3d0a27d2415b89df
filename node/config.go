// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vechain/mpbft/archive"
	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/rewards"
	"github.com/vechain/mpbft/txpool"
)

// GenesisValidator is a validator admitted before the first height.
type GenesisValidator struct {
	ID           core.Address  `yaml:"id"`
	Stake        uint64        `yaml:"stake"`
	Storage      uint64        `yaml:"storage"`
	ConsensusKey hexutil.Bytes `yaml:"consensus-key"`
	Commission   core.Ratio    `yaml:"commission"`
}

// Config configures a node. Every replica of a network must agree on Genesis
// and Params.
type Config struct {
	Genesis []GenesisValidator    `yaml:"genesis"`
	Params  map[params.Key]uint64 `yaml:"params"`

	Timeouts      bft.Timeouts   `yaml:"timeouts"`
	InboxSize     int            `yaml:"inbox-size"`
	BlockInterval time.Duration  `yaml:"block-interval"` // minimum time between heights
	FutureHeights uint64         `yaml:"future-heights"` // heights ahead whose messages are buffered
	Rewards       rewards.Config `yaml:"rewards"`
	AuditWindow   uint64         `yaml:"audit-window"`
	TxPool        txpool.Options `yaml:"txpool"`
}

// DefaultConfig returns the default node config without genesis validators.
func DefaultConfig() Config {
	return Config{
		Timeouts:      bft.DefaultTimeouts(),
		InboxSize:     bft.DefaultInboxSize,
		BlockInterval: time.Second,
		FutureHeights: 4,
		Rewards:       rewards.DefaultConfig(),
		AuditWindow:   archive.DefaultAuditWindow,
		TxPool:        txpool.DefaultOptions(),
	}
}
