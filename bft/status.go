// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package bft

import "github.com/vechain/mpbft/core"

// RoundStatus is a point in time view of a height's current round.
type RoundStatus struct {
	Height          uint64
	Round           uint64
	Phase           Phase
	Proposer        core.Address
	Quorum          uint64
	Total           uint64
	Proposal        *core.Bytes32
	PreVoteWeight   uint64
	PreCommitWeight uint64
	PreVotes        []*Vote
	PreCommits      []*Vote
	Locked          *core.Bytes32
	Committed       *core.Bytes32
	Halted          bool
}
