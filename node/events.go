// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import (
	"context"

	"github.com/ethereum/go-ethereum/event"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
)

// RoundEventKind classifies round events.
type RoundEventKind string

const (
	RoundProposal  RoundEventKind = "proposal"
	RoundVote      RoundEventKind = "vote"
	RoundFailed    RoundEventKind = "failed"
	RoundCommitted RoundEventKind = "committed"
)

// RoundEvent is a progress notification for subscribers.
type RoundEvent struct {
	Kind      RoundEventKind `json:"kind"`
	Height    uint64         `json:"height"`
	Round     uint64         `json:"round"`
	Phase     string         `json:"phase,omitempty"`
	Validator core.Address   `json:"validator"`
	BlockHash *core.Bytes32  `json:"blockHash"`
}

func voteEvent(v *bft.Vote) *RoundEvent {
	return &RoundEvent{
		Kind:      RoundVote,
		Height:    v.Height,
		Round:     v.Round,
		Phase:     v.Phase.String(),
		Validator: v.Validator,
		BlockHash: v.BlockHash,
	}
}

// SubscribeRoundEvents receives round progress. Slow subscribers miss events;
// consensus is never held up.
func (n *Node) SubscribeRoundEvents(ch chan *RoundEvent) event.Subscription {
	return n.scope.Track(n.roundFeed.Subscribe(ch))
}

func (n *Node) emitRound(ev *RoundEvent) {
	select {
	case n.roundCh <- ev:
	default:
		metricRoundEventsDropped().Add(1)
	}
}

func (n *Node) roundEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.roundCh:
			n.roundFeed.Send(ev)
		}
	}
}
