// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import (
	"context"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/comm"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/registry"
	"github.com/vechain/mpbft/txpool"
)

// receiveLoop never blocks on consensus, since the transport waits for every
// subscriber to take a message.
func (n *Node) receiveLoop(ctx context.Context, ch <-chan comm.RoundMessage) {
	logger.Debug("enter receive loop")
	defer logger.Debug("leave receive loop")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			n.handleMessage(&msg)
		}
	}
}

func (n *Node) handleMessage(msg *comm.RoundMessage) {
	if !n.self.IsZero() && msg.From == n.self {
		return
	}
	metricMessages().AddWithLabel(1, map[string]string{"kind": msg.Kind()})

	switch {
	case msg.Vote != nil:
		if err := n.acceptVote(msg.Vote); err != nil {
			n.drop(msg, err)
		}
	case msg.Proposal != nil:
		if err := n.acceptProposal(msg.Proposal); err != nil {
			n.drop(msg, err)
		}
	case msg.Evidence != nil:
		if _, err := n.detector.Submit(msg.Evidence); err != nil {
			n.drop(msg, err)
		}
	case msg.Tx != nil:
		if err := n.txPool.Add(msg.Tx); err != nil && !txpool.IsErrKnownTx(err) {
			n.drop(msg, err)
		}
	}
}

func (n *Node) drop(msg *comm.RoundMessage, err error) {
	code := string(core.CodeOf(err))
	if code == "" {
		code = "other"
	}
	metricDropped().AddWithLabel(1, map[string]string{"kind": msg.Kind(), "code": code})
	logger.Trace("dropped message", "kind", msg.Kind(), "from", msg.From, "height", msg.Height(), "err", err)
}

func (n *Node) acceptVote(v *bft.Vote) error {
	if err := n.verifier.VerifyVote(v); err != nil {
		return core.NewError(core.ValidationError, core.InvalidSignature).WithValidator(v.Validator).WithCause(err)
	}
	n.observeVote(v)
	n.emitRound(voteEvent(v))
	return n.deliver(bft.VoteEvent{Vote: v}, v.Height)
}

func (n *Node) acceptProposal(p *bft.Proposal) error {
	if err := n.verifier.VerifyProposal(p); err != nil {
		return core.NewError(core.ValidationError, core.InvalidSignature).WithValidator(p.Proposer).WithCause(err)
	}
	return n.deliver(bft.ProposalEvent{Proposal: p}, p.Height)
}

// deliver hands ev to the current controller, or buffers it when it belongs to
// one of the next FutureHeights heights.
func (n *Node) deliver(ev bft.Event, height uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ctrl != nil && height == n.ctrl.Height() {
		if !n.ctrl.Submit(ev) {
			return core.NewError(core.ResourceError, core.StorageFailure).WithMsg("inbox full")
		}
		return nil
	}
	if height < n.height {
		return core.NewError(core.ValidationError, core.StaleMessage).WithMsg("height %d below %d", height, n.height)
	}
	if height > n.height+n.cfg.FutureHeights {
		return core.NewError(core.ValidationError, core.StaleMessage).WithMsg("height %d too far ahead of %d", height, n.height)
	}
	if len(n.future[height]) >= maxFutureMessages {
		return core.NewError(core.ResourceError, core.StorageFailure).WithMsg("future buffer of height %d full", height)
	}
	n.future[height] = append(n.future[height], ev)
	return nil
}

// txLoop relays admitted transactions to the other replicas.
func (n *Node) txLoop(ctx context.Context, ch <-chan *txpool.TxEvent) {
	logger.Debug("enter tx loop")
	defer logger.Debug("leave tx loop")

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			n.publish(comm.RoundMessage{From: n.self, Tx: ev.Tx})
		}
	}
}

func (n *Node) registryLoop(ctx context.Context, ch <-chan registry.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			logger.Info("validator "+ev.Kind.String(), "id", ev.Validator, "stake", ev.Stake, "round", ev.Round)
		}
	}
}
