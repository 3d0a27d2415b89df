// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vechain/mpbft/archive"
	"github.com/vechain/mpbft/block"
	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/comm"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/scoring"
	"github.com/vechain/mpbft/tx"
)

// heightContext is what one height is decided against.
type heightContext struct {
	height    uint64
	weights   *scoring.WeightTable
	proposers map[uint64]core.Address
	rotation  *bft.Rotation
}

// proposer memoizes the rotation. Only the consensus goroutine calls it.
func (hc *heightContext) proposer(round uint64) core.Address {
	if id, ok := hc.proposers[round]; ok {
		return id
	}
	id := hc.rotation.Proposer(hc.weights, round)
	hc.proposers[round] = id
	return id
}

func (n *Node) runHeight(ctx context.Context, height uint64) error {
	events, err := n.registry.Advance(height)
	if err != nil {
		return err
	}
	if err := n.applyLifecycle(events); err != nil {
		return err
	}
	weights, err := n.scorer.ScoreAll(ctx, n.registry.Snapshot(), scoring.NewRoundContext(n.params.Snapshot(), height))
	if err != nil {
		return err
	}
	if weights.Total() == 0 {
		return core.NewError(core.FatalError, core.NotEligible).WithMsg("no voting weight at height %d", height)
	}
	n.detector.ObserveProofFailures(height, weights.Invalid)
	n.detector.Prune(height)
	metricWeight().Set(int64(weights.Of(n.self)))

	hc := &heightContext{
		height:    height,
		weights:   weights,
		proposers: make(map[uint64]core.Address),
		rotation:  n.rotation,
	}
	machine := bft.NewMachine(bft.Config{
		Height:    height,
		Self:      n.self,
		Weights:   weights,
		Proposer:  hc.proposer,
		MaxRounds: n.params.Get(params.MaxRoundsPerHeight),
		Validate: func(p *bft.Proposal) bool {
			if err := n.validateProposal(hc, p); err != nil {
				metricInvalidBlocks().AddWithLabel(1, map[string]string{"code": string(core.CodeOf(err))})
				logger.Info("rejected proposed block", "height", p.Height, "round", p.Round, "proposer", p.Proposer, "err", err)
				return false
			}
			return true
		},
	})

	var ctrl *bft.Controller
	ctrl = bft.NewController(machine, n.clock, n.cfg.Timeouts, n.cfg.InboxSize, func(a bft.Action) []bft.Event {
		return n.perform(ctrl, hc, a)
	})
	n.activate(ctrl)

	f, err := ctrl.Run(ctx)
	if err != nil {
		return err
	}
	return n.finalize(hc, f)
}

// activate makes ctrl current and replays the messages buffered for its height.
func (n *Node) activate(ctrl *bft.Controller) {
	n.mu.Lock()
	defer n.mu.Unlock()

	height := ctrl.Height()
	n.ctrl = ctrl
	n.height = height
	for h := range n.future {
		if h < height {
			delete(n.future, h)
		}
	}
	buffered := n.future[height]
	delete(n.future, height)
	for _, ev := range buffered {
		ctrl.Submit(ev)
	}
	metricHeight().Set(int64(height))
	logger.Debug("height started", "height", height, "buffered", len(buffered))
}

// perform executes controller actions on the consensus goroutine.
func (n *Node) perform(ctrl *bft.Controller, hc *heightContext, a bft.Action) []bft.Event {
	switch a := a.(type) {
	case bft.Propose:
		p, err := n.propose(hc, a)
		if err != nil {
			if core.IsFatal(err) {
				ctrl.Halt(err)
			}
			logger.Warn("failed to propose", "height", a.Height, "round", a.Round, "err", err)
			return nil
		}
		n.emitRound(&RoundEvent{Kind: RoundProposal, Height: p.Height, Round: p.Round, Validator: p.Proposer, BlockHash: &p.BlockHash})
		return []bft.Event{bft.ProposalEvent{Proposal: p}}

	case bft.Broadcast:
		vote := *a.Vote
		if err := n.signer.SignVote(&vote); err != nil {
			logger.Error("failed to sign vote", "vote", &vote, "err", err)
			return nil
		}
		n.observeVote(&vote)
		n.publish(comm.RoundMessage{From: n.self, Vote: &vote})
		n.emitRound(voteEvent(&vote))
		return []bft.Event{bft.VoteEvent{Vote: &vote}}

	case bft.Evidence:
		n.detector.ReportUnavailable(a.Validator, a.Height, a.Round)

	case bft.RoundFailed:
		n.detector.ObserveProposerTurn(a.Proposer, a.Height, a.Round, a.Proposed)
		rec := &archive.Record{
			Height:   a.Height,
			Round:    a.Round,
			Proposer: a.Proposer,
			Proposed: a.Proposed,
			Outcome:  archive.Failed,
		}
		if err := n.archive.Put(rec); err != nil {
			logger.Error("failed to archive round", "height", a.Height, "round", a.Round, "err", err)
			if core.IsFatal(err) {
				ctrl.Halt(err)
			}
		}
		n.emitRound(&RoundEvent{Kind: RoundFailed, Height: a.Height, Round: a.Round, Validator: a.Proposer})

	case bft.Finalize:
		n.emitRound(&RoundEvent{Kind: RoundCommitted, Height: a.Height, Round: a.Round, BlockHash: &a.BlockHash})
	}
	return nil
}

// propose signs and publishes the proposal of a round, building a new block
// unless a locked one must be re-proposed.
func (n *Node) propose(hc *heightContext, a bft.Propose) (*bft.Proposal, error) {
	data := a.Block
	if data == nil {
		blk, err := n.buildBlock(hc)
		if err != nil {
			return nil, err
		}
		if data, err = blk.Encode(); err != nil {
			return nil, err
		}
	}
	p := &bft.Proposal{
		Height:    a.Height,
		Round:     a.Round,
		Proposer:  n.self,
		BlockHash: core.Blake2b(data),
		Block:     data,
		POLRound:  a.POLRound,
	}
	if err := n.signer.SignProposal(p); err != nil {
		return nil, err
	}
	n.publish(comm.RoundMessage{From: n.self, Proposal: p})
	logger.Debug("proposed", "height", p.Height, "round", p.Round, "hash", p.BlockHash, "relock", a.Block != nil)
	return p, nil
}

// buildBlock packs the ledger payload with the previous certificate, pending
// evidence and pooled transactions.
func (n *Node) buildBlock(hc *heightContext) (*block.Block, error) {
	payload, err := n.ledger.BlockTemplate(hc.height)
	if err != nil {
		return nil, errors.Wrap(err, "block template")
	}
	b := new(block.Builder).Height(hc.height).Payload(payload)
	if last := n.last; last != nil && last.height+1 == hc.height {
		b.LastCommit(last.commits)
	}

	severities := n.params.Snapshot()
	count := 0
	for _, ev := range n.detector.Pending() {
		if count == block.MaxEvidence {
			break
		}
		if ev.Height > hc.height {
			continue
		}
		if applied, err := n.enforcer.IsApplied(ev.ID()); err != nil || applied {
			continue
		}
		if err := n.confirmFault(ev); err != nil {
			logger.Debug("skipped pending evidence", "evidence", ev, "err", err)
			continue
		}
		cpy := *ev
		cpy.Severity = core.Ratio(severities.Get(ev.Type.SeverityKey()))
		b.Evidence(&cpy)
		count++
	}

	count = 0
	for _, t := range n.txPool.Executables(0) {
		if count == block.MaxTxs {
			break
		}
		if err := n.checkTx(t); err != nil {
			logger.Debug("skipped pooled tx", "id", t.ID(), "err", err)
			n.txPool.Remove(t.ID())
			continue
		}
		b.Transaction(t)
		count++
	}
	return b.Build(), nil
}

// checkTx reports whether t may go into a block.
func (n *Node) checkTx(t *tx.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return n.admitTx(t)
}

// observeVote feeds the detector and relays any double vote it finds. The
// relay runs apart since the transport blocks until every receiver, this
// node's receive loop included, has taken the message.
func (n *Node) observeVote(v *bft.Vote) {
	if ev := n.detector.ObserveVote(v); ev != nil && ev.Type == evidence.DoubleVote {
		n.goes.Go(func() { n.publish(comm.RoundMessage{From: n.self, Evidence: ev}) })
	}
}

func (n *Node) publish(msg comm.RoundMessage) {
	if err := n.transport.Publish(msg); err != nil {
		logger.Warn("failed to publish", "kind", msg.Kind(), "height", msg.Height(), "err", err)
	}
}
