// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import (
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/archive"
	"github.com/vechain/mpbft/block"
	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
)

func invalidBlock(format string, args ...any) *core.Error {
	return core.NewError(core.ValidationError, core.MalformedMessage).WithMsg(format, args...)
}

// validateProposal is the local validity check voters apply before pre-voting
// a proposed block.
func (n *Node) validateProposal(hc *heightContext, p *bft.Proposal) error {
	if core.Blake2b(p.Block) != p.BlockHash {
		return invalidBlock("block hash mismatch")
	}
	blk, err := block.Decode(p.Block)
	if err != nil {
		return err
	}
	if blk.Height() != hc.height {
		return invalidBlock("block height %d, want %d", blk.Height(), hc.height)
	}
	if pv, ok := n.ledger.(PayloadValidator); ok {
		if err := pv.ValidatePayload(hc.height, blk.Payload()); err != nil {
			return invalidBlock("payload rejected").WithCause(err)
		}
	}
	if err := n.validateLastCommit(hc.height, blk.LastCommit()); err != nil {
		return err
	}
	if err := n.validateEvidence(hc.height, blk.Evidence()); err != nil {
		return err
	}
	return n.validateTxs(blk)
}

// validateLastCommit checks the certificate of the previous height: signed
// pre-commits of one round for the finalized hash, carrying a quorum when the
// previous weights are known.
func (n *Node) validateLastCommit(height uint64, votes []*bft.Vote) error {
	last := n.last
	if height == 1 || last == nil {
		if height == 1 && len(votes) > 0 {
			return invalidBlock("certificate at the first height")
		}
		if last == nil {
			// resumed without an archived certificate
			return nil
		}
	}
	if len(votes) == 0 {
		return invalidBlock("missing certificate of height %d", height-1)
	}

	seen := make(map[core.Address]bool, len(votes))
	var weight uint64
	for _, v := range votes {
		switch {
		case v.Height != last.height || v.Phase != bft.PhasePreCommit:
			return invalidBlock("certificate vote %s", v)
		case v.Round != votes[0].Round:
			return invalidBlock("certificate spans rounds")
		case v.BlockHash == nil || *v.BlockHash != last.hash:
			return invalidBlock("certificate vote for another block")
		case seen[v.Validator]:
			return invalidBlock("duplicate certificate vote by %s", v.Validator)
		}
		seen[v.Validator] = true
		if err := n.verifier.VerifyVote(v); err != nil {
			return core.NewError(core.ValidationError, core.InvalidSignature).WithValidator(v.Validator).WithCause(err)
		}
		if last.weights != nil {
			if !last.weights.Has(v.Validator) {
				return invalidBlock("certificate vote by non-member %s", v.Validator)
			}
			weight += last.weights.Of(v.Validator)
		}
	}
	if last.weights != nil && weight < bft.Quorum(last.weights.Total()) {
		return invalidBlock("certificate weight %d below quorum", weight)
	}
	return nil
}

// validateEvidence checks block evidence. Double votes carry their own proof.
// Unavailability and invalid proofs are accepted only when this replica
// observed the same fault.
func (n *Node) validateEvidence(height uint64, list []*evidence.Evidence) error {
	if len(list) > block.MaxEvidence {
		return invalidBlock("%d evidence items", len(list))
	}
	severities := n.params.Snapshot()
	seen := make(map[core.Bytes32]bool, len(list))
	for _, ev := range list {
		id := ev.ID()
		if seen[id] {
			return invalidBlock("duplicate evidence %s", id.AbbrevString())
		}
		seen[id] = true

		if ev.Height > height {
			return invalidBlock("evidence from height %d", ev.Height)
		}
		if ev.Severity != core.Ratio(severities.Get(ev.Type.SeverityKey())) {
			return invalidBlock("evidence severity %s", ev.Severity)
		}
		if applied, err := n.enforcer.IsApplied(id); err != nil {
			return err
		} else if applied {
			return core.NewError(core.ValidationError, core.AlreadyApplied).WithValidator(ev.Validator).WithMsg("evidence %s", id.AbbrevString())
		}
		if _, err := n.registry.Get(ev.Validator); err != nil {
			return err
		}

		if err := n.confirmFault(ev); err != nil {
			return err
		}
	}
	return nil
}

// confirmFault checks a fault against this replica's own observations: the
// archived failed round for unavailability, the held proof for an invalid
// proof.
func (n *Node) confirmFault(ev *evidence.Evidence) error {
	switch ev.Type {
	case evidence.DoubleVote:
		_, err := n.detector.Verify(ev)
		return err
	case evidence.Unavailability:
		if len(ev.Votes) > 0 {
			return invalidBlock("%s evidence carries votes", ev.Type)
		}
		rec, err := n.archive.Get(ev.Height, ev.Round)
		if err != nil {
			if errors.Is(err, archive.ErrNotFound) {
				return unobserved(ev)
			}
			return err
		}
		if rec.Outcome != archive.Failed || rec.Proposed || rec.Proposer != ev.Validator {
			return unobserved(ev)
		}
		return nil
	case evidence.InvalidProof:
		if len(ev.Votes) > 0 {
			return invalidBlock("%s evidence carries votes", ev.Type)
		}
		if ev.Height < ev.ProofRound {
			return invalidBlock("%s evidence dated before the proof", ev.Type)
		}
		// the detector knows failures seen while scoring, even after the
		// proof was replaced
		if !n.detector.Known(ev.ID()) && !n.scorer.Rejects(ev.Validator, ev.ProofKind, ev.ProofRound) {
			return unobserved(ev)
		}
		return nil
	default:
		return invalidBlock("evidence type %d", ev.Type)
	}
}

func unobserved(ev *evidence.Evidence) *core.Error {
	return core.NewError(core.ValidationError, core.NotEligible).WithValidator(ev.Validator).WithMsg("%s not observed locally", ev)
}

func (n *Node) validateTxs(blk *block.Block) error {
	txs := blk.Transactions()
	if len(txs) > block.MaxTxs {
		return invalidBlock("%d transactions", len(txs))
	}
	seen := make(map[core.Bytes32]bool, len(txs))
	for _, t := range txs {
		if seen[t.ID()] {
			return invalidBlock("duplicate tx %s", t.ID().AbbrevString())
		}
		seen[t.ID()] = true
		if err := n.checkTx(t); err != nil {
			return err
		}
	}
	return nil
}
