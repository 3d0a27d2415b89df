// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import (
	"time"

	"github.com/pkg/errors"

	"github.com/vechain/mpbft/archive"
	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/block"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/slashing"
	"github.com/vechain/mpbft/tx"
)

// Receipt is the outcome of an applied transaction.
type Receipt struct {
	TxID     core.Bytes32
	Kind     tx.Kind
	Origin   core.Address
	Height   uint64
	Reverted bool
	Error    string
	Proposal core.Bytes32 // id of the proposal a Propose tx created
}

func fatal(code core.Code, cause error) error {
	if core.IsFatal(cause) {
		return cause
	}
	return core.NewError(core.FatalError, code).WithCause(cause)
}

// finalize applies a finalized block. Any failure here leaves replicas
// diverged, so it halts the node.
func (n *Node) finalize(hc *heightContext, f *bft.Finalize) error {
	start := time.Now()
	if f.Block == nil {
		return core.NewError(core.FatalError, core.MalformedMessage).WithMsg("height %d finalized without block content", f.Height)
	}
	blk, err := block.Decode(f.Block)
	if err != nil {
		return fatal(core.MalformedMessage, err)
	}
	if err := n.ledger.FinalizedBlock(f.Height, f.BlockHash, blk.Payload(), f.Commits); err != nil {
		return fatal(core.StorageFailure, errors.Wrap(err, "ledger"))
	}

	// participants of this height signed the certificate of the previous one
	participants := blk.Signers()
	if len(participants) > 0 {
		if err := n.registry.RecordActivity(participants, f.Height); err != nil {
			return fatal(core.StorageFailure, err)
		}
	}
	if _, err := n.rewards.Distribute(f.Height, hc.weights, participants); err != nil {
		if core.IsFatal(err) {
			return err
		}
		logger.Warn("rewards not distributed", "height", f.Height, "err", err)
	}

	applied, faulted, err := n.applyEvidence(f.Height, blk)
	if err != nil {
		return err
	}
	if _, err := n.gov.Tick(f.Height); err != nil {
		return fatal(core.StorageFailure, err)
	}
	if err := n.applyTxs(f.Height, blk.Transactions()); err != nil {
		return err
	}

	proposer := hc.proposer(f.Round)
	n.detector.ObserveProposerTurn(proposer, f.Height, f.Round, true)

	hash := f.BlockHash
	rec := &archive.Record{
		Height:    f.Height,
		Round:     f.Round,
		Proposer:  proposer,
		Proposed:  true,
		Outcome:   archive.Committed,
		BlockHash: &hash,
		Commits:   f.Commits,
		Evidence:  applied,
		Faulted:   faulted,
	}
	if err := n.archive.Put(rec); err != nil {
		return fatal(core.StorageFailure, err)
	}
	n.rotation.Advance(hc.weights, f.Round)
	if err := n.archive.SaveHead(archive.Head{Height: f.Height, Round: f.Round, BlockHash: hash}, n.rotation.Entries()); err != nil {
		return fatal(core.StorageFailure, err)
	}
	if _, err := n.archive.Prune(f.Height); err != nil {
		logger.Warn("failed to prune archive", "height", f.Height, "err", err)
	}

	n.last = &lastCommit{
		height:  f.Height,
		round:   f.Round,
		hash:    hash,
		commits: f.Commits,
		weights: hc.weights,
	}
	metricFinalizeDuration().Observe(time.Since(start).Milliseconds())
	logger.Info("block finalized",
		"height", f.Height,
		"round", f.Round,
		"hash", hash.AbbrevString(),
		"commits", len(f.Commits),
		"evidence", len(blk.Evidence()),
		"txs", len(blk.Transactions()),
		"elapsed", time.Since(start))
	return nil
}

// applyEvidence enforces the block evidence and returns the applied ids and
// the penalized validators.
func (n *Node) applyEvidence(height uint64, blk *block.Block) ([]core.Bytes32, []core.Address, error) {
	var (
		ids     []core.Bytes32
		applied []core.Bytes32
		faulted []core.Address
	)
	for _, ev := range blk.Evidence() {
		ids = append(ids, ev.ID())
		out, err := n.enforcer.Apply(ev)
		if err != nil {
			if core.IsFatal(err) {
				return nil, nil, err
			}
			logger.Warn("evidence not applied", "type", ev.Type, "validator", ev.Validator, "err", err)
			continue
		}
		metricEvidenceApplied().AddWithLabel(1, map[string]string{"type": ev.Type.String(), "outcome": out.Kind.String()})
		switch out.Kind {
		case slashing.Slashed, slashing.Jailed, slashing.ForcedExit:
			n.rewards.RecordFault(ev.Validator, height)
			faulted = append(faulted, ev.Validator)
			applied = append(applied, ev.ID())
		}
	}
	n.detector.Forget(ids...)
	return applied, faulted, nil
}

// applyTxs executes the block transactions in order and records a receipt
// for each. A rejected operation reverts only its own tx.
func (n *Node) applyTxs(height uint64, txs tx.Transactions) error {
	ids := make([]core.Bytes32, 0, len(txs))
	for _, t := range txs {
		ids = append(ids, t.ID())
		r := &Receipt{TxID: t.ID(), Kind: t.Kind(), Origin: t.Origin(), Height: height}
		if err := n.applyTx(t, r); err != nil {
			if core.IsFatal(err) {
				return err
			}
			r.Reverted = true
			r.Error = err.Error()
		}
		status := "ok"
		if r.Reverted {
			status = "reverted"
		}
		metricTxApplied().AddWithLabel(1, map[string]string{"kind": t.Kind().String(), "status": status})
		if err := kv.PutRLP(n.receipts, t.ID().Bytes(), r); err != nil {
			return fatal(core.StorageFailure, err)
		}
		logger.Debug("tx applied", "id", t.ID(), "kind", t.Kind(), "origin", t.Origin(), "reverted", r.Reverted, "err", r.Error)
	}
	n.txPool.Remove(ids...)
	return nil
}

func (n *Node) applyTx(t *tx.Transaction, r *Receipt) error {
	switch t.Kind() {
	case tx.Register:
		_, err := n.registry.Register(t.Origin(), t.Stake(), t.Storage(), t.ConsensusKey(), t.Commission(), false)
		return err
	case tx.Exit:
		return n.registry.Exit(t.Origin())
	case tx.Stake:
		_, err := n.registry.UpdateStake(t.Origin(), t.StakeDelta())
		return err
	case tx.Proof:
		if _, err := n.registry.Get(t.Origin()); err != nil {
			return err
		}
		kind, proof := t.Proof()
		if !n.scorer.Proofs().Submit(t.Origin(), kind, proof) {
			return core.NewError(core.ValidationError, core.StaleProof).WithValidator(t.Origin()).WithMsg("proof of round %d superseded", proof.Round)
		}
		if err := kv.PutRLP(n.proofs, proofKey(t.Origin(), kind), &proof); err != nil {
			return fatal(core.StorageFailure, err)
		}
		return nil
	case tx.Propose:
		p, err := n.gov.Submit(t.Origin(), t.Change())
		if err != nil {
			return err
		}
		r.Proposal = p.ID
		return nil
	case tx.Sponsor:
		_, err := n.gov.Sponsor(t.Proposal(), t.Origin())
		return err
	case tx.Ballot:
		_, err := n.gov.Vote(t.Proposal(), t.Origin(), t.Choice())
		return err
	default:
		return core.NewError(core.ValidationError, core.MalformedMessage).WithMsg("tx kind %s", t.Kind())
	}
}

func (n *Node) receiptExists(id core.Bytes32) (bool, error) {
	return n.receipts.Has(id.Bytes())
}

func (n *Node) receipt(id core.Bytes32) (*Receipt, error) {
	var r Receipt
	found, err := kv.GetRLP(n.receipts, id.Bytes(), &r)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &r, nil
}
