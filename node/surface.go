// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import (
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/archive"
	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/comm"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
	"github.com/vechain/mpbft/governance"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/registry"
	"github.com/vechain/mpbft/scoring"
	"github.com/vechain/mpbft/tx"
	"github.com/vechain/mpbft/txpool"
)

// ErrNotFound is returned by queries for unknown entities.
var ErrNotFound = errors.New("not found")

// Status summarizes the node.
type Status struct {
	Self        core.Address
	Height      uint64 // height being decided
	Finalized   uint64
	Round       uint64
	Phase       bft.Phase
	Mode        scoring.Kind
	Validators  int
	PendingTxs  int
	Halted      bool
	HaltMessage string
}

// RoundView is the consensus state of a height: the live round while the
// height is being decided, and the archived rounds once they ended.
type RoundView struct {
	Height  uint64
	Current *bft.RoundStatus
	Rounds  []*archive.Record
}

// Status returns the node summary.
func (n *Node) Status() Status {
	n.mu.Lock()
	ctrl, height, halted := n.ctrl, n.height, n.halted
	n.mu.Unlock()

	s := Status{
		Self:       n.self,
		Height:     height,
		Mode:       scoring.Kind(n.params.Get(params.ConsensusMode)),
		Validators: len(n.registry.Snapshot().Active()),
		PendingTxs: n.txPool.Len(),
	}
	if height > 0 {
		s.Finalized = height - 1
	}
	if ctrl != nil {
		rs := ctrl.Status()
		s.Round, s.Phase = rs.Round, rs.Phase
	}
	if halted != nil {
		s.Halted, s.HaltMessage = true, halted.Error()
	}
	return s
}

// ValidatorSet returns all validators ordered by id.
func (n *Node) ValidatorSet() []*registry.Validator {
	return n.registry.All()
}

// Validator returns one validator.
func (n *Node) Validator(id core.Address) (*registry.Validator, error) {
	return n.registry.Get(id)
}

// Params returns the live parameters.
func (n *Node) Params() map[params.Key]uint64 {
	return n.params.Snapshot().All()
}

// RoundStatus returns the consensus state of height.
func (n *Node) RoundStatus(height uint64) (*RoundView, error) {
	n.mu.Lock()
	ctrl := n.ctrl
	n.mu.Unlock()

	rounds, err := n.archive.Rounds(height)
	if err != nil {
		return nil, err
	}
	view := &RoundView{Height: height, Rounds: rounds}
	if ctrl != nil && ctrl.Height() == height {
		status := ctrl.Status()
		view.Current = &status
	}
	if view.Current == nil && len(view.Rounds) == 0 {
		return nil, ErrNotFound
	}
	return view, nil
}

// Proposal returns a governance proposal.
func (n *Node) Proposal(id core.Bytes32) (*governance.Proposal, error) {
	return n.gov.Proposal(id)
}

// Proposals returns all governance proposals in submission order.
func (n *Node) Proposals() []*governance.Proposal {
	return n.gov.Proposals()
}

// SubscribeProposals receives every proposal change.
func (n *Node) SubscribeProposals(ch chan<- *governance.Proposal) event.Subscription {
	return n.scope.Track(n.gov.SubscribeProposals(ch))
}

// Treasury returns the spendable and reserved treasury balances.
func (n *Node) Treasury() (balance, pending uint64) {
	t := n.gov.Treasury()
	return t.Balance(), t.Pending()
}

// Receipt returns the outcome of an applied tx.
func (n *Node) Receipt(id core.Bytes32) (*Receipt, error) {
	r, err := n.receipt(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNotFound
	}
	return r, nil
}

// PendingTx returns a pooled tx.
func (n *Node) PendingTx(id core.Bytes32) *tx.Transaction {
	return n.txPool.Get(id)
}

// SubmitVote accepts an externally signed vote.
func (n *Node) SubmitVote(v *bft.Vote) error {
	if !v.Phase.IsVote() {
		return core.NewError(core.ValidationError, core.MalformedMessage).WithMsg("phase %s is not a vote", v.Phase)
	}
	if err := n.acceptVote(v); err != nil {
		return err
	}
	n.publish(comm.RoundMessage{From: v.Validator, Vote: v})
	return nil
}

// SubmitEvidence accepts double-vote evidence and returns its canonical form.
func (n *Node) SubmitEvidence(ev *evidence.Evidence) (*evidence.Evidence, error) {
	canonical, err := n.detector.Submit(ev)
	if err != nil {
		return nil, err
	}
	n.publish(comm.RoundMessage{From: n.self, Evidence: canonical})
	return canonical, nil
}

// SubmitTx pools a signed tx for inclusion in a block.
func (n *Node) SubmitTx(t *tx.Transaction) (core.Bytes32, error) {
	if err := n.txPool.Add(t); err != nil {
		switch {
		case core.CodeOf(err) != "":
			return core.Bytes32{}, err
		case txpool.IsErrKnownTx(err):
			return t.ID(), nil
		case txpool.IsErrRejected(err):
			return core.Bytes32{}, core.NewError(core.ResourceError, core.StorageFailure).WithCause(err)
		default:
			return core.Bytes32{}, core.NewError(core.ValidationError, core.MalformedMessage).WithCause(err)
		}
	}
	return t.ID(), nil
}

func errObserver() error {
	return core.NewError(core.ValidationError, core.NotEligible).WithMsg("observer has no signing key")
}

func (n *Node) submitLocal(b *tx.Builder) (core.Bytes32, error) {
	if n.signer == nil {
		return core.Bytes32{}, errObserver()
	}
	t, err := n.signer.SignTx(b.Nonce(n.nonce.Add(1)).Build())
	if err != nil {
		return core.Bytes32{}, err
	}
	return n.SubmitTx(t)
}

// Register requests admission of the local key as a validator.
func (n *Node) Register(stake, storage uint64, commission core.Ratio) (core.Bytes32, error) {
	if n.signer == nil {
		return core.Bytes32{}, errObserver()
	}
	return n.submitLocal(tx.NewBuilder(tx.Register, n.self).
		Stake(stake).
		Storage(storage).
		ConsensusKey(n.signer.PublicKey()).
		Commission(commission))
}

// RequestExit starts unbonding of the local validator.
func (n *Node) RequestExit() (core.Bytes32, error) {
	return n.submitLocal(tx.NewBuilder(tx.Exit, n.self))
}

// UpdateStake changes the local validator's stake by delta.
func (n *Node) UpdateStake(delta int64) (core.Bytes32, error) {
	return n.submitLocal(tx.NewBuilder(tx.Stake, n.self).StakeDelta(delta))
}

// SubmitProof publishes a storage or work proof of the local validator.
func (n *Node) SubmitProof(kind scoring.ProofKind, proof scoring.Proof) (core.Bytes32, error) {
	return n.submitLocal(tx.NewBuilder(tx.Proof, n.self).Proof(kind, proof))
}

// SubmitProposal opens a governance proposal on behalf of the local validator.
// The proposal id is found in the receipt of the returned tx.
func (n *Node) SubmitProposal(change governance.Change) (core.Bytes32, error) {
	return n.submitLocal(tx.NewBuilder(tx.Propose, n.self).Change(change))
}

// SponsorProposal sponsors a pending proposal.
func (n *Node) SponsorProposal(id core.Bytes32) (core.Bytes32, error) {
	return n.submitLocal(tx.NewBuilder(tx.Sponsor, n.self).Proposal(id))
}

// SubmitBallot casts the local validator's ballot.
func (n *Node) SubmitBallot(id core.Bytes32, choice governance.Choice) (core.Bytes32, error) {
	return n.submitLocal(tx.NewBuilder(tx.Ballot, n.self).Proposal(id).Choice(choice))
}
