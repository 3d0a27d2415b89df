// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package governance runs the proposal, sponsoring, voting and execution
// lifecycle and owns the treasury.
package governance

import (
	"cmp"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/registry"
)

var (
	logger          = log.WithContext("pkg", "governance")
	metricProposals = metrics.LazyLoadCounterVec("governance_proposals_count", []string{"status"})
	metricByStatus  = metrics.LazyLoadGaugeVec("governance_proposals", []string{"status"})
)

var seqKey = []byte("seq")

// Engine owns proposals. The lifecycle clock is driven by Tick.
type Engine struct {
	mu        sync.Mutex
	registry  *registry.Registry
	params    *params.Params
	treasury  *Treasury
	store     kv.Store
	proposals map[core.Bytes32]*Proposal
	seq       uint64
	round     uint64
	outbox    []*Proposal

	feed  event.Feed
	scope event.SubscriptionScope
}

// New loads all proposals from store.
func New(reg *registry.Registry, p *params.Params, treasury *Treasury, store kv.Store) (*Engine, error) {
	e := &Engine{
		registry:  reg,
		params:    p,
		treasury:  treasury,
		store:     store,
		proposals: make(map[core.Bytes32]*Proposal),
		round:     reg.Round(),
	}
	var decodeErr error
	err := store.Iterate(kv.Range{}, func(pair kv.Pair) bool {
		if string(pair.Key()) == string(seqKey) {
			return true
		}
		var prop Proposal
		if err := rlp.DecodeBytes(pair.Value(), &prop); err != nil {
			decodeErr = err
			return false
		}
		e.proposals[prop.ID] = &prop
		trackStatus(nil, &prop)
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "load proposals")
	}
	if decodeErr != nil {
		return nil, core.NewError(core.FatalError, core.CorruptedRecord).WithCause(decodeErr)
	}
	if _, err := kv.GetRLP(store, seqKey, &e.seq); err != nil {
		return nil, core.NewError(core.FatalError, core.CorruptedRecord).WithCause(err)
	}
	return e, nil
}

// Treasury returns the governance fund.
func (e *Engine) Treasury() *Treasury {
	return e.treasury
}

// Proposal returns a copy of the proposal with id.
func (e *Engine) Proposal(id core.Bytes32) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[id]
	if !ok {
		return nil, errUnknown(id)
	}
	return p.copy(), nil
}

// Proposals returns copies of all proposals in submission order.
func (e *Engine) Proposals() []*Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		out = append(out, p.copy())
	}
	slices.SortFunc(out, bySeq)
	return out
}

// SubscribeProposals delivers a copy of a proposal on every status change.
func (e *Engine) SubscribeProposals(ch chan<- *Proposal) event.Subscription {
	return e.scope.Track(e.feed.Subscribe(ch))
}

// Close ends all proposal subscriptions.
func (e *Engine) Close() {
	e.scope.Close()
}

// Submit creates a Pending proposal. The proposer must be an Active
// validator and counts as its first sponsor.
func (e *Engine) Submit(proposer core.Address, change Change) (*Proposal, error) {
	if err := change.validate(); err != nil {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithValidator(proposer).WithCause(err)
	}
	if err := e.requireActive(proposer); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.unlock()

	logger.Debug("submitting proposal", "proposer", proposer, "kind", change.Kind)
	p := &Proposal{
		Seq:          e.seq + 1,
		Proposer:     proposer,
		Change:       change,
		Status:       StatusPending,
		CreatedRound: e.round,
	}
	p.ID = core.RLPHash([]any{p.Seq, p.Proposer, &p.Change, p.CreatedRound})

	bulk := e.store.Bulk()
	if err := kv.PutRLP(bulk, seqKey, p.Seq); err != nil {
		return nil, err
	}
	if err := kv.PutRLP(bulk, p.ID.Bytes(), p); err != nil {
		return nil, err
	}
	if err := bulk.Write(); err != nil {
		return nil, core.NewError(core.FatalError, core.StorageFailure).WithProposal(p.ID).WithCause(err)
	}
	e.seq = p.Seq
	e.proposals[p.ID] = p
	trackStatus(nil, p)
	e.notify(p)

	if err := e.sponsor(p, proposer); err != nil {
		return nil, err
	}
	p = e.proposals[p.ID]
	logger.Info("proposal submitted", "id", p.ID, "proposer", proposer, "kind", change.Kind, "status", p.Status)
	return p.copy(), nil
}

// Sponsor adds the sponsor's stake to a Pending proposal. Once sponsor stake
// reaches SponsorQuorum of the active stake the proposal enters Voting.
func (e *Engine) Sponsor(id core.Bytes32, sponsor core.Address) (*Proposal, error) {
	if err := e.requireActive(sponsor); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.unlock()

	p, ok := e.proposals[id]
	if !ok {
		return nil, errUnknown(id)
	}
	if p.Status != StatusPending {
		return nil, errStatus(p)
	}
	if slices.Contains(p.Sponsors, sponsor) {
		return nil, core.NewError(core.ValidationError, core.DuplicateBallot).WithProposal(id).WithValidator(sponsor).WithMsg("already sponsored")
	}
	if err := e.sponsor(p, sponsor); err != nil {
		return nil, err
	}
	return e.proposals[id].copy(), nil
}

// Vote records a ballot weighted by the voter's snapshotted stake.
func (e *Engine) Vote(id core.Bytes32, voter core.Address, choice Choice) (*Proposal, error) {
	if choice < Yes || choice > Abstain {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithProposal(id).WithMsg("choice %d", choice)
	}

	e.mu.Lock()
	defer e.unlock()

	p, ok := e.proposals[id]
	if !ok {
		return nil, errUnknown(id)
	}
	if p.Status != StatusVoting || e.round > p.VotingEnd {
		return nil, errStatus(p)
	}
	weight, ok := p.weightOf(voter)
	if !ok {
		return nil, core.NewError(core.ValidationError, core.NotEligible).WithProposal(id).WithValidator(voter).WithMsg("not in voting snapshot")
	}
	if p.hasBallot(voter) {
		return nil, core.NewError(core.ValidationError, core.DuplicateBallot).WithProposal(id).WithValidator(voter)
	}

	next := p.copy()
	next.Ballots = append(next.Ballots, Ballot{Voter: voter, Choice: choice, Weight: weight})
	switch choice {
	case Yes:
		next.Tally.Yes += weight
	case No:
		next.Tally.No += weight
	default:
		next.Tally.Abstain += weight
	}
	if err := e.save(next); err != nil {
		return nil, err
	}
	logger.Debug("ballot recorded", "proposal", id, "voter", voter, "choice", choice, "weight", weight)
	return next.copy(), nil
}

// Tick advances the lifecycle clock to round: expired Pending proposals are
// rejected, Voting proposals whose period ended are tallied, and Passed
// proposals are executed. It returns the proposals that changed.
func (e *Engine) Tick(round uint64) ([]*Proposal, error) {
	e.mu.Lock()
	defer e.unlock()

	if round > e.round {
		e.round = round
	}
	var open []*Proposal
	for _, p := range e.proposals {
		if !p.Status.IsTerminal() {
			open = append(open, p)
		}
	}
	slices.SortFunc(open, bySeq)

	var changed []*Proposal
	for _, p := range open {
		before := p.Status
		switch {
		case p.Status == StatusPending && e.round > p.CreatedRound+e.params.Get(params.SponsorPeriod):
			if err := e.close(p, StatusRejected, "sponsor period elapsed"); err != nil {
				return changed, err
			}
		case p.Status == StatusVoting && e.round > p.VotingEnd:
			if err := e.tally(p); err != nil {
				return changed, err
			}
		}
		if p = e.proposals[p.ID]; p.Status == StatusPassed {
			if err := e.execute(p); err != nil {
				return changed, err
			}
		}
		if p = e.proposals[p.ID]; p.Status != before {
			changed = append(changed, p.copy())
		}
	}
	return changed, nil
}

// ValidatorExited closes the open proposals targeting id, which can no longer
// execute, as Rejected and returns them. Voting snapshots keep the weight of
// exited voters: weights are fixed when voting opens.
func (e *Engine) ValidatorExited(id core.Address) ([]*Proposal, error) {
	e.mu.Lock()
	defer e.unlock()

	var open []*Proposal
	for _, p := range e.proposals {
		if !p.Status.IsTerminal() && p.Change.Kind == ValidatorSetChange && p.Change.Validator == id {
			open = append(open, p)
		}
	}
	slices.SortFunc(open, bySeq)

	var closed []*Proposal
	for _, p := range open {
		if err := e.close(p, StatusRejected, "validator exited"); err != nil {
			return closed, err
		}
		closed = append(closed, e.proposals[p.ID].copy())
	}
	return closed, nil
}

// Execute runs a Passed proposal. A proposal executes at most once; later
// calls return AlreadyApplied.
func (e *Engine) Execute(id core.Bytes32) (*Proposal, error) {
	e.mu.Lock()
	defer e.unlock()

	p, ok := e.proposals[id]
	if !ok {
		return nil, errUnknown(id)
	}
	switch p.Status {
	case StatusExecuted, StatusFailed:
		return p.copy(), core.NewError(core.ValidationError, core.AlreadyApplied).WithProposal(id)
	case StatusPassed:
	default:
		return nil, errStatus(p)
	}
	if err := e.execute(p); err != nil {
		return nil, err
	}
	return e.proposals[id].copy(), nil
}

func (e *Engine) sponsor(p *Proposal, sponsor core.Address) error {
	snap := e.registry.Snapshot()
	entry, _ := snap.Get(sponsor)

	next := p.copy()
	next.Sponsors = append(next.Sponsors, sponsor)
	next.SponsorWeight += entry.Stake

	quorum := core.Ratio(e.params.Get(params.SponsorQuorum)).Of(snap.TotalStake())
	if next.SponsorWeight >= quorum {
		next.Status = StatusVoting
		next.VotingStart = e.round
		next.VotingEnd = e.round + e.params.Get(params.VotingPeriod)
		for _, a := range snap.Active() {
			next.Weights = append(next.Weights, Weight{Voter: a.ID, Weight: a.Stake})
			next.TotalWeight += a.Stake
		}
	}
	if err := e.save(next); err != nil {
		return err
	}
	if next.Status == StatusVoting {
		logger.Info("proposal in voting", "id", next.ID, "until", next.VotingEnd, "weight", next.TotalWeight)
	}
	return nil
}

// tally closes voting. Yes weight must reach PassThreshold of the snapshot
// weight. A passed spend reserves its funds.
func (e *Engine) tally(p *Proposal) error {
	need := core.Ratio(e.params.Get(params.PassThreshold)).Of(p.TotalWeight)
	if p.TotalWeight == 0 || p.Tally.Yes < need {
		return e.close(p, StatusRejected, "threshold not reached")
	}
	if p.Change.Kind == TreasurySpend {
		if err := e.treasury.reserve(p.Change.Amount); err != nil {
			if core.IsFatal(err) {
				return err
			}
			return e.close(p, StatusFailed, err.Error())
		}
	}
	return e.close(p, StatusPassed, "")
}

// execute applies a Passed proposal. The Executed status is persisted before
// the change so a crash can never apply it twice. precheck covers every
// rejection apply can return, so a later failure is a fault of this replica.
func (e *Engine) execute(p *Proposal) error {
	if err := e.precheck(p); err != nil {
		if core.IsFatal(err) {
			return err
		}
		logger.Warn("proposal cannot execute", "id", p.ID, "error", err)
		if p.Change.Kind == TreasurySpend {
			if err := e.treasury.release(p.Change.Amount); err != nil {
				return err
			}
		}
		return e.close(p, StatusFailed, err.Error())
	}

	logger.Debug("executing proposal", "id", p.ID, "kind", p.Change.Kind)
	if err := e.close(p, StatusExecuted, ""); err != nil {
		return err
	}
	if err := e.apply(p.Change); err != nil {
		if core.IsFatal(err) {
			return err
		}
		logger.Error("executed proposal not applied", "id", p.ID, "error", err)
		return core.NewError(core.FatalError, core.InvalidStatus).WithProposal(p.ID).WithCause(err)
	}
	logger.Info("proposal executed", "id", p.ID, "kind", p.Change.Kind)
	return nil
}

func (e *Engine) precheck(p *Proposal) error {
	c := p.Change
	switch c.Kind {
	case ParameterChange:
		return params.Validate(c.Param, c.Value)
	case TreasurySpend:
		if c.Amount > e.treasury.Pending() {
			return core.NewError(core.ResourceError, core.InsufficientFunds).WithProposal(p.ID)
		}
	case ValidatorSetChange:
		v, err := e.registry.Get(c.Validator)
		if err != nil {
			return err
		}
		switch c.Action {
		case ActionJail, ActionExit:
			if v.Status() != registry.StatusActive && v.Status() != registry.StatusJailed {
				return core.NewError(core.ValidationError, core.InvalidStatus).WithValidator(c.Validator)
			}
		case ActionUnjail:
			return e.registry.CanUnjail(c.Validator)
		}
	}
	return nil
}

func (e *Engine) apply(c Change) error {
	switch c.Kind {
	case ParameterChange:
		return e.params.Set(c.Param, c.Value)
	case TreasurySpend:
		return e.treasury.disburse(c.Amount)
	default:
		switch c.Action {
		case ActionJail:
			return e.registry.Jail(c.Validator, e.round+c.JailRounds)
		case ActionUnjail:
			return e.registry.Unjail(c.Validator)
		default:
			return e.registry.ForceExit(c.Validator)
		}
	}
}

func (e *Engine) close(p *Proposal, status Status, reason string) error {
	next := p.copy()
	next.Status = status
	next.ClosedRound = e.round
	next.Reason = reason
	if err := e.save(next); err != nil {
		return err
	}
	logger.Info("proposal closed", "id", p.ID, "status", status, "reason", reason, "yes", next.Tally.Yes, "total", next.TotalWeight)
	return nil
}

// save persists p and installs it. Callers hold mu.
func (e *Engine) save(p *Proposal) error {
	if err := kv.PutRLP(e.store, p.ID.Bytes(), p); err != nil {
		return core.NewError(core.FatalError, core.StorageFailure).WithProposal(p.ID).WithCause(err)
	}
	prev := e.proposals[p.ID]
	e.proposals[p.ID] = p
	if prev == nil || prev.Status != p.Status {
		trackStatus(prev, p)
		e.notify(p)
	}
	return nil
}

// trackStatus moves p from the gauge of its previous status to its current one.
func trackStatus(prev, p *Proposal) {
	if prev != nil {
		metricByStatus().AddWithLabel(-1, map[string]string{"status": prev.Status.String()})
	}
	metricByStatus().AddWithLabel(1, map[string]string{"status": p.Status.String()})
}

// notify queues p for subscribers. Callers hold mu.
func (e *Engine) notify(p *Proposal) {
	metricProposals().AddWithLabel(1, map[string]string{"status": p.Status.String()})
	e.outbox = append(e.outbox, p.copy())
}

// unlock releases mu and then delivers queued notifications.
func (e *Engine) unlock() {
	out := e.outbox
	e.outbox = nil
	e.mu.Unlock()
	for _, p := range out {
		e.feed.Send(p)
	}
}

func bySeq(a, b *Proposal) int {
	return cmp.Compare(a.Seq, b.Seq)
}

func (e *Engine) requireActive(id core.Address) error {
	v, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if !v.IsActive() {
		return core.NewError(core.ValidationError, core.NotEligible).WithValidator(id).WithMsg("status %s", registry.StatusString(v.Status()))
	}
	return nil
}

func errUnknown(id core.Bytes32) error {
	return core.NewError(core.ValidationError, core.UnknownProposal).WithProposal(id)
}

func errStatus(p *Proposal) error {
	return core.NewError(core.ValidationError, core.InvalidStatus).WithProposal(p.ID).WithMsg("proposal is %s", p.Status)
}
