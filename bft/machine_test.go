// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package bft

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/scoring"
)

func newTestMachine(self core.Address, w *scoring.WeightTable, maxRounds uint64) *Machine {
	rot := NewRotation()
	return NewMachine(Config{
		Height:    1,
		Self:      self,
		Weights:   w,
		Proposer:  func(round uint64) core.Address { return rot.Proposer(w, round) },
		MaxRounds: maxRounds,
	})
}

func newProposal(proposer core.Address, round uint64, hash core.Bytes32) *Proposal {
	return &Proposal{Height: 1, Round: round, Proposer: proposer, BlockHash: hash, Block: hash.Bytes()}
}

func actionsOf[T Action](actions []Action) []T {
	var out []T
	for _, a := range actions {
		if t, ok := a.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func mustHandle(t *testing.T, m *Machine, ev Event) []Action {
	t.Helper()
	actions, err := m.Handle(ev)
	require.NoError(t, err)
	return actions
}

func broadcastOf(t *testing.T, actions []Action, phase Phase) *Vote {
	t.Helper()
	for _, b := range actionsOf[Broadcast](actions) {
		if b.Vote.Phase == phase {
			return b.Vote
		}
	}
	t.Fatalf("no %s broadcast in %v", phase, actions)
	return nil
}

func TestWeightedQuorumFinalizes(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 5)

	start := m.Start()
	assert.Equal(t, []Action{ScheduleTimeout{1, 0, PhasePropose}}, start, "D is not the round 0 proposer")

	actions := mustHandle(t, m, ProposalEvent{newProposal(addrA, 0, hashX)})
	prevote := broadcastOf(t, actions, PhasePreVote)
	assert.Equal(t, hashX, *prevote.BlockHash)
	assert.Equal(t, PhasePreVote, m.Phase())

	assert.Empty(t, mustHandle(t, m, VoteEvent{newVote(addrA, 0, PhasePreVote, hashPtr(hashX))}))
	actions = mustHandle(t, m, VoteEvent{newVote(addrB, 0, PhasePreVote, hashPtr(hashX))})
	precommit := broadcastOf(t, actions, PhasePreCommit)
	assert.Equal(t, hashX, *precommit.BlockHash, "70 of 100 pre-voted X")
	assert.Equal(t, PhasePreCommit, m.Phase())

	assert.Empty(t, mustHandle(t, m, VoteEvent{newVote(addrA, 0, PhasePreCommit, hashPtr(hashX))}))
	actions = mustHandle(t, m, VoteEvent{newVote(addrB, 0, PhasePreCommit, hashPtr(hashX))})
	finals := actionsOf[Finalize](actions)
	require.Len(t, finals, 1)
	assert.Equal(t, hashX, finals[0].BlockHash)
	assert.Equal(t, uint64(0), finals[0].Round)
	assert.Equal(t, hashX.Bytes(), finals[0].Block)
	assert.Len(t, finals[0].Commits, 2)
	assert.Equal(t, PhaseCommit, m.Phase())

	status := m.Status()
	require.NotNil(t, status.Committed)
	assert.Equal(t, hashX, *status.Committed)
	assert.Equal(t, uint64(67), status.Quorum)

	// terminal
	actions, err := m.Handle(VoteEvent{newVote(addrC, 0, PhasePreCommit, hashPtr(hashX))})
	assert.NoError(t, err)
	assert.Empty(t, actions)
}

func TestProposerRequestsBlock(t *testing.T) {
	m := newTestMachine(addrA, fourValidatorWeights(), 5)
	actions := m.Start()
	reqs := actionsOf[Propose](actions)
	require.Len(t, reqs, 1)
	assert.Equal(t, uint64(0), reqs[0].Round)
	assert.Nil(t, reqs[0].Block)
}

func TestObserverNeverVotes(t *testing.T) {
	m := newTestMachine(core.Address{}, fourValidatorWeights(), 5)
	m.Start()
	actions := mustHandle(t, m, ProposalEvent{newProposal(addrA, 0, hashX)})
	assert.Empty(t, actionsOf[Broadcast](actions))
	assert.Equal(t, PhasePreVote, m.Phase())
}

func TestInvalidBlockPreVotesNil(t *testing.T) {
	w := fourValidatorWeights()
	rot := NewRotation()
	m := NewMachine(Config{
		Height:   1,
		Self:     addrD,
		Weights:  w,
		Proposer: func(round uint64) core.Address { return rot.Proposer(w, round) },
		Validate: func(p *Proposal) bool { return p.BlockHash != hashY },
	})
	m.Start()
	actions := mustHandle(t, m, ProposalEvent{newProposal(addrA, 0, hashY)})
	assert.Nil(t, broadcastOf(t, actions, PhasePreVote).BlockHash)
}

func TestProposalChecks(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 5)
	m.Start()

	_, err := m.Handle(ProposalEvent{newProposal(addrB, 0, hashX)})
	assert.ErrorIs(t, err, core.NewError(core.ValidationError, core.NotEligible))

	p := newProposal(addrA, 0, hashX)
	p.Height = 2
	_, err = m.Handle(ProposalEvent{p})
	assert.ErrorIs(t, err, core.NewError(core.ValidationError, core.StaleMessage))

	mustHandle(t, m, ProposalEvent{newProposal(addrA, 0, hashX)})
	actions := mustHandle(t, m, ProposalEvent{newProposal(addrA, 0, hashX)})
	assert.Empty(t, actions, "duplicate proposal")

	_, err = m.Handle(ProposalEvent{newProposal(addrA, 0, hashY)})
	assert.ErrorIs(t, err, core.NewError(core.ConsensusFault, core.Equivocation))
}

func TestVoteChecks(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 5)
	m.Start()

	_, err := m.Handle(VoteEvent{&Vote{Height: 1, Phase: PhasePropose, Validator: addrA}})
	assert.ErrorIs(t, err, core.NewError(core.ValidationError, core.MalformedMessage))

	_, err = m.Handle(VoteEvent{newVote(addrA, maxFutureRounds+1, PhasePreVote, nil)})
	assert.ErrorIs(t, err, core.NewError(core.ValidationError, core.StaleMessage))

	mustHandle(t, m, VoteEvent{newVote(addrC, 0, PhasePreVote, hashPtr(hashX))})
	_, err = m.Handle(VoteEvent{newVote(addrC, 0, PhasePreVote, hashPtr(hashY))})
	assert.ErrorIs(t, err, core.NewError(core.ConsensusFault, core.ConflictingVote))
	assert.Equal(t, hashX, *m.Status().PreVotes[0].BlockHash)
}

func TestTimeoutsFailRound(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 0)
	m.Start()

	// stale timeouts are ignored
	assert.Empty(t, mustHandle(t, m, TimeoutEvent{1, 0, PhasePreVote}))

	actions := mustHandle(t, m, TimeoutEvent{1, 0, PhasePropose})
	assert.Nil(t, broadcastOf(t, actions, PhasePreVote).BlockHash)
	assert.Contains(t, actions, Action(ScheduleTimeout{1, 0, PhasePreVote}))

	actions = mustHandle(t, m, TimeoutEvent{1, 0, PhasePreVote})
	assert.Nil(t, broadcastOf(t, actions, PhasePreCommit).BlockHash)

	actions = mustHandle(t, m, TimeoutEvent{1, 0, PhasePreCommit})
	failed := actionsOf[RoundFailed](actions)
	require.Len(t, failed, 1)
	assert.Equal(t, RoundFailed{Height: 1, Round: 0, Proposer: addrA, Proposed: false}, failed[0])
	assert.Contains(t, actions, Action(ScheduleTimeout{1, 1, PhasePropose}))
	assert.Equal(t, uint64(1), m.Round())
	assert.Equal(t, PhasePropose, m.Phase())
}

func TestNilPreCommitMajorityFailsRound(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 0)
	m.Start()
	mustHandle(t, m, TimeoutEvent{1, 0, PhasePropose})
	mustHandle(t, m, TimeoutEvent{1, 0, PhasePreVote})

	mustHandle(t, m, VoteEvent{newVote(addrA, 0, PhasePreCommit, nil)})
	actions := mustHandle(t, m, VoteEvent{newVote(addrB, 0, PhasePreCommit, nil)})
	assert.Len(t, actionsOf[RoundFailed](actions), 1)
	assert.Equal(t, uint64(1), m.Round())
}

func TestStaleRoundMessages(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 0)
	m.Start()
	mustHandle(t, m, TimeoutEvent{1, 0, PhasePropose})
	mustHandle(t, m, TimeoutEvent{1, 0, PhasePreVote})
	mustHandle(t, m, TimeoutEvent{1, 0, PhasePreCommit})
	require.Equal(t, uint64(1), m.Round())

	_, err := m.Handle(VoteEvent{newVote(addrA, 0, PhasePreVote, hashPtr(hashX))})
	assert.ErrorIs(t, err, core.NewError(core.ValidationError, core.StaleMessage))

	_, err = m.Handle(ProposalEvent{newProposal(addrA, 0, hashX)})
	assert.ErrorIs(t, err, core.NewError(core.ValidationError, core.StaleMessage))

	// a commit certificate of an earlier round still decides the height
	mustHandle(t, m, VoteEvent{newVote(addrA, 0, PhasePreCommit, hashPtr(hashX))})
	actions := mustHandle(t, m, VoteEvent{newVote(addrB, 0, PhasePreCommit, hashPtr(hashX))})
	finals := actionsOf[Finalize](actions)
	require.Len(t, finals, 1)
	assert.Equal(t, uint64(0), finals[0].Round)
	assert.Nil(t, finals[0].Block, "block was never seen")
}

func TestRoundSkip(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 0)
	m.Start()

	// 20 of 100 is not enough
	assert.Empty(t, mustHandle(t, m, VoteEvent{newVote(addrC, 2, PhasePreVote, nil)}))
	assert.Equal(t, uint64(0), m.Round())

	actions := mustHandle(t, m, VoteEvent{newVote(addrB, 2, PhasePreCommit, nil)})
	assert.Equal(t, uint64(2), m.Round())
	failed := actionsOf[RoundFailed](actions)
	require.Len(t, failed, 1)
	assert.Equal(t, uint64(0), failed[0].Round)
	assert.Contains(t, actions, Action(ScheduleTimeout{1, 2, PhasePropose}))
}

func TestMaxRoundsReportsUnresponsiveProposers(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 2)
	m.Start()

	failRound := func(round uint64) []Action {
		mustHandle(t, m, TimeoutEvent{1, round, PhasePropose})
		mustHandle(t, m, TimeoutEvent{1, round, PhasePreVote})
		return mustHandle(t, m, TimeoutEvent{1, round, PhasePreCommit})
	}

	assert.Empty(t, actionsOf[Evidence](failRound(0)))
	evidence := actionsOf[Evidence](failRound(1))
	require.Len(t, evidence, 2)
	assert.Equal(t, Evidence{Height: 1, Round: 0, Validator: addrA}, evidence[0])
	assert.Equal(t, Evidence{Height: 1, Round: 1, Validator: addrB}, evidence[1])

	// round 2 proposer C proposes, round 3 proposer A is already reported
	mustHandle(t, m, ProposalEvent{newProposal(addrC, 2, hashX)})
	mustHandle(t, m, TimeoutEvent{1, 2, PhasePreVote})
	assert.Empty(t, actionsOf[Evidence](mustHandle(t, m, TimeoutEvent{1, 2, PhasePreCommit})))
	assert.Empty(t, actionsOf[Evidence](failRound(3)))
}

func TestLockReleasedByNewerPolka(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 0)
	m.Start()

	// round 0: polka for X, D locks on X but X never commits
	mustHandle(t, m, ProposalEvent{newProposal(addrA, 0, hashX)})
	for _, id := range []core.Address{addrA, addrB, addrD} {
		mustHandle(t, m, VoteEvent{newVote(id, 0, PhasePreVote, hashPtr(hashX))})
	}
	require.Equal(t, PhasePreCommit, m.Phase())
	require.Equal(t, hashX, *m.Status().Locked)
	mustHandle(t, m, TimeoutEvent{1, 0, PhasePreCommit})

	// round 1: B proposes Y, D stays locked and pre-votes nil
	actions := mustHandle(t, m, ProposalEvent{newProposal(addrB, 1, hashY)})
	assert.Nil(t, broadcastOf(t, actions, PhasePreVote).BlockHash)
	mustHandle(t, m, VoteEvent{newVote(addrD, 1, PhasePreVote, nil)})
	mustHandle(t, m, VoteEvent{newVote(addrC, 1, PhasePreVote, nil)})
	actions = mustHandle(t, m, VoteEvent{newVote(addrA, 1, PhasePreVote, hashPtr(hashY))})
	assert.Nil(t, broadcastOf(t, actions, PhasePreCommit).BlockHash, "no polka yet")
	assert.Equal(t, hashX, *m.Status().Locked)

	// the polka for Y completes after D pre-committed
	mustHandle(t, m, VoteEvent{newVote(addrB, 1, PhasePreVote, hashPtr(hashY))})
	mustHandle(t, m, TimeoutEvent{1, 1, PhasePreCommit})

	// round 2: C re-proposes Y with its polka round, which releases the lock
	p := newProposal(addrC, 2, hashY)
	pol := uint64(1)
	p.POLRound = &pol
	actions = mustHandle(t, m, ProposalEvent{p})
	assert.Equal(t, hashY, *broadcastOf(t, actions, PhasePreVote).BlockHash)
}

func TestLockKeptWithoutPolka(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 0)
	m.Start()
	mustHandle(t, m, ProposalEvent{newProposal(addrA, 0, hashX)})
	for _, id := range []core.Address{addrA, addrB, addrD} {
		mustHandle(t, m, VoteEvent{newVote(id, 0, PhasePreVote, hashPtr(hashX))})
	}
	mustHandle(t, m, TimeoutEvent{1, 0, PhasePreCommit})

	// a POL round without an observed polka does not unlock
	p := newProposal(addrB, 1, hashY)
	pol := uint64(0)
	p.POLRound = &pol
	actions := mustHandle(t, m, ProposalEvent{p})
	assert.Nil(t, broadcastOf(t, actions, PhasePreVote).BlockHash)

	// the locked block is still voted for
	mustHandle(t, m, TimeoutEvent{1, 1, PhasePreVote})
	mustHandle(t, m, TimeoutEvent{1, 1, PhasePreCommit})
	actions = mustHandle(t, m, ProposalEvent{newProposal(addrC, 2, hashX)})
	assert.Equal(t, hashX, *broadcastOf(t, actions, PhasePreVote).BlockHash)
}

func TestProposerReproposesValidBlock(t *testing.T) {
	w := fourValidatorWeights()
	// B proposes round 1
	m := newTestMachine(addrB, w, 0)
	m.Start()
	mustHandle(t, m, ProposalEvent{newProposal(addrA, 0, hashX)})
	for _, id := range []core.Address{addrA, addrB} {
		mustHandle(t, m, VoteEvent{newVote(id, 0, PhasePreVote, hashPtr(hashX))})
	}
	actions := mustHandle(t, m, TimeoutEvent{1, 0, PhasePreCommit})
	reqs := actionsOf[Propose](actions)
	require.Len(t, reqs, 1)
	assert.Equal(t, uint64(1), reqs[0].Round)
	require.NotNil(t, reqs[0].BlockHash)
	assert.Equal(t, hashX, *reqs[0].BlockHash)
	assert.Equal(t, hashX.Bytes(), reqs[0].Block)
	require.NotNil(t, reqs[0].POLRound)
	assert.Equal(t, uint64(0), *reqs[0].POLRound)
}

func TestHalt(t *testing.T) {
	m := newTestMachine(addrD, fourValidatorWeights(), 0)
	m.Start()
	actions, err := m.Handle(HaltEvent{Err: errors.New("corrupted archive")})
	require.NoError(t, err)
	assert.Empty(t, actions)

	_, err = m.Handle(ProposalEvent{newProposal(addrA, 0, hashX)})
	assert.True(t, core.IsFatal(err))
	assert.True(t, m.Status().Halted)
}

// simNet delivers every honest message to every honest machine and fires the
// pending timeout of each machine whenever the network is quiet.
type simNet struct {
	t       *testing.T
	nodes   map[core.Address]*Machine
	order   []core.Address
	queue   []simDelivery
	decided map[core.Address]*Finalize
}

type simDelivery struct {
	to core.Address
	ev Event
}

func newSimNet(t *testing.T, w *scoring.WeightTable, honest ...core.Address) *simNet {
	n := &simNet{t: t, nodes: make(map[core.Address]*Machine), order: honest, decided: make(map[core.Address]*Finalize)}
	for _, id := range honest {
		n.nodes[id] = newTestMachine(id, w, 0)
	}
	return n
}

func (n *simNet) broadcast(ev Event) {
	for _, id := range n.order {
		n.queue = append(n.queue, simDelivery{id, ev})
	}
}

func (n *simNet) perform(from core.Address, actions []Action) {
	for _, a := range actions {
		switch a := a.(type) {
		case Broadcast:
			n.broadcast(VoteEvent{a.Vote})
		case Propose:
			hash := core.Blake2b([]byte(fmt.Sprintf("block-%s-%d", from, a.Round)))
			if a.BlockHash != nil {
				hash = *a.BlockHash
			}
			n.broadcast(ProposalEvent{&Proposal{
				Height:    a.Height,
				Round:     a.Round,
				Proposer:  from,
				BlockHash: hash,
				Block:     hash.Bytes(),
				POLRound:  a.POLRound,
			}})
		case Finalize:
			n.decided[from] = &a
		}
	}
}

func (n *simNet) run(maxSteps int) {
	for _, id := range n.order {
		n.perform(id, n.nodes[id].Start())
	}
	for step := 0; step < maxSteps && len(n.decided) < len(n.order); step++ {
		for len(n.queue) > 0 {
			d := n.queue[0]
			n.queue = n.queue[1:]
			actions, _ := n.nodes[d.to].Handle(d.ev)
			n.perform(d.to, actions)
		}
		for _, id := range n.order {
			m := n.nodes[id]
			if m.Finalized() == nil {
				actions, _ := m.Handle(TimeoutEvent{m.Height(), m.Round(), m.Phase()})
				n.perform(id, actions)
			}
		}
	}
}

func TestSafetyAndLivenessWithByzantineProposer(t *testing.T) {
	byz := addrA
	w := scoring.NewWeightTable([]scoring.Weight{
		{ID: byz, Value: 30},
		{ID: addrB, Value: 25},
		{ID: addrC, Value: 25},
		{ID: addrD, Value: 20},
	})
	n := newSimNet(t, w, addrB, addrC, addrD)
	require.Equal(t, byz, NewRotation().Proposer(w, 0))

	// the byzantine proposer equivocates and double votes toward different nodes
	for to, hash := range map[core.Address]core.Bytes32{addrB: hashX, addrC: hashY} {
		n.queue = append(n.queue,
			simDelivery{to, ProposalEvent{&Proposal{Height: 1, Round: 0, Proposer: byz, BlockHash: hash}}},
			simDelivery{to, VoteEvent{newVote(byz, 0, PhasePreVote, hashPtr(hash))}},
			simDelivery{to, VoteEvent{newVote(byz, 0, PhasePreCommit, hashPtr(hash))}},
		)
	}
	n.run(20)

	require.Len(t, n.decided, 3, "honest weight of 70 decides")
	var decided *core.Bytes32
	for id, f := range n.decided {
		if decided == nil {
			decided = &f.BlockHash
		}
		assert.Equal(t, *decided, f.BlockHash, "%s diverged", id)
	}
	assert.NotEqual(t, hashX, *decided)
	assert.NotEqual(t, hashY, *decided)
}

func TestHonestNetworkDecidesInFirstRound(t *testing.T) {
	w := fourValidatorWeights()
	n := newSimNet(t, w, addrA, addrB, addrC, addrD)
	n.run(1)
	require.Len(t, n.decided, 4)
	for _, f := range n.decided {
		assert.Equal(t, uint64(0), f.Round)
		var weight uint64
		for _, v := range f.Commits {
			weight += w.Of(v.Validator)
		}
		assert.GreaterOrEqual(t, weight, Quorum(w.Total()))
	}
}

func TestLivenessWithSilentMinority(t *testing.T) {
	// A proposes round 0 and never speaks
	w := scoring.NewWeightTable([]scoring.Weight{
		{ID: addrA, Value: 30},
		{ID: addrB, Value: 30},
		{ID: addrC, Value: 20},
		{ID: addrD, Value: 20},
	})
	n := newSimNet(t, w, addrB, addrC, addrD)
	n.run(20)
	require.Len(t, n.decided, 3)
	for _, f := range n.decided {
		assert.Equal(t, uint64(1), f.Round, "round 0 proposer is silent")
	}
}
