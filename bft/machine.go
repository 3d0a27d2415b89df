// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package bft

import (
	"slices"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/scoring"
)

// maxFutureRounds bounds how far ahead of the current round messages are kept.
const maxFutureRounds = 4

// Config configures the machine of one height.
type Config struct {
	Height    uint64
	Self      core.Address // zero for an observer
	Weights   *scoring.WeightTable
	Proposer  func(round uint64) core.Address
	MaxRounds uint64
	// Validate is the local validity check of a proposed block. Nil accepts all.
	Validate func(*Proposal) bool
}

type candidate struct {
	round uint64
	hash  core.Bytes32
	block []byte
}

// Machine is the round state machine of one height. Handle is a pure
// transition over the machine's own state: it performs no I/O and reads no
// clock, so identical event sequences yield identical actions.
type Machine struct {
	cfg    Config
	quorum uint64
	round  uint64
	phase  Phase
	halted error

	proposals  map[uint64]*Proposal
	prevotes   map[uint64]*VoteSet
	precommits map[uint64]*VoteSet

	locked *candidate
	valid  *candidate

	unresponsive map[uint64]core.Address
	reported     map[core.Address]bool
	finalized    *Finalize
}

// NewMachine creates the machine of cfg.Height. Start must be called first.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:          cfg,
		quorum:       Quorum(cfg.Weights.Total()),
		proposals:    make(map[uint64]*Proposal),
		prevotes:     make(map[uint64]*VoteSet),
		precommits:   make(map[uint64]*VoteSet),
		unresponsive: make(map[uint64]core.Address),
		reported:     make(map[core.Address]bool),
	}
}

// Height returns the height the machine decides.
func (m *Machine) Height() uint64 { return m.cfg.Height }

// Round returns the current round.
func (m *Machine) Round() uint64 { return m.round }

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Finalized returns the decision, or nil while undecided.
func (m *Machine) Finalized() *Finalize { return m.finalized }

// Halted returns the fatal error that stopped the machine, if any.
func (m *Machine) Halted() error { return m.halted }

// Start enters round 0.
func (m *Machine) Start() []Action {
	var actions []Action
	m.enterRound(0, &actions)
	return actions
}

// Handle applies ev and returns the resulting actions. A returned error
// explains why the event was dropped; it never leaves partial state behind.
func (m *Machine) Handle(ev Event) ([]Action, error) {
	if m.halted != nil {
		return nil, core.NewError(core.FatalError, core.StorageFailure).WithCause(m.halted)
	}
	if m.finalized != nil {
		if _, ok := ev.(HaltEvent); !ok {
			return nil, nil
		}
	}

	var actions []Action
	switch ev := ev.(type) {
	case ProposalEvent:
		if err := m.onProposal(ev.Proposal); err != nil {
			return nil, err
		}
	case VoteEvent:
		if err := m.onVote(ev.Vote); err != nil {
			return nil, err
		}
	case TimeoutEvent:
		m.onTimeout(ev, &actions)
	case HaltEvent:
		m.halted = ev.Err
		return nil, nil
	default:
		return nil, newMalformed("unknown event %T", ev)
	}
	m.step(&actions)
	return actions, nil
}

func (m *Machine) isValidator() bool {
	return !m.cfg.Self.IsZero() && m.cfg.Weights.Has(m.cfg.Self)
}

func (m *Machine) checkRound(height, round uint64) error {
	if height != m.cfg.Height {
		return newStale("height %d, deciding %d", height, m.cfg.Height)
	}
	if round > m.round+maxFutureRounds {
		return newStale("round %d too far ahead of %d", round, m.round)
	}
	return nil
}

func (m *Machine) voteSet(round uint64, phase Phase) *VoteSet {
	sets := m.prevotes
	if phase == PhasePreCommit {
		sets = m.precommits
	}
	vs, ok := sets[round]
	if !ok {
		vs = NewVoteSet(m.cfg.Height, round, phase, m.cfg.Weights)
		sets[round] = vs
	}
	return vs
}

func (m *Machine) onProposal(p *Proposal) error {
	if err := m.checkRound(p.Height, p.Round); err != nil {
		return err
	}
	if p.Round < m.round {
		return newStale("proposal of round %d, at round %d", p.Round, m.round)
	}
	if expected := m.cfg.Proposer(p.Round); p.Proposer != expected {
		return core.NewError(core.ValidationError, core.NotEligible).
			WithValidator(p.Proposer).
			WithMsg("proposer of round %d is %s", p.Round, expected)
	}
	if prev, ok := m.proposals[p.Round]; ok {
		if prev.BlockHash == p.BlockHash {
			return nil
		}
		return core.NewError(core.ConsensusFault, core.Equivocation).
			WithValidator(p.Proposer).
			WithMsg("second proposal in round %d", p.Round)
	}
	m.proposals[p.Round] = p
	delete(m.unresponsive, p.Round)
	return nil
}

func (m *Machine) onVote(v *Vote) error {
	if !v.Phase.IsVote() {
		return newMalformed("vote phase %s", v.Phase)
	}
	if err := m.checkRound(v.Height, v.Round); err != nil {
		return err
	}
	// stale pre-commits are kept: a late commit certificate still decides the height
	if v.Round < m.round && v.Phase == PhasePreVote {
		return newStale("pre-vote of round %d, at round %d", v.Round, m.round)
	}
	if _, err := m.voteSet(v.Round, v.Phase).Add(v); err != nil {
		return err
	}
	return nil
}

func (m *Machine) onTimeout(ev TimeoutEvent, actions *[]Action) {
	if ev.Height != m.cfg.Height || ev.Round != m.round || ev.Phase != m.phase {
		return
	}
	switch ev.Phase {
	case PhasePropose:
		if _, ok := m.proposals[m.round]; !ok {
			m.unresponsive[m.round] = m.cfg.Proposer(m.round)
		}
		m.enterPreVote(nil, actions)
	case PhasePreVote:
		m.enterPreCommit(actions)
	case PhasePreCommit:
		m.failRound(m.round+1, actions)
	}
}

// step applies every transition enabled by the current tallies.
func (m *Machine) step(actions *[]Action) {
	for m.finalized == nil {
		if m.tryCommit(actions) {
			return
		}
		if m.trySkip(actions) {
			continue
		}
		switch m.phase {
		case PhasePropose:
			if p, ok := m.proposals[m.round]; ok {
				m.enterPreVote(m.prevoteFor(p), actions)
				continue
			}
		case PhasePreVote:
			if m.voteSet(m.round, PhasePreVote).HasQuorumAny() {
				m.enterPreCommit(actions)
				continue
			}
		case PhasePreCommit:
			m.trackValid()
			if hash, ok := m.voteSet(m.round, PhasePreCommit).Majority(); ok && hash == nil {
				m.failRound(m.round+1, actions)
				continue
			}
		}
		return
	}
}

func (m *Machine) tryCommit(actions *[]Action) bool {
	rounds := make([]uint64, 0, len(m.precommits))
	for r := range m.precommits {
		rounds = append(rounds, r)
	}
	slices.Sort(rounds)
	for _, r := range rounds {
		hash, ok := m.precommits[r].Majority()
		if !ok || hash == nil {
			continue
		}
		f := &Finalize{
			Height:    m.cfg.Height,
			Round:     r,
			BlockHash: *hash,
			Commits:   m.precommits[r].VotesFor(*hash),
		}
		if block := m.blockOf(*hash); block != nil {
			f.Block = block
		}
		m.round = r
		m.phase = PhaseCommit
		m.finalized = f
		*actions = append(*actions, *f)
		return true
	}
	return false
}

// trySkip jumps to a future round once more than a third of the weight is
// seen voting in it.
func (m *Machine) trySkip(actions *[]Action) bool {
	total := m.cfg.Weights.Total()
	for r := m.round + maxFutureRounds; r > m.round; r-- {
		var seen uint64
		for _, w := range m.cfg.Weights.Weights() {
			if m.hasVoted(r, w.ID) {
				seen += w.Value
			}
		}
		if seen > total/3 && seen > 0 {
			m.failRound(r, actions)
			return true
		}
	}
	return false
}

func (m *Machine) hasVoted(round uint64, id core.Address) bool {
	if vs, ok := m.prevotes[round]; ok && vs.Get(id) != nil {
		return true
	}
	if vs, ok := m.precommits[round]; ok && vs.Get(id) != nil {
		return true
	}
	return false
}

func (m *Machine) blockOf(hash core.Bytes32) []byte {
	for _, p := range m.proposals {
		if p.BlockHash == hash {
			return p.Block
		}
	}
	if m.valid != nil && m.valid.hash == hash {
		return m.valid.block
	}
	return nil
}

// prevoteFor applies the local validity check and the lock to a proposal.
func (m *Machine) prevoteFor(p *Proposal) *core.Bytes32 {
	if m.cfg.Validate != nil && !m.cfg.Validate(p) {
		return nil
	}
	hash := p.BlockHash
	if m.locked == nil || m.locked.hash == hash {
		return &hash
	}
	// a newer polka for the proposed block releases the lock
	if pol := p.POLRound; pol != nil && *pol >= m.locked.round && *pol < p.Round {
		if vs, ok := m.prevotes[*pol]; ok {
			if maj, ok := vs.Majority(); ok && maj != nil && *maj == hash {
				return &hash
			}
		}
	}
	return nil
}

// trackValid remembers the latest block that gathered a polka.
func (m *Machine) trackValid() {
	maj, ok := m.voteSet(m.round, PhasePreVote).Majority()
	if !ok || maj == nil {
		return
	}
	if m.valid != nil && m.valid.round >= m.round {
		return
	}
	m.valid = &candidate{round: m.round, hash: *maj, block: m.blockOf(*maj)}
}

func (m *Machine) enterRound(round uint64, actions *[]Action) {
	m.round = round
	m.phase = PhasePropose
	*actions = append(*actions, ScheduleTimeout{m.cfg.Height, round, PhasePropose})

	if m.isValidator() && m.cfg.Proposer(round) == m.cfg.Self {
		req := Propose{Height: m.cfg.Height, Round: round}
		if m.valid != nil && m.valid.block != nil {
			hash, pol := m.valid.hash, m.valid.round
			req.BlockHash = &hash
			req.Block = m.valid.block
			req.POLRound = &pol
		}
		*actions = append(*actions, req)
	}
}

func (m *Machine) enterPreVote(hash *core.Bytes32, actions *[]Action) {
	m.phase = PhasePreVote
	*actions = append(*actions, ScheduleTimeout{m.cfg.Height, m.round, PhasePreVote})
	m.castVote(PhasePreVote, hash, actions)
}

func (m *Machine) enterPreCommit(actions *[]Action) {
	m.phase = PhasePreCommit
	*actions = append(*actions, ScheduleTimeout{m.cfg.Height, m.round, PhasePreCommit})

	var target *core.Bytes32
	if maj, ok := m.voteSet(m.round, PhasePreVote).Majority(); ok && maj != nil {
		hash := *maj
		target = &hash
		m.locked = &candidate{round: m.round, hash: hash, block: m.blockOf(hash)}
		m.trackValid()
	}
	m.castVote(PhasePreCommit, target, actions)
}

func (m *Machine) castVote(phase Phase, hash *core.Bytes32, actions *[]Action) {
	if !m.isValidator() {
		return
	}
	if m.voteSet(m.round, phase).Get(m.cfg.Self) != nil {
		return
	}
	*actions = append(*actions, Broadcast{&Vote{
		Height:    m.cfg.Height,
		Round:     m.round,
		Phase:     phase,
		Validator: m.cfg.Self,
		BlockHash: hash,
	}})
}

// failRound abandons the current round and enters next.
func (m *Machine) failRound(next uint64, actions *[]Action) {
	_, proposed := m.proposals[m.round]
	*actions = append(*actions, RoundFailed{
		Height:   m.cfg.Height,
		Round:    m.round,
		Proposer: m.cfg.Proposer(m.round),
		Proposed: proposed,
	})
	if !proposed {
		m.unresponsive[m.round] = m.cfg.Proposer(m.round)
	}
	if m.cfg.MaxRounds > 0 && m.round+1 >= m.cfg.MaxRounds {
		m.reportUnresponsive(actions)
	}
	m.enterRound(next, actions)
}

func (m *Machine) reportUnresponsive(actions *[]Action) {
	rounds := make([]uint64, 0, len(m.unresponsive))
	for r := range m.unresponsive {
		rounds = append(rounds, r)
	}
	slices.Sort(rounds)
	for _, r := range rounds {
		id := m.unresponsive[r]
		if m.reported[id] {
			continue
		}
		m.reported[id] = true
		*actions = append(*actions, Evidence{Height: m.cfg.Height, Round: r, Validator: id})
	}
}

// Status returns a snapshot of the current round.
func (m *Machine) Status() RoundStatus {
	s := RoundStatus{
		Height:   m.cfg.Height,
		Round:    m.round,
		Phase:    m.phase,
		Proposer: m.cfg.Proposer(m.round),
		Quorum:   m.quorum,
		Total:    m.cfg.Weights.Total(),
	}
	if p, ok := m.proposals[m.round]; ok {
		hash := p.BlockHash
		s.Proposal = &hash
	}
	if vs, ok := m.prevotes[m.round]; ok {
		s.PreVoteWeight = vs.Sum()
		s.PreVotes = vs.Votes()
	}
	if vs, ok := m.precommits[m.round]; ok {
		s.PreCommitWeight = vs.Sum()
		s.PreCommits = vs.Votes()
	}
	if m.locked != nil {
		hash := m.locked.hash
		s.Locked = &hash
	}
	if m.finalized != nil {
		hash := m.finalized.BlockHash
		s.Committed = &hash
	}
	s.Halted = m.halted != nil
	return s
}
