// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evidence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/scoring"
)

type stubVerifier struct {
	bad map[core.Bytes32]bool
}

func (s *stubVerifier) VerifyVote(v *bft.Vote) error {
	if s.bad[v.SigningHash()] {
		return errors.New("bad signature")
	}
	return nil
}

var (
	validator = core.BytesToAddress([]byte{0xd})
	hashX     = core.Blake2b([]byte("X"))
	hashY     = core.Blake2b([]byte("Y"))
)

func vote(round uint64, phase bft.Phase, hash *core.Bytes32) *bft.Vote {
	return &bft.Vote{Height: 7, Round: round, Phase: phase, Validator: validator, BlockHash: hash}
}

func newDetector(t *testing.T) (*Detector, *params.Params, *stubVerifier) {
	p, err := params.New(nil, nil)
	require.NoError(t, err)
	v := &stubVerifier{bad: make(map[core.Bytes32]bool)}
	return NewDetector(p, v), p, v
}

func TestDoubleVote(t *testing.T) {
	d, _, _ := newDetector(t)

	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreVote, &hashX)))
	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreVote, &hashX)), "same vote twice")
	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreCommit, &hashY)), "other phase")
	assert.Nil(t, d.ObserveVote(vote(1, bft.PhasePreVote, &hashY)), "other round")

	ev := d.ObserveVote(vote(0, bft.PhasePreVote, &hashY))
	require.NotNil(t, ev)
	assert.Equal(t, DoubleVote, ev.Type)
	assert.Equal(t, validator, ev.Validator)
	assert.Equal(t, uint64(7), ev.Height)
	assert.Equal(t, core.Ratio(500_000), ev.Severity)
	require.Len(t, ev.Votes, 2)
	assert.Equal(t, hashX, *ev.Votes[0].BlockHash)
	assert.Equal(t, hashY, *ev.Votes[1].BlockHash)

	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreVote, &hashY)), "emitted once")

	drained := d.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, ev.ID(), drained[0].ID())
	assert.Empty(t, d.Drain())
}

func TestNilConflictIsNotEvidence(t *testing.T) {
	d, _, _ := newDetector(t)
	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreVote, nil)))
	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreVote, &hashX)))
	// the nil vote was kept, so a later hash is still no double vote
	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreVote, &hashY)))

	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreCommit, &hashX)))
	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreCommit, nil)))
	assert.Empty(t, d.Drain())
}

func TestEvidenceIDIgnoresVoteOrder(t *testing.T) {
	a, b := vote(0, bft.PhasePreVote, &hashX), vote(0, bft.PhasePreVote, &hashY)
	e1 := &Evidence{Type: DoubleVote, Validator: validator, Height: 7, Votes: []*bft.Vote{a, b}}
	e2 := &Evidence{Type: DoubleVote, Validator: validator, Height: 7, Votes: []*bft.Vote{b, a}, Severity: 1}
	assert.Equal(t, e1.ID(), e2.ID())

	p1 := &Evidence{Type: InvalidProof, Validator: validator, Height: 7, ProofKind: scoring.ProofWork, ProofRound: 3}
	p2 := &Evidence{Type: InvalidProof, Validator: validator, Height: 9, ProofKind: scoring.ProofWork, ProofRound: 3}
	assert.Equal(t, p1.ID(), p2.ID(), "same proof, different heights")

	u1 := &Evidence{Type: Unavailability, Validator: validator, Height: 7}
	u2 := &Evidence{Type: Unavailability, Validator: validator, Height: 8}
	assert.NotEqual(t, u1.ID(), u2.ID())
}

func TestUnavailabilityAfterConsecutiveTurns(t *testing.T) {
	d, p, _ := newDetector(t)
	require.Equal(t, uint64(3), p.Get(params.UnavailabilityTurns))

	assert.Nil(t, d.ObserveProposerTurn(validator, 1, 0, false))
	assert.Nil(t, d.ObserveProposerTurn(validator, 2, 0, false))
	assert.Nil(t, d.ObserveProposerTurn(validator, 3, 0, true), "proposing resets the count")
	assert.Nil(t, d.ObserveProposerTurn(validator, 4, 0, false))
	assert.Nil(t, d.ObserveProposerTurn(validator, 5, 0, false))

	ev := d.ObserveProposerTurn(validator, 6, 1, false)
	require.NotNil(t, ev)
	assert.Equal(t, Unavailability, ev.Type)
	assert.Equal(t, uint64(6), ev.Height)
	assert.Equal(t, uint64(1), ev.Round)
	assert.Equal(t, core.Ratio(10_000), ev.Severity)

	// a report for the same turn is deduplicated
	assert.Nil(t, d.ReportUnavailable(validator, 6, 1))
	assert.NotNil(t, d.ReportUnavailable(validator, 6, 2))
	assert.Len(t, d.Drain(), 2)
}

func TestInvalidProofEvidence(t *testing.T) {
	d, p, _ := newDetector(t)
	require.NoError(t, p.Set(params.SeverityInvalidProof, 200_000))

	failures := []scoring.ProofFailure{
		{ID: validator, Kind: scoring.ProofStorage, Round: 4, Err: scoring.ErrInvalidProof},
	}
	evs := d.ObserveProofFailures(10, failures)
	require.Len(t, evs, 1)
	assert.Equal(t, InvalidProof, evs[0].Type)
	assert.Equal(t, core.Ratio(200_000), evs[0].Severity)

	assert.Empty(t, d.ObserveProofFailures(11, failures), "same proof charged once")
}

func TestSubmit(t *testing.T) {
	a, b := vote(0, bft.PhasePreVote, &hashX), vote(0, bft.PhasePreVote, &hashY)

	tests := []struct {
		name string
		ev   *Evidence
		code core.Code
	}{
		{"unavailability", &Evidence{Type: Unavailability, Validator: validator}, core.NotEligible},
		{"one vote", &Evidence{Type: DoubleVote, Votes: []*bft.Vote{a}}, core.MalformedMessage},
		{"other round", &Evidence{Type: DoubleVote, Votes: []*bft.Vote{a, vote(1, bft.PhasePreVote, &hashY)}}, core.MalformedMessage},
		{"nil vote", &Evidence{Type: DoubleVote, Votes: []*bft.Vote{a, vote(0, bft.PhasePreVote, nil)}}, core.MalformedMessage},
		{"same hash", &Evidence{Type: DoubleVote, Votes: []*bft.Vote{a, vote(0, bft.PhasePreVote, &hashX)}}, core.MalformedMessage},
		{"proposal phase", &Evidence{Type: DoubleVote, Votes: []*bft.Vote{vote(0, bft.PhasePropose, &hashX), vote(0, bft.PhasePropose, &hashY)}}, core.MalformedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, _ := newDetector(t)
			_, err := d.Submit(tt.ev)
			assert.ErrorIs(t, err, core.NewError(core.ValidationError, tt.code))
		})
	}

	t.Run("bad signature", func(t *testing.T) {
		d, _, v := newDetector(t)
		v.bad[b.SigningHash()] = true
		_, err := d.Submit(&Evidence{Type: DoubleVote, Votes: []*bft.Vote{a, b}})
		assert.ErrorIs(t, err, core.NewError(core.ValidationError, core.InvalidSignature))
	})

	t.Run("accepted once", func(t *testing.T) {
		d, _, _ := newDetector(t)
		ev, err := d.Submit(&Evidence{Type: DoubleVote, Severity: core.PPM, Votes: []*bft.Vote{a, b}})
		require.NoError(t, err)
		assert.Equal(t, validator, ev.Validator)
		assert.Equal(t, core.Ratio(500_000), ev.Severity, "severity is never taken from the submitter")

		// locally detected copy of the same fault is deduplicated
		d.ObserveVote(b)
		assert.Nil(t, d.ObserveVote(a))

		_, err = d.Submit(&Evidence{Type: DoubleVote, Votes: []*bft.Vote{b, a}})
		assert.ErrorIs(t, err, core.NewError(core.ValidationError, core.AlreadyApplied))
		assert.Len(t, d.Drain(), 1)
	})
}

func TestPrune(t *testing.T) {
	d, _, _ := newDetector(t)
	d.ObserveVote(vote(0, bft.PhasePreVote, &hashX))
	d.Prune(10)
	// height 7 is below the floor now
	assert.Nil(t, d.ObserveVote(vote(0, bft.PhasePreVote, &hashY)))
	assert.Empty(t, d.Drain())
}

func TestPendingAndForget(t *testing.T) {
	d, _, _ := newDetector(t)
	a := d.ReportUnavailable(validator, 7, 0)
	b := d.ReportUnavailable(validator, 7, 1)
	require.NotNil(t, a)
	require.NotNil(t, b)

	assert.Len(t, d.Pending(), 2)
	assert.Len(t, d.Pending(), 2, "pending is not cleared")
	assert.True(t, d.Known(a.ID()))

	d.Forget(a.ID())
	pending := d.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID(), pending[0].ID())

	// faults enforced from a block are never raised again
	other := &Evidence{Type: Unavailability, Validator: validator, Height: 7, Round: 5}
	d.Forget(other.ID())
	assert.True(t, d.Known(other.ID()))
	assert.Nil(t, d.ReportUnavailable(validator, 7, 5))
}
