// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evidence

import (
	"slices"
	"sync"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/cache"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/scoring"
)

var (
	logger         = log.WithContext("pkg", "evidence")
	metricDetected = metrics.LazyLoadCounterVec("evidence_detected_count", []string{"type"})
)

const (
	emittedCacheSize = 8192
	// votes of this many heights below the current one are kept for detection
	keepHeights = 2
)

// VoteVerifier checks the signature of a vote against the validator's key.
type VoteVerifier interface {
	VerifyVote(v *bft.Vote) error
}

type voteKey struct {
	validator core.Address
	height    uint64
	round     uint64
	phase     bft.Phase
}

// Detector turns observed behaviour into evidence. Detected evidence is queued
// until drained; each fault is emitted once.
type Detector struct {
	mu       sync.Mutex
	params   *params.Params
	verifier VoteVerifier

	votes   map[voteKey]*bft.Vote
	missed  map[core.Address]uint64
	emitted *cache.LRU[core.Bytes32, struct{}]
	pending []*Evidence
	floor   uint64
}

// NewDetector creates a detector. Severities and the unavailability turn
// count are read from p at detection time.
func NewDetector(p *params.Params, verifier VoteVerifier) *Detector {
	emitted, _ := cache.NewLRU[core.Bytes32, struct{}](emittedCacheSize)
	return &Detector{
		params:   p,
		verifier: verifier,
		votes:    make(map[voteKey]*bft.Vote),
		missed:   make(map[core.Address]uint64),
		emitted:  emitted,
	}
}

// ObserveVote records a verified vote. A second vote with a different non-nil
// hash for the same (validator, height, round, phase) yields DoubleVote
// evidence embedding both votes. A conflict involving a nil vote is dropped
// and the first vote is kept.
func (d *Detector) ObserveVote(v *bft.Vote) *Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v.Height < d.floor {
		return nil
	}
	key := voteKey{v.Validator, v.Height, v.Round, v.Phase}
	prev, ok := d.votes[key]
	if !ok {
		d.votes[key] = v
		return nil
	}
	if prev.IsNil() && v.IsNil() || !prev.IsNil() && !v.IsNil() && *prev.BlockHash == *v.BlockHash {
		return nil
	}
	if prev.IsNil() || v.IsNil() {
		logger.Debug("dropped conflicting nil vote", "first", prev, "second", v)
		return nil
	}
	return d.emit(&Evidence{
		Type:      DoubleVote,
		Validator: v.Validator,
		Height:    v.Height,
		Round:     v.Round,
		Votes:     []*bft.Vote{prev, v},
	})
}

// ObserveProposerTurn records whether the proposer of a round proposed.
// UnavailabilityTurns consecutive silent turns yield Unavailability evidence.
func (d *Detector) ObserveProposerTurn(id core.Address, height, round uint64, proposed bool) *Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()

	if proposed {
		delete(d.missed, id)
		return nil
	}
	d.missed[id]++
	if d.missed[id] < d.params.Get(params.UnavailabilityTurns) {
		return nil
	}
	delete(d.missed, id)
	return d.emit(&Evidence{Type: Unavailability, Validator: id, Height: height, Round: round})
}

// ReportUnavailable yields Unavailability evidence for a proposer that never
// proposed in a failed round of a height exceeding its round budget.
func (d *Detector) ReportUnavailable(id core.Address, height, round uint64) *Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emit(&Evidence{Type: Unavailability, Validator: id, Height: height, Round: round})
}

// ObserveProofFailures yields InvalidProof evidence for proofs rejected while
// scoring the given height. Stale proofs are not faults.
func (d *Detector) ObserveProofFailures(height uint64, invalid []scoring.ProofFailure) []*Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Evidence
	for _, f := range invalid {
		ev := d.emit(&Evidence{
			Type:       InvalidProof,
			Validator:  f.ID,
			Height:     height,
			ProofKind:  f.Kind,
			ProofRound: f.Round,
		})
		if ev != nil {
			out = append(out, ev)
		}
	}
	return out
}

// Submit verifies externally submitted evidence and queues it. Only
// DoubleVote evidence is accepted since it is self-certifying.
func (d *Detector) Submit(ev *Evidence) (*Evidence, error) {
	canonical, err := d.Verify(ev)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if out := d.emit(canonical); out != nil {
		return out, nil
	}
	return nil, core.NewError(core.ValidationError, core.AlreadyApplied).
		WithValidator(ev.Validator).
		WithMsg("evidence %s already known", canonical.ID().AbbrevString())
}

// Verify checks external evidence and returns its canonical form, with the
// severity taken from the live parameters.
func (d *Detector) Verify(ev *Evidence) (*Evidence, error) {
	if ev.Type != DoubleVote {
		return nil, core.NewError(core.ValidationError, core.NotEligible).
			WithValidator(ev.Validator).
			WithMsg("%s evidence is only raised locally", ev.Type)
	}
	if len(ev.Votes) != 2 || ev.Votes[0] == nil || ev.Votes[1] == nil {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithMsg("double vote needs two votes")
	}
	a, b := ev.Votes[0], ev.Votes[1]
	if a.Validator != b.Validator || a.Height != b.Height || a.Round != b.Round || a.Phase != b.Phase {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithMsg("votes have different coordinates")
	}
	if !a.Phase.IsVote() {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithMsg("vote phase %s", a.Phase)
	}
	if a.IsNil() || b.IsNil() || *a.BlockHash == *b.BlockHash {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithMsg("votes are not for two distinct blocks")
	}
	for _, v := range ev.Votes {
		if err := d.verifier.VerifyVote(v); err != nil {
			return nil, core.NewError(core.ValidationError, core.InvalidSignature).
				WithValidator(v.Validator).
				WithCause(err)
		}
	}
	return &Evidence{
		Type:      DoubleVote,
		Validator: a.Validator,
		Height:    a.Height,
		Round:     a.Round,
		Severity:  core.Ratio(d.params.Get(params.SeverityDoubleVote)),
		Votes:     []*bft.Vote{a, b},
	}, nil
}

// Drain returns and clears the queued evidence in detection order.
func (d *Detector) Drain() []*Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

// Pending returns the queued evidence without clearing it.
func (d *Detector) Pending() []*Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Evidence(nil), d.pending...)
}

// Known reports whether evidence with id was emitted or accepted.
func (d *Detector) Known(id core.Bytes32) bool {
	return d.emitted.Contains(id)
}

// Forget removes enforced evidence from the queue. The ids stay known, so the
// same faults are not raised again.
func (d *Detector) Forget(ids ...core.Bytes32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.emitted.Add(id, struct{}{})
	}
	d.pending = slices.DeleteFunc(d.pending, func(ev *Evidence) bool {
		return slices.Contains(ids, ev.ID())
	})
}

// Prune forgets votes of heights no longer needed once height is current.
func (d *Detector) Prune(height uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if height <= keepHeights {
		return
	}
	d.floor = height - keepHeights
	for k := range d.votes {
		if k.height < d.floor {
			delete(d.votes, k)
		}
	}
}

func (d *Detector) emit(ev *Evidence) *Evidence {
	ev.Severity = core.Ratio(d.params.Get(ev.Type.SeverityKey()))
	id := ev.ID()
	if d.emitted.Contains(id) {
		return nil
	}
	d.emitted.Add(id, struct{}{})
	d.pending = append(d.pending, ev)

	metricDetected().AddWithLabel(1, map[string]string{"type": ev.Type.String()})
	logger.Info("fault detected", "type", ev.Type, "validator", ev.Validator, "height", ev.Height, "round", ev.Round, "id", id)
	return ev
}
