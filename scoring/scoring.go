// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package scoring turns a validator's stake, storage and work inputs into a
// composite voting weight in [0, 1], expressed in parts per million.
package scoring

import (
	"context"
	"slices"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/registry"
)

var logger = log.WithContext("pkg", "scoring")

// maxVerifiers bounds concurrent proof verification.
const maxVerifiers = 8

// RoundContext carries everything a score depends on besides the snapshot.
type RoundContext struct {
	Round          uint64
	Mode           Mode
	DominanceCap   core.Ratio
	DominanceDecay core.Ratio
	StorageWindow  uint64
	WorkWindow     uint64
}

// NewRoundContext reads the scoring parameters of a params snapshot.
func NewRoundContext(p params.Snapshot, round uint64) RoundContext {
	return RoundContext{
		Round:          round,
		Mode:           ModeOf(Kind(p.Get(params.ConsensusMode))),
		DominanceCap:   p.Ratio(params.DominanceCap),
		DominanceDecay: p.Ratio(params.DominanceDecay),
		StorageWindow:  p.Get(params.StorageProofWindow),
		WorkWindow:     p.Get(params.WorkProofWindow),
	}
}

// Weight is the composite weight of one validator.
type Weight struct {
	ID    core.Address
	Value uint64
}

// ProofFailure records a proof that did not count toward a weight.
type ProofFailure struct {
	ID    core.Address
	Kind  ProofKind
	Round uint64 // issue round of the proof
	Err   error
}

// WeightTable is the deterministic scoring output for one round.
type WeightTable struct {
	weights []Weight // sorted by id
	total   uint64

	Stale   []ProofFailure
	Invalid []ProofFailure
}

// NewWeightTable builds a table from explicit weights.
func NewWeightTable(weights []Weight) *WeightTable {
	cpy := slices.Clone(weights)
	slices.SortFunc(cpy, func(a, b Weight) int { return a.ID.Compare(b.ID) })
	t := &WeightTable{weights: cpy}
	for _, w := range cpy {
		t.total += w.Value
	}
	return t
}

// Of returns the weight of id, zero when absent.
func (t *WeightTable) Of(id core.Address) uint64 {
	i := sort.Search(len(t.weights), func(i int) bool { return t.weights[i].ID.Compare(id) >= 0 })
	if i < len(t.weights) && t.weights[i].ID == id {
		return t.weights[i].Value
	}
	return 0
}

// Has reports whether id is a member of the table.
func (t *WeightTable) Has(id core.Address) bool {
	i := sort.Search(len(t.weights), func(i int) bool { return t.weights[i].ID.Compare(id) >= 0 })
	return i < len(t.weights) && t.weights[i].ID == id
}

// Total is the summed weight of all members.
func (t *WeightTable) Total() uint64 {
	return t.total
}

// Weights returns all members ordered by id.
func (t *WeightTable) Weights() []Weight {
	return slices.Clone(t.weights)
}

// Len returns the number of members.
func (t *WeightTable) Len() int {
	return len(t.weights)
}

// Engine scores validators. It is stateless apart from its collaborators.
type Engine struct {
	verifier Verifier
	proofs   *ProofBook
}

// NewEngine creates an engine. verifier may be nil when no mode uses proofs.
func NewEngine(verifier Verifier, proofs *ProofBook) *Engine {
	if proofs == nil {
		proofs = NewProofBook()
	}
	return &Engine{verifier: verifier, proofs: proofs}
}

// Proofs returns the proof book the engine reads from.
func (e *Engine) Proofs() *ProofBook {
	return e.proofs
}

// Score returns the weight of one validator. Unlike ScoreAll it fails with
// ErrStaleProof or ErrInvalidProof when that validator's own proof does.
func (e *Engine) Score(ctx context.Context, snap *registry.Snapshot, id core.Address, rc RoundContext) (core.Ratio, error) {
	table, err := e.ScoreAll(ctx, snap, rc)
	if err != nil {
		return 0, err
	}
	if !table.Has(id) {
		return 0, core.NewError(core.ValidationError, core.UnknownValidator).WithValidator(id)
	}
	for _, f := range table.Stale {
		if f.ID == id {
			return 0, core.NewError(core.ValidationError, core.StaleProof).WithValidator(id).WithCause(ErrStaleProof)
		}
	}
	for _, f := range table.Invalid {
		if f.ID == id {
			return 0, core.NewError(core.ConsensusFault, core.InvalidProof).WithValidator(id).WithCause(f.Err)
		}
	}
	return core.Ratio(table.Of(id)), nil
}

type inputs struct {
	stake, storage, work uint64
}

// ScoreAll scores every active validator of snap. Stale or invalid proofs
// contribute zero and are reported on the table.
func (e *Engine) ScoreAll(ctx context.Context, snap *registry.Snapshot, rc RoundContext) (*WeightTable, error) {
	if err := rc.Mode.Validate(); err != nil {
		return nil, err
	}
	active := snap.Active()
	table := &WeightTable{weights: make([]Weight, len(active))}
	if len(active) == 0 {
		return table, nil
	}

	if rc.Mode.Kind == KindPermissioned {
		each := uint64(core.PPM) / uint64(len(active))
		for i, v := range active {
			table.weights[i] = Weight{ID: v.ID, Value: each}
			table.total += each
		}
		return table, nil
	}

	in := make([]inputs, len(active))
	failures := make([][]ProofFailure, len(active))
	if rc.Mode.usesProofs() {
		if err := e.verifyAll(ctx, active, rc, in, failures); err != nil {
			return nil, err
		}
	}

	var totals inputs
	for i, v := range active {
		in[i].stake = v.Stake
		totals.stake += v.Stake
		totals.storage += in[i].storage
		totals.work += in[i].work
	}

	c := rc.Mode.Coefficients
	for i, v := range active {
		ns := normalize(in[i].stake, totals.stake, rc)
		nst := normalize(in[i].storage, totals.storage, rc)
		nw := normalize(in[i].work, totals.work, rc)
		w := (uint64(c.Stake)*uint64(ns) + uint64(c.Storage)*uint64(nst) + uint64(c.Work)*uint64(nw)) / core.PPM
		table.weights[i] = Weight{ID: v.ID, Value: w}
		table.total += w

		for _, f := range failures[i] {
			if errors.Is(f.Err, ErrStaleProof) {
				table.Stale = append(table.Stale, f)
			} else {
				table.Invalid = append(table.Invalid, f)
			}
		}
	}
	return table, nil
}

func (e *Engine) verifyAll(ctx context.Context, active []registry.Entry, rc RoundContext, in []inputs, failures [][]ProofFailure) error {
	if e.verifier == nil {
		return errors.New("mode requires a proof verifier")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxVerifiers)
	for i, v := range active {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if rc.Mode.Coefficients.Storage > 0 {
				score, f := e.verify(v.ID, ProofStorage, rc.Round, rc.StorageWindow)
				if f != nil {
					failures[i] = append(failures[i], *f)
				}
				// proven storage counts up to the declared capacity
				in[i].storage = min(score, v.Storage)
			}
			if rc.Mode.Coefficients.Work > 0 {
				score, f := e.verify(v.ID, ProofWork, rc.Round, rc.WorkWindow)
				if f != nil {
					failures[i] = append(failures[i], *f)
				}
				in[i].work = score
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) verify(id core.Address, kind ProofKind, round, window uint64) (uint64, *ProofFailure) {
	proof, ok := e.proofs.Get(id, kind)
	if !ok {
		return 0, nil
	}
	if proof.Round > round {
		// not yet usable, like an expired proof it only contributes zero
		return 0, &ProofFailure{ID: id, Kind: kind, Round: proof.Round, Err: errors.Wrap(ErrStaleProof, "issued in the future")}
	}
	if round-proof.Round > window {
		return 0, &ProofFailure{ID: id, Kind: kind, Round: proof.Round, Err: ErrStaleProof}
	}

	var (
		score uint64
		err   error
	)
	if kind == ProofStorage {
		score, err = e.verifier.VerifyStorageProof(id, proof)
	} else {
		score, err = e.verifier.VerifyWorkProof(id, proof)
	}
	if err != nil {
		if !errors.Is(err, ErrStaleProof) && !errors.Is(err, ErrInvalidProof) {
			err = errors.Wrap(ErrInvalidProof, err.Error())
		}
		logger.Debug("proof rejected", "validator", id, "kind", kind, "round", proof.Round, "error", err)
		return 0, &ProofFailure{ID: id, Kind: kind, Round: proof.Round, Err: err}
	}
	return score, nil
}

// Rejects reports whether the held proof of kind for id was issued at round
// and fails verification. Verification does not depend on the height it runs
// at, so any replica holding the proof reaches the same answer.
func (e *Engine) Rejects(id core.Address, kind ProofKind, round uint64) bool {
	if e.verifier == nil {
		return false
	}
	proof, ok := e.proofs.Get(id, kind)
	if !ok || proof.Round != round {
		return false
	}
	var err error
	switch kind {
	case ProofStorage:
		_, err = e.verifier.VerifyStorageProof(id, proof)
	case ProofWork:
		_, err = e.verifier.VerifyWorkProof(id, proof)
	default:
		return false
	}
	return err != nil && !errors.Is(err, ErrStaleProof)
}

// normalize returns x's share of total, with any share above the dominance
// cap decayed toward the cap.
func normalize(x, total uint64, rc RoundContext) core.Ratio {
	if total == 0 || x == 0 {
		return 0
	}
	share := core.RatioOf(x, total)
	if share > rc.DominanceCap {
		share = rc.DominanceCap + core.Ratio(rc.DominanceDecay.Of(uint64(share-rc.DominanceCap)))
	}
	return share.Clamp()
}
