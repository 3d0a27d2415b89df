// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package slashing turns fault evidence into stake penalties, jail terms and
// forced exits.
package slashing

import (
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/cache"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/registry"
)

var (
	logger         = log.WithContext("pkg", "slashing")
	metricOutcomes = metrics.LazyLoadCounterVec("slashing_outcome_count", []string{"type", "outcome"})
	metricPenalty  = metrics.LazyLoadCounter("slashing_penalty_total")
)

const appliedCacheSize = 4096

// Kind is the effect an application had.
type Kind uint8

const (
	Slashed Kind = iota + 1
	Jailed
	ForcedExit
	Ineligible
	AlreadyApplied
)

func (k Kind) String() string {
	switch k {
	case Slashed:
		return "Slashed"
	case Jailed:
		return "Jailed"
	case ForcedExit:
		return "ForcedExit"
	case Ineligible:
		return "Ineligible"
	case AlreadyApplied:
		return "AlreadyApplied"
	default:
		return "Unknown"
	}
}

// Outcome reports what applying one piece of evidence did.
type Outcome struct {
	Kind      Kind
	Validator core.Address
	Penalty   uint64
	Stake     uint64     // stake after the penalty
	Window    core.Ratio // cumulative penalty over the window's reference stake
}

// record is persisted per applied evidence id. Records within the slash window
// also rebuild the rolling penalty history on restart.
type record struct {
	Validator   core.Address
	Type        evidence.Type
	Round       uint64
	Penalty     uint64
	StakeBefore uint64
	Ineligible  bool `rlp:"optional"` // enforced without effect, outside the history
}

// Enforcer applies evidence exactly once per id, serialized per validator.
type Enforcer struct {
	registry *registry.Registry
	params   *params.Params
	store    kv.Store
	applied  *cache.LRU[core.Bytes32, struct{}]

	mu      sync.Mutex
	locks   map[core.Address]*sync.Mutex
	history map[core.Address][]record
}

// New loads applied evidence from store.
func New(reg *registry.Registry, p *params.Params, store kv.Store) (*Enforcer, error) {
	applied, err := cache.NewLRU[core.Bytes32, struct{}](appliedCacheSize)
	if err != nil {
		return nil, err
	}
	e := &Enforcer{
		registry: reg,
		params:   p,
		store:    store,
		applied:  applied,
		locks:    make(map[core.Address]*sync.Mutex),
		history:  make(map[core.Address][]record),
	}

	var decodeErr error
	err = store.Iterate(kv.Range{}, func(pair kv.Pair) bool {
		var rec record
		if err := rlp.DecodeBytes(pair.Value(), &rec); err != nil {
			decodeErr = err
			return false
		}
		if !rec.Ineligible {
			e.history[rec.Validator] = append(e.history[rec.Validator], rec)
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "load applied evidence")
	}
	if decodeErr != nil {
		return nil, core.NewError(core.FatalError, core.CorruptedRecord).WithCause(decodeErr)
	}
	for id, recs := range e.history {
		e.history[id] = e.trim(recs, reg.Round())
	}
	return e, nil
}

// Apply enforces ev. Re-applying an id returns an AlreadyApplied outcome and
// error with no effect. Evidence against an exited validator, or dated after
// its exit request, has no economic effect but is still recorded as applied.
func (e *Enforcer) Apply(ev *evidence.Evidence) (Outcome, error) {
	unlock := e.lock(ev.Validator)
	defer unlock()

	id := ev.ID()
	if done, err := e.isApplied(id); err != nil {
		return Outcome{}, err
	} else if done {
		return Outcome{Kind: AlreadyApplied, Validator: ev.Validator},
			core.NewError(core.ValidationError, core.AlreadyApplied).WithValidator(ev.Validator).WithMsg("evidence %s", id.AbbrevString())
	}

	v, err := e.registry.Get(ev.Validator)
	if err != nil {
		return Outcome{}, err
	}
	if !v.IsSlashable(ev.Height) {
		rec := record{Validator: ev.Validator, Type: ev.Type, Round: ev.Height, StakeBefore: v.Stake(), Ineligible: true}
		if err := kv.PutRLP(e.store, id.Bytes(), &rec); err != nil {
			return Outcome{}, core.NewError(core.FatalError, core.StorageFailure).WithValidator(ev.Validator).WithCause(err)
		}
		e.applied.Add(id, struct{}{})
		logger.Info("evidence has no effect", "validator", ev.Validator, "type", ev.Type, "status", registry.StatusString(v.Status()))
		e.count(ev, Ineligible)
		return Outcome{Kind: Ineligible, Validator: ev.Validator, Stake: v.Stake()}, nil
	}

	rec := record{
		Validator:   ev.Validator,
		Type:        ev.Type,
		Round:       ev.Height,
		Penalty:     ev.Severity.Clamp().Of(v.Stake()),
		StakeBefore: v.Stake(),
	}
	// the id is persisted first so a crash can never charge it twice
	if err := kv.PutRLP(e.store, id.Bytes(), &rec); err != nil {
		return Outcome{}, core.NewError(core.FatalError, core.StorageFailure).WithValidator(ev.Validator).WithCause(err)
	}
	e.applied.Add(id, struct{}{})

	logger.Debug("slashing validator", "validator", ev.Validator, "type", ev.Type, "penalty", rec.Penalty)
	stake, err := e.registry.Slash(ev.Validator, rec.Penalty)
	if err != nil {
		return Outcome{}, err
	}
	metricPenalty().Add(int64(rec.Penalty))

	out := Outcome{Kind: Slashed, Validator: ev.Validator, Penalty: rec.Penalty, Stake: stake}
	out.Window = e.record(rec)

	switch {
	case out.Window >= core.Ratio(e.params.Get(params.ExitThreshold)) && (v.Status() == registry.StatusActive || v.Status() == registry.StatusJailed):
		if err := e.registry.ForceExit(ev.Validator); err != nil {
			return out, err
		}
		out.Kind = ForcedExit
	case out.Window >= core.Ratio(e.params.Get(params.JailThreshold)) && v.Status() == registry.StatusActive:
		until := e.registry.Round() + e.params.Get(params.JailRounds)
		if err := e.registry.Jail(ev.Validator, until); err != nil {
			return out, err
		}
		out.Kind = Jailed
	}

	e.count(ev, out.Kind)
	logger.Info("evidence applied", "validator", ev.Validator, "type", ev.Type, "outcome", out.Kind, "penalty", out.Penalty, "stake", out.Stake, "window", out.Window)
	return out, nil
}

// IsApplied reports whether the evidence id was already enforced.
func (e *Enforcer) IsApplied(id core.Bytes32) (bool, error) {
	return e.isApplied(id)
}

// WindowRatio returns the validator's cumulative penalty ratio over the
// current slash window.
func (e *Enforcer) WindowRatio(id core.Address) core.Ratio {
	e.mu.Lock()
	defer e.mu.Unlock()
	recs := e.trim(e.history[id], e.registry.Round())
	e.history[id] = recs
	return windowRatio(recs)
}

func (e *Enforcer) isApplied(id core.Bytes32) (bool, error) {
	if e.applied.Contains(id) {
		return true, nil
	}
	has, err := e.store.Has(id.Bytes())
	if err != nil {
		return false, core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}
	if has {
		e.applied.Add(id, struct{}{})
	}
	return has, nil
}

// record adds rec to the rolling history and returns the window ratio.
func (e *Enforcer) record(rec record) core.Ratio {
	e.mu.Lock()
	defer e.mu.Unlock()
	round := max(e.registry.Round(), rec.Round)
	recs := e.trim(append(e.history[rec.Validator], rec), round)
	e.history[rec.Validator] = recs
	return windowRatio(recs)
}

// trim drops records that fell out of the window ending at round.
func (e *Enforcer) trim(recs []record, round uint64) []record {
	window := e.params.Get(params.SlashWindow)
	out := recs[:0]
	for _, r := range recs {
		if r.Round+window > round {
			out = append(out, r)
		}
	}
	return out
}

// windowRatio is the summed penalty over the stake held before the oldest
// penalty in the window.
func windowRatio(recs []record) core.Ratio {
	if len(recs) == 0 {
		return 0
	}
	oldest := recs[0]
	var sum uint64
	for _, r := range recs {
		sum += r.Penalty
		if r.Round < oldest.Round {
			oldest = r
		}
	}
	return core.RatioOf(sum, oldest.StakeBefore)
}

func (e *Enforcer) lock(id core.Address) func() {
	e.mu.Lock()
	m, ok := e.locks[id]
	if !ok {
		m = new(sync.Mutex)
		e.locks[id] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (e *Enforcer) count(ev *evidence.Evidence, kind Kind) {
	metricOutcomes().AddWithLabel(1, map[string]string{"type": ev.Type.String(), "outcome": kind.String()})
}
