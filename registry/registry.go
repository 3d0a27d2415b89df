// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package registry is the single owner of validator records. Every
// mutation goes through a Registry method, which checks lifecycle rules,
// persists the record and emits a lifecycle event.
package registry

import (
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/params"
)

var logger = log.WithContext("pkg", "registry")

// reputation lost per penalty applied.
const reputationPenalty = 10

// Registry records validators and their lifecycle.
type Registry struct {
	mu         sync.RWMutex
	params     *params.Params
	store      kv.Store
	validators map[core.Address]*body
	round      uint64

	feed  event.Feed
	scope event.SubscriptionScope
}

// New loads all validator records from store.
func New(store kv.Store, p *params.Params) (*Registry, error) {
	r := &Registry{
		params:     p,
		store:      store,
		validators: make(map[core.Address]*body),
	}
	var decodeErr error
	err := store.Iterate(kv.Range{}, func(pair kv.Pair) bool {
		if string(pair.Key()) == roundKey {
			return true
		}
		var b body
		if err := rlp.DecodeBytes(pair.Value(), &b); err != nil {
			decodeErr = err
			return false
		}
		r.validators[b.ID] = &b
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "load validators")
	}
	if decodeErr != nil {
		return nil, core.NewError(core.FatalError, core.CorruptedRecord).WithCause(decodeErr)
	}
	if _, err := kv.GetRLP(store, []byte(roundKey), &r.round); err != nil {
		return nil, core.NewError(core.FatalError, core.CorruptedRecord).WithCause(err)
	}
	return r, nil
}

const roundKey = "round"

// Round returns the lifecycle round last passed to Advance.
func (r *Registry) Round() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round
}

// Get returns the validator with id.
func (r *Registry) Get(id core.Address) (*Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.validators[id]
	if !ok {
		return nil, errUnknown(id)
	}
	return &Validator{b.clone()}, nil
}

// All returns every validator record, including exited ones, ordered by id.
func (r *Registry) All() []*Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Validator, 0, len(r.validators))
	for _, b := range r.validators {
		out = append(out, &Validator{b.clone()})
	}
	slices.SortFunc(out, func(a, b *Validator) int { return a.ID().Compare(b.ID()) })
	return out
}

// Register admits a validator. Non-genesis validators must meet the live
// minimum stake and storage thresholds.
func (r *Registry) Register(id core.Address, stake, storage uint64, consensusKey []byte, commission core.Ratio, isGenesis bool) (core.Address, error) {
	logger.Debug("registering validator", "validator", id, "stake", stake, "storage", storage, "genesis", isGenesis)

	if id.IsZero() || len(consensusKey) == 0 {
		return core.Address{}, core.NewError(core.ValidationError, core.MalformedMessage).WithValidator(id).WithMsg("empty identity or key")
	}
	if commission > core.One {
		return core.Address{}, core.NewError(core.ValidationError, core.MalformedMessage).WithValidator(id).WithMsg("commission above 100%%")
	}
	if !isGenesis {
		if floor := r.params.Get(params.MinStake); stake < floor {
			err := core.NewError(core.ResourceError, core.InsufficientStake).WithValidator(id).WithMsg("stake %d below minimum %d", stake, floor)
			logger.Info("register validator failed", "validator", id, "error", err)
			return core.Address{}, err
		}
		if floor := r.params.Get(params.MinStorage); storage < floor {
			err := core.NewError(core.ResourceError, core.InsufficientStorage).WithValidator(id).WithMsg("storage %d below minimum %d", storage, floor)
			logger.Info("register validator failed", "validator", id, "error", err)
			return core.Address{}, err
		}
	}

	r.mu.Lock()
	if _, ok := r.validators[id]; ok {
		r.mu.Unlock()
		return core.Address{}, core.NewError(core.ValidationError, core.DuplicateValidator).WithValidator(id)
	}
	b := &body{
		ID:              id,
		Stake:           stake,
		Storage:         storage,
		ConsensusKey:    slices.Clone(consensusKey),
		Commission:      uint64(commission),
		Status:          StatusActive,
		RegisteredRound: r.round,
		Genesis:         isGenesis,
	}
	if err := r.commit(b); err != nil {
		r.mu.Unlock()
		return core.Address{}, err
	}
	r.mu.Unlock()

	logger.Info("registered validator", "validator", id, "stake", stake)
	r.feed.Send(Event{Kind: EventRegistered, Validator: id, Stake: stake, Round: r.Round()})
	return id, nil
}

// UpdateStake adds delta to the bonded stake. An Active validator may not
// drop below the minimum stake; it must request exit first.
func (r *Registry) UpdateStake(id core.Address, delta int64) (uint64, error) {
	r.mu.Lock()
	b, err := r.mutable(id)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	if b.Status == StatusExiting || b.Status == StatusExited {
		r.mu.Unlock()
		return 0, errStatus(id, b.Status)
	}

	var newStake uint64
	if delta >= 0 {
		sum, overflow := math.SafeAdd(b.Stake, uint64(delta))
		if overflow {
			r.mu.Unlock()
			return 0, core.NewError(core.ValidationError, core.MalformedMessage).WithValidator(id).WithMsg("stake overflow")
		}
		newStake = sum
	} else {
		dec := uint64(-delta)
		if dec > b.Stake {
			r.mu.Unlock()
			return 0, core.NewError(core.ResourceError, core.BelowMinimum).WithValidator(id).WithMsg("withdraw %d exceeds stake %d", dec, b.Stake)
		}
		newStake = b.Stake - dec
		if floor := r.params.Get(params.MinStake); b.Status == StatusActive && !b.Genesis && newStake < floor {
			r.mu.Unlock()
			return 0, core.NewError(core.ResourceError, core.BelowMinimum).WithValidator(id).WithMsg("stake %d below minimum %d, request exit first", newStake, floor)
		}
	}
	b.Stake = newStake
	if err := r.commit(b); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	round := r.round
	r.mu.Unlock()

	logger.Debug("stake updated", "validator", id, "delta", delta, "stake", newStake)
	r.feed.Send(Event{Kind: EventStakeChanged, Validator: id, Stake: newStake, Round: round})
	return newStake, nil
}

// Jail excludes a validator from consensus until untilRound.
func (r *Registry) Jail(id core.Address, untilRound uint64) error {
	r.mu.Lock()
	b, err := r.mutable(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if b.Status != StatusActive && b.Status != StatusJailed {
		r.mu.Unlock()
		return errStatus(id, b.Status)
	}
	b.Status = StatusJailed
	if untilRound > b.JailedUntil {
		b.JailedUntil = untilRound
	}
	if err := r.commit(b); err != nil {
		r.mu.Unlock()
		return err
	}
	round, stake := r.round, b.Stake
	r.mu.Unlock()

	logger.Info("jailed validator", "validator", id, "until", untilRound)
	r.feed.Send(Event{Kind: EventJailed, Validator: id, Stake: stake, Round: round})
	return nil
}

// Unjail releases a jailed validator once its jail term has passed and its
// stake still meets the minimum.
func (r *Registry) Unjail(id core.Address) error {
	r.mu.Lock()
	b, err := r.mutable(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.unjail(b); err != nil {
		r.mu.Unlock()
		return err
	}
	round, stake := r.round, b.Stake
	r.mu.Unlock()

	logger.Info("unjailed validator", "validator", id)
	r.feed.Send(Event{Kind: EventUnjailed, Validator: id, Stake: stake, Round: round})
	return nil
}

// CanUnjail reports the error Unjail would fail with now, if any.
func (r *Registry) CanUnjail(id core.Address) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.validators[id]
	if !ok {
		return errUnknown(id)
	}
	return r.checkUnjail(b)
}

func (r *Registry) unjail(b *body) error {
	if err := r.checkUnjail(b); err != nil {
		return err
	}
	b.Status = StatusActive
	return r.commit(b)
}

func (r *Registry) checkUnjail(b *body) error {
	if b.Status != StatusJailed {
		return errStatus(b.ID, b.Status)
	}
	if r.round < b.JailedUntil {
		return core.NewError(core.ValidationError, core.InvalidStatus).WithValidator(b.ID).WithMsg("jailed until round %d", b.JailedUntil)
	}
	if floor := r.params.Get(params.MinStake); !b.Genesis && b.Stake < floor {
		return core.NewError(core.ResourceError, core.BelowMinimum).WithValidator(b.ID).WithMsg("stake %d below minimum %d", b.Stake, floor)
	}
	return nil
}

// Exit starts the unbonding window. The stake stays slashable for faults
// dated at or before the exit round until the window elapses.
func (r *Registry) Exit(id core.Address) error {
	r.mu.Lock()
	b, err := r.mutable(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.exit(b); err != nil {
		r.mu.Unlock()
		return err
	}
	round, stake, unbond := r.round, b.Stake, *b.UnbondRound
	r.mu.Unlock()

	logger.Info("validator exiting", "validator", id, "unbond", unbond)
	r.feed.Send(Event{Kind: EventExiting, Validator: id, Stake: stake, Round: round})
	return nil
}

func (r *Registry) exit(b *body) error {
	if b.Status != StatusActive && b.Status != StatusJailed {
		return errStatus(b.ID, b.Status)
	}
	exitRound := r.round
	unbond := exitRound + r.params.Get(params.UnbondingRounds)
	b.Status = StatusExiting
	b.ExitRound = &exitRound
	b.UnbondRound = &unbond
	return r.commit(b)
}

// Slash deducts amount from the validator's stake, capped at the stake, and
// returns the new stake. Stake never increases through this path.
func (r *Registry) Slash(id core.Address, amount uint64) (uint64, error) {
	r.mu.Lock()
	b, err := r.mutable(id)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	if b.Status == StatusExited {
		r.mu.Unlock()
		return 0, errStatus(id, b.Status)
	}
	if amount > b.Stake {
		amount = b.Stake
	}
	b.Stake -= amount
	b.Slashed += amount
	if b.Reputation > reputationPenalty {
		b.Reputation -= reputationPenalty
	} else {
		b.Reputation = 0
	}
	if err := r.commit(b); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	round, stake := r.round, b.Stake
	r.mu.Unlock()

	logger.Info("slashed validator", "validator", id, "amount", amount, "stake", stake)
	r.feed.Send(Event{Kind: EventSlashed, Validator: id, Stake: stake, Round: round})
	return stake, nil
}

// AdjustReputation moves the reputation score by delta, flooring at zero.
func (r *Registry) AdjustReputation(id core.Address, delta int64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.mutable(id)
	if err != nil {
		return 0, err
	}
	switch {
	case delta >= 0:
		b.Reputation += uint64(delta)
	case uint64(-delta) > b.Reputation:
		b.Reputation = 0
	default:
		b.Reputation -= uint64(-delta)
	}
	if err := r.commit(b); err != nil {
		return 0, err
	}
	return b.Reputation, nil
}

// ForceExit moves an Active or Jailed validator into unbonding.
func (r *Registry) ForceExit(id core.Address) error {
	if err := r.Exit(id); err != nil {
		return err
	}
	logger.Warn("forced validator exit", "validator", id)
	return nil
}

// Credit is a single reward payment.
type Credit struct {
	Validator core.Address
	Amount    uint64
}

// CreditBatch applies all credits atomically: either every credit is
// persisted and applied or none is.
func (r *Registry) CreditBatch(credits []Credit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := make(map[core.Address]*body, len(credits))
	for _, c := range credits {
		b, ok := updated[c.Validator]
		if !ok {
			cur, found := r.validators[c.Validator]
			if !found {
				return errUnknown(c.Validator)
			}
			if cur.Status == StatusExited {
				return errStatus(c.Validator, cur.Status)
			}
			b = cur.clone()
			updated[c.Validator] = b
		}
		sum, overflow := math.SafeAdd(b.Stake, c.Amount)
		if overflow {
			return core.NewError(core.ValidationError, core.MalformedMessage).WithValidator(c.Validator).WithMsg("credit overflow")
		}
		b.Stake = sum
	}

	bulk := r.store.Bulk()
	for id, b := range updated {
		if err := kv.PutRLP(bulk, id.Bytes(), b); err != nil {
			return errors.Wrap(err, "credit batch")
		}
	}
	if err := bulk.Write(); err != nil {
		return core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}
	for id, b := range updated {
		r.validators[id] = b
	}
	return nil
}

// RecordActivity marks validators as having taken part in the commit at round.
func (r *Registry) RecordActivity(ids []core.Address, round uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bulk := r.store.Bulk()
	updated := make([]*body, 0, len(ids))
	for _, id := range ids {
		cur, ok := r.validators[id]
		if !ok {
			continue
		}
		b := cur.clone()
		b.LastActiveRound = round
		b.Reputation++
		if err := kv.PutRLP(bulk, id.Bytes(), b); err != nil {
			return err
		}
		updated = append(updated, b)
	}
	if err := bulk.Write(); err != nil {
		return core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}
	for _, b := range updated {
		r.validators[b.ID] = b
	}
	return nil
}

// Advance moves the lifecycle clock to round. It completes unbonding for
// validators whose window has elapsed and releases expired jail terms.
func (r *Registry) Advance(round uint64) ([]Event, error) {
	r.mu.Lock()
	if round < r.round {
		r.mu.Unlock()
		return nil, nil
	}
	r.round = round
	if err := kv.PutRLP(r.store, []byte(roundKey), round); err != nil {
		r.mu.Unlock()
		return nil, core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}

	ids := make([]core.Address, 0, len(r.validators))
	for id := range r.validators {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, core.Address.Compare)

	var events []Event
	for _, id := range ids {
		b := r.validators[id]
		switch {
		case b.Status == StatusExiting && b.UnbondRound != nil && *b.UnbondRound <= round:
			cpy := b.clone()
			cpy.Status = StatusExited
			if err := r.commit(cpy); err != nil {
				r.mu.Unlock()
				return events, err
			}
			events = append(events, Event{Kind: EventExited, Validator: id, Stake: cpy.Stake, Round: round})
		case b.Status == StatusJailed && b.JailedUntil <= round:
			cpy := b.clone()
			if err := r.unjail(cpy); err != nil {
				if core.IsFatal(err) {
					r.mu.Unlock()
					return events, err
				}
				continue
			}
			events = append(events, Event{Kind: EventUnjailed, Validator: id, Stake: cpy.Stake, Round: round})
		}
	}
	r.mu.Unlock()

	for _, ev := range events {
		logger.Debug("lifecycle transition", "validator", ev.Validator, "event", ev.Kind, "round", round)
		r.feed.Send(ev)
	}
	return events, nil
}

// SubscribeEvents delivers lifecycle events.
func (r *Registry) SubscribeEvents(ch chan<- Event) event.Subscription {
	return r.scope.Track(r.feed.Subscribe(ch))
}

// Close ends all event subscriptions.
func (r *Registry) Close() {
	r.scope.Close()
}

// mutable returns a private copy of the record for id. Callers hold mu and
// install the copy through commit.
func (r *Registry) mutable(id core.Address) (*body, error) {
	b, ok := r.validators[id]
	if !ok {
		return nil, errUnknown(id)
	}
	return b.clone(), nil
}

// commit persists b and installs it. Callers hold mu.
func (r *Registry) commit(b *body) error {
	if err := kv.PutRLP(r.store, b.ID.Bytes(), b); err != nil {
		return core.NewError(core.FatalError, core.StorageFailure).WithValidator(b.ID).WithCause(err)
	}
	r.validators[b.ID] = b
	return nil
}

func errUnknown(id core.Address) error {
	return core.NewError(core.ValidationError, core.UnknownValidator).WithValidator(id)
}

func errStatus(id core.Address, s Status) error {
	return core.NewError(core.ValidationError, core.InvalidStatus).WithValidator(id).WithMsg("status %s", StatusString(s))
}
