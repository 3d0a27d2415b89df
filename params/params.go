// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package params holds the live consensus parameters. They start from
// configured defaults and are mutated only by executed governance proposals.
package params

import (
	"encoding/binary"
	"maps"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/log"
)

var logger = log.WithContext("pkg", "params")

// Key names a consensus parameter.
type Key string

const (
	MinStake           Key = "min-stake"
	MinStorage         Key = "min-storage"
	UnbondingRounds    Key = "unbonding-rounds"
	MaxRoundsPerHeight Key = "max-rounds-per-height"
	ConsensusMode      Key = "consensus-mode"
	DominanceCap       Key = "dominance-cap"
	DominanceDecay     Key = "dominance-decay"
	StorageProofWindow Key = "storage-proof-window"
	WorkProofWindow    Key = "work-proof-window"

	BaseBlockReward Key = "base-block-reward"
	TreasurySplit   Key = "treasury-split"

	SeverityDoubleVote     Key = "severity-double-vote"
	SeverityUnavailability Key = "severity-unavailability"
	SeverityInvalidProof   Key = "severity-invalid-proof"
	SlashWindow            Key = "slash-window"
	JailThreshold          Key = "jail-threshold"
	ExitThreshold          Key = "exit-threshold"
	JailRounds             Key = "jail-rounds"
	UnavailabilityTurns    Key = "unavailability-turns"

	SponsorPeriod Key = "sponsor-period"
	SponsorQuorum Key = "sponsor-quorum"
	VotingPeriod  Key = "voting-period"
	PassThreshold Key = "pass-threshold"
)

// bound describes default value and allowed range of a parameter.
type bound struct {
	def      uint64
	min, max uint64
}

// ratio params are in parts per million.
var bounds = map[Key]bound{
	MinStake:           {1000, 0, ^uint64(0)},
	MinStorage:         {0, 0, ^uint64(0)},
	UnbondingRounds:    {21, 1, 1 << 20},
	MaxRoundsPerHeight: {5, 1, 1 << 10},
	ConsensusMode:      {0, 0, 4},
	DominanceCap:       {500_000, 1, core.PPM},
	DominanceDecay:     {500_000, 0, core.PPM},
	StorageProofWindow: {100, 1, 1 << 32},
	WorkProofWindow:    {20, 1, 1 << 32},

	BaseBlockReward: {1_000_000, 0, 1 << 48},
	TreasurySplit:   {100_000, 0, core.PPM},

	SeverityDoubleVote:     {500_000, 0, core.PPM},
	SeverityUnavailability: {10_000, 0, core.PPM},
	SeverityInvalidProof:   {100_000, 0, core.PPM},
	SlashWindow:            {100, 1, 1 << 20},
	JailThreshold:          {300_000, 1, core.PPM},
	ExitThreshold:          {660_000, 1, core.PPM},
	JailRounds:             {50, 1, 1 << 20},
	UnavailabilityTurns:    {3, 1, 1 << 10},

	SponsorPeriod: {10, 1, 1 << 20},
	SponsorQuorum: {100_000, 0, core.PPM},
	VotingPeriod:  {20, 1, 1 << 20},
	PassThreshold: {510_000, 1, core.PPM},
}

// ErrUnknownKey is returned when setting an undefined parameter.
var ErrUnknownKey = errors.New("unknown parameter")

// ErrOutOfRange is returned when a value is outside the allowed range.
var ErrOutOfRange = errors.New("parameter out of range")

// Keys returns all defined parameter keys in lexical order.
func Keys() []Key {
	return slices.Sorted(maps.Keys(bounds))
}

// Defaults returns the built-in default values.
func Defaults() map[Key]uint64 {
	out := make(map[Key]uint64, len(bounds))
	for k, s := range bounds {
		out[k] = s.def
	}
	return out
}

// Validate checks that key is defined and value is within its range.
func Validate(key Key, value uint64) error {
	s, ok := bounds[key]
	if !ok {
		return errors.Wrap(ErrUnknownKey, string(key))
	}
	if value < s.min || value > s.max {
		return errors.Wrapf(ErrOutOfRange, "%s=%d not in [%d, %d]", key, value, s.min, s.max)
	}
	return nil
}

// Change is sent on the change feed after a successful Set.
type Change struct {
	Key      Key
	Old, New uint64
}

// Params is the owned, persisted parameter set.
type Params struct {
	mu     sync.RWMutex
	values map[Key]uint64
	store  kv.Store
	feed   event.Feed
}

// New loads persisted parameters from store, falling back to overrides and
// then to defaults. Overrides are only applied to keys never persisted.
func New(store kv.Store, overrides map[Key]uint64) (*Params, error) {
	p := &Params{values: Defaults(), store: store}
	for k, v := range overrides {
		if err := Validate(k, v); err != nil {
			return nil, err
		}
		p.values[k] = v
	}
	if store == nil {
		return p, nil
	}
	var bad Key
	err := store.Iterate(kv.Range{}, func(pair kv.Pair) bool {
		if len(pair.Value()) != 8 {
			bad = Key(pair.Key())
			return false
		}
		p.values[Key(pair.Key())] = decodeUint(pair.Value())
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "load params")
	}
	if bad != "" {
		return nil, core.NewError(core.FatalError, core.CorruptedRecord).WithMsg("param %s", bad)
	}
	return p, nil
}

// Get returns the current value of key.
func (p *Params) Get(key Key) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[key]
}

// Set validates and stores a new value, notifying subscribers.
func (p *Params) Set(key Key, value uint64) error {
	if err := Validate(key, value); err != nil {
		return err
	}
	p.mu.Lock()
	old := p.values[key]
	if p.store != nil {
		if err := p.store.Put([]byte(key), encodeUint(value)); err != nil {
			p.mu.Unlock()
			return errors.Wrap(err, "persist param")
		}
	}
	p.values[key] = value
	p.mu.Unlock()

	logger.Info("parameter changed", "key", key, "old", old, "new", value)
	p.feed.Send(Change{Key: key, Old: old, New: value})
	return nil
}

// Snapshot returns an immutable copy of all values.
func (p *Params) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{values: maps.Clone(p.values)}
}

// SubscribeChanges delivers a Change for every successful Set.
func (p *Params) SubscribeChanges(ch chan<- Change) event.Subscription {
	return p.feed.Subscribe(ch)
}

// Snapshot is a frozen view of the parameters, taken at round start.
type Snapshot struct {
	values map[Key]uint64
}

// Get returns the value of key at snapshot time.
func (s Snapshot) Get(key Key) uint64 {
	return s.values[key]
}

// Ratio returns a ppm parameter as a ratio.
func (s Snapshot) Ratio(key Key) core.Ratio {
	return core.Ratio(s.values[key])
}

// All returns a copy of all values.
func (s Snapshot) All() map[Key]uint64 {
	return maps.Clone(s.values)
}

func encodeUint(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
