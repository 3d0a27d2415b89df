// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package slashing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/registry"
)

var (
	small = core.BytesToAddress([]byte{0xd})
	big   = core.BytesToAddress([]byte{0xa})
	hashX = core.Blake2b([]byte("X"))
	hashY = core.Blake2b([]byte("Y"))
)

type fixture struct {
	db       kv.StoreCloser
	params   *params.Params
	registry *registry.Registry
	enforcer *Enforcer
}

func newFixture(t *testing.T) *fixture {
	db := kv.NewMem()
	t.Cleanup(func() { db.Close() })

	p, err := params.New(kv.Bucket("c").NewStore(db), nil)
	require.NoError(t, err)
	reg, err := registry.New(kv.Bucket("v").NewStore(db), p)
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	_, err = reg.Register(small, 10, 0, []byte{1}, 0, true)
	require.NoError(t, err)
	_, err = reg.Register(big, 10_000, 0, []byte{2}, 0, true)
	require.NoError(t, err)

	e, err := New(reg, p, kv.Bucket("e").NewStore(db))
	require.NoError(t, err)
	return &fixture{db, p, reg, e}
}

func (f *fixture) reload(t *testing.T) *Enforcer {
	e, err := New(f.registry, f.params, kv.Bucket("e").NewStore(f.db))
	require.NoError(t, err)
	return e
}

func doubleVote(id core.Address, height, round uint64, severity core.Ratio) *evidence.Evidence {
	vote := func(h core.Bytes32) *bft.Vote {
		return &bft.Vote{Height: height, Round: round, Phase: bft.PhasePreVote, Validator: id, BlockHash: &h}
	}
	return &evidence.Evidence{
		Type:      evidence.DoubleVote,
		Validator: id,
		Height:    height,
		Round:     round,
		Severity:  severity,
		Votes:     []*bft.Vote{vote(hashX), vote(hashY)},
	}
}

func unavailable(id core.Address, height uint64, severity core.Ratio) *evidence.Evidence {
	return &evidence.Evidence{Type: evidence.Unavailability, Validator: id, Height: height, Severity: severity}
}

func stakeOf(t *testing.T, reg *registry.Registry, id core.Address) uint64 {
	v, err := reg.Get(id)
	require.NoError(t, err)
	return v.Stake()
}

func TestDoubleVoteHalvesStake(t *testing.T) {
	f := newFixture(t)

	out, err := f.enforcer.Apply(doubleVote(small, 1, 0, 500_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), out.Penalty)
	assert.Equal(t, uint64(5), out.Stake)
	assert.Equal(t, core.Ratio(500_000), out.Window)
	assert.Equal(t, Jailed, out.Kind, "half the stake is above the jail threshold")
	assert.Equal(t, uint64(5), stakeOf(t, f.registry, small))

	v, err := f.registry.Get(small)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusJailed, v.Status())
	assert.Equal(t, f.params.Get(params.JailRounds), v.JailedUntil())
}

func TestApplyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ev := doubleVote(small, 1, 0, 500_000)

	_, err := f.enforcer.Apply(ev)
	require.NoError(t, err)

	out, err := f.enforcer.Apply(ev)
	assert.ErrorIs(t, err, core.NewError(core.ValidationError, core.AlreadyApplied))
	assert.Equal(t, AlreadyApplied, out.Kind)
	assert.Equal(t, uint64(5), stakeOf(t, f.registry, small))

	// survives a restart
	e := f.reload(t)
	applied, err := e.IsApplied(ev.ID())
	require.NoError(t, err)
	assert.True(t, applied)
	_, err = e.Apply(ev)
	assert.Equal(t, core.AlreadyApplied, core.CodeOf(err))
	assert.Equal(t, uint64(5), stakeOf(t, f.registry, small))
}

func TestConcurrentDuplicatesChargeOnce(t *testing.T) {
	f := newFixture(t)
	ev := doubleVote(big, 1, 0, 100_000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.enforcer.Apply(ev); err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)
	assert.Equal(t, uint64(9000), stakeOf(t, f.registry, big))
}

func TestStakeIsMonotonic(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.params.Set(params.JailThreshold, core.PPM))
	require.NoError(t, f.params.Set(params.ExitThreshold, core.PPM))

	prev := stakeOf(t, f.registry, big)
	for h := uint64(1); h <= 20; h++ {
		out, err := f.enforcer.Apply(unavailable(big, h, 10_000))
		require.NoError(t, err)
		assert.LessOrEqual(t, out.Stake, prev)
		prev = out.Stake
	}
	assert.Less(t, prev, uint64(10_000))

	// zero severity is still no increase
	out, err := f.enforcer.Apply(unavailable(big, 21, 0))
	require.NoError(t, err)
	assert.Equal(t, prev, out.Stake)
}

func TestWindowThresholds(t *testing.T) {
	f := newFixture(t)

	out, err := f.enforcer.Apply(unavailable(big, 1, 200_000))
	require.NoError(t, err)
	assert.Equal(t, Slashed, out.Kind)
	assert.Equal(t, uint64(8000), out.Stake)

	// 2000 + 1600 of 10_000 crosses the jail threshold
	out, err = f.enforcer.Apply(unavailable(big, 2, 200_000))
	require.NoError(t, err)
	assert.Equal(t, Jailed, out.Kind)
	assert.Equal(t, core.Ratio(360_000), out.Window)

	// 3600 + 3200 crosses the exit threshold
	out, err = f.enforcer.Apply(unavailable(big, 3, 500_000))
	require.NoError(t, err)
	assert.Equal(t, ForcedExit, out.Kind)
	assert.Equal(t, uint64(3200), out.Stake)

	v, err := f.registry.Get(big)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusExiting, v.Status())

	assert.Equal(t, core.Ratio(680_000), f.reload(t).WindowRatio(big), "window rebuilt from records")
}

func TestWindowRolls(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.params.Set(params.SlashWindow, 10))

	_, err := f.enforcer.Apply(unavailable(big, 1, 200_000))
	require.NoError(t, err)

	_, err = f.registry.Advance(20)
	require.NoError(t, err)
	assert.Equal(t, core.Ratio(0), f.enforcer.WindowRatio(big))

	out, err := f.enforcer.Apply(unavailable(big, 20, 200_000))
	require.NoError(t, err)
	assert.Equal(t, Slashed, out.Kind, "earlier penalty is outside the window")
	assert.Equal(t, core.Ratio(200_000), out.Window)
}

func TestIneligible(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Advance(5)
	require.NoError(t, err)
	require.NoError(t, f.registry.Exit(small))

	// after the exit request
	out, err := f.enforcer.Apply(unavailable(small, 6, 500_000))
	require.NoError(t, err)
	assert.Equal(t, Ineligible, out.Kind)
	assert.Equal(t, uint64(10), stakeOf(t, f.registry, small))

	// dated before the exit is still charged while unbonding
	out, err = f.enforcer.Apply(unavailable(small, 4, 500_000))
	require.NoError(t, err)
	assert.Equal(t, Slashed, out.Kind)
	assert.Equal(t, uint64(5), out.Stake)

	_, err = f.registry.Advance(5 + f.params.Get(params.UnbondingRounds))
	require.NoError(t, err)
	out, err = f.enforcer.Apply(unavailable(small, 3, 500_000))
	require.NoError(t, err)
	assert.Equal(t, Ineligible, out.Kind, "exited")
	assert.Equal(t, uint64(5), stakeOf(t, f.registry, small))
}

func TestIneligibleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Advance(5)
	require.NoError(t, err)
	require.NoError(t, f.registry.Exit(small))

	ev := unavailable(small, 6, 500_000)
	out, err := f.enforcer.Apply(ev)
	require.NoError(t, err)
	assert.Equal(t, Ineligible, out.Kind)

	applied, err := f.enforcer.IsApplied(ev.ID())
	require.NoError(t, err)
	assert.True(t, applied)

	for _, e := range []*Enforcer{f.enforcer, f.reload(t)} {
		out, err = e.Apply(ev)
		assert.Equal(t, core.AlreadyApplied, core.CodeOf(err))
		assert.Equal(t, AlreadyApplied, out.Kind)
		assert.Zero(t, e.WindowRatio(small), "no penalty history")
	}
	assert.Equal(t, uint64(10), stakeOf(t, f.registry, small))
}

func TestUnknownValidator(t *testing.T) {
	f := newFixture(t)
	_, err := f.enforcer.Apply(unavailable(core.BytesToAddress([]byte{0xee}), 1, 1))
	assert.Equal(t, core.UnknownValidator, core.CodeOf(err))
}
