// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/params"
)

func addr(b byte) core.Address {
	return core.BytesToAddress([]byte{b})
}

func newTestRegistry(t *testing.T) (*Registry, *params.Params, kv.Store) {
	db := kv.NewMem()
	t.Cleanup(func() { db.Close() })

	p, err := params.New(kv.Bucket("c").NewStore(db), nil)
	require.NoError(t, err)
	store := kv.Bucket("v").NewStore(db)
	r, err := New(store, p)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, p, store
}

func TestRegister(t *testing.T) {
	r, p, _ := newTestRegistry(t)

	tests := []struct {
		name    string
		id      core.Address
		stake   uint64
		genesis bool
		code    core.Code
	}{
		{"meets minimum", addr(1), 1000, false, ""},
		{"below minimum", addr(2), 999, false, core.InsufficientStake},
		{"genesis bypasses minimum", addr(3), 10, true, ""},
		{"duplicate", addr(1), 5000, false, core.DuplicateValidator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := r.Register(tt.id, tt.stake, 0, []byte{1}, 0, tt.genesis)
			if tt.code == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.id, id)
				return
			}
			assert.Equal(t, tt.code, core.CodeOf(err))
		})
	}

	require.NoError(t, p.Set(params.MinStorage, 100))
	_, err := r.Register(addr(4), 1000, 50, []byte{1}, 0, false)
	assert.Equal(t, core.InsufficientStorage, core.CodeOf(err))
	assert.True(t, errors.Is(err, core.ErrResource))

	_, err = r.Register(addr(5), 1000, 100, nil, 0, false)
	assert.Equal(t, core.MalformedMessage, core.CodeOf(err))
}

func TestMinStakeChangeAppliesToNewRegistrations(t *testing.T) {
	r, p, _ := newTestRegistry(t)

	require.NoError(t, p.Set(params.MinStake, 1500))
	_, err := r.Register(addr(1), 1200, 0, []byte{1}, 0, false)
	assert.Equal(t, core.InsufficientStake, core.CodeOf(err))
	assert.Equal(t, core.ResourceError, core.KindOf(err))
}

func TestUpdateStake(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	id, err := r.Register(addr(1), 1500, 0, []byte{1}, 0, false)
	require.NoError(t, err)

	stake, err := r.UpdateStake(id, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700), stake)

	stake, err = r.UpdateStake(id, -700)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), stake)

	_, err = r.UpdateStake(id, -1)
	assert.Equal(t, core.BelowMinimum, core.CodeOf(err))

	_, err = r.UpdateStake(addr(9), 1)
	assert.Equal(t, core.UnknownValidator, core.CodeOf(err))

	require.NoError(t, r.Exit(id))
	_, err = r.UpdateStake(id, 1)
	assert.Equal(t, core.InvalidStatus, core.CodeOf(err))
}

func TestJailAndUnjail(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	id, _ := r.Register(addr(1), 1000, 0, []byte{1}, 0, false)

	require.NoError(t, r.Jail(id, 5))
	v, _ := r.Get(id)
	assert.Equal(t, StatusJailed, v.Status())
	assert.False(t, r.Snapshot().Entries()[0].Status == StatusActive)

	err := r.Unjail(id)
	assert.Equal(t, core.InvalidStatus, core.CodeOf(err), "jail term not served")

	events, err := r.Advance(5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventUnjailed, events[0].Kind)

	v, _ = r.Get(id)
	assert.True(t, v.IsActive())
}

func TestJailedBelowMinimumStaysJailed(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	id, _ := r.Register(addr(1), 1000, 0, []byte{1}, 0, false)
	require.NoError(t, r.Jail(id, 1))
	_, err := r.Slash(id, 500)
	require.NoError(t, err)

	events, err := r.Advance(2)
	require.NoError(t, err)
	assert.Empty(t, events)
	v, _ := r.Get(id)
	assert.Equal(t, StatusJailed, v.Status())
}

func TestExitUnbonding(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	id, _ := r.Register(addr(1), 1000, 0, []byte{1}, 0, false)
	_, err := r.Advance(10)
	require.NoError(t, err)

	require.NoError(t, r.Exit(id))
	v, _ := r.Get(id)
	assert.Equal(t, StatusExiting, v.Status())
	assert.Equal(t, uint64(31), *v.UnbondRound())
	assert.True(t, v.IsSlashable(9), "prior-dated evidence still applies")
	assert.False(t, v.IsSlashable(11))

	_, err = r.Slash(id, 100)
	require.NoError(t, err, "unbonding stake is slashable")

	events, _ := r.Advance(30)
	assert.Empty(t, events)

	events, _ = r.Advance(31)
	require.Len(t, events, 1)
	assert.Equal(t, EventExited, events[0].Kind)

	v, _ = r.Get(id)
	assert.Equal(t, StatusExited, v.Status())
	assert.Equal(t, uint64(900), v.Stake())
	assert.False(t, v.IsSlashable(0))
	assert.Empty(t, r.Snapshot().Entries(), "exited validators are archived")
	assert.Len(t, r.All(), 1)

	_, err = r.Slash(id, 1)
	assert.Equal(t, core.InvalidStatus, core.CodeOf(err))
	assert.Equal(t, core.InvalidStatus, core.CodeOf(r.Exit(id)))
}

func TestSlashIsMonotonic(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	id, _ := r.Register(addr(1), 1000, 0, []byte{1}, 0, false)

	before := uint64(1000)
	prev := before
	for _, amount := range []uint64{100, 0, 250, 5000} {
		stake, err := r.Slash(id, amount)
		require.NoError(t, err)
		assert.LessOrEqual(t, stake, prev)
		prev = stake
	}
	v, _ := r.Get(id)
	assert.Equal(t, uint64(0), v.Stake())
	assert.Equal(t, before, v.Slashed())
}

func TestCreditBatchAtomic(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	a, _ := r.Register(addr(1), 1000, 0, []byte{1}, 0, false)
	b, _ := r.Register(addr(2), 1000, 0, []byte{1}, 0, false)

	err := r.CreditBatch([]Credit{{a, 10}, {addr(9), 10}, {b, 10}})
	assert.Equal(t, core.UnknownValidator, core.CodeOf(err))
	va, _ := r.Get(a)
	assert.Equal(t, uint64(1000), va.Stake(), "no partial payout")

	require.NoError(t, r.CreditBatch([]Credit{{a, 10}, {b, 20}, {a, 5}}))
	va, _ = r.Get(a)
	vb, _ := r.Get(b)
	assert.Equal(t, uint64(1015), va.Stake())
	assert.Equal(t, uint64(1020), vb.Stake())
}

func TestRecordActivity(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	a, _ := r.Register(addr(1), 1000, 0, []byte{1}, 0, false)

	require.NoError(t, r.RecordActivity([]core.Address{a, addr(9)}, 7))
	v, _ := r.Get(a)
	assert.Equal(t, uint64(7), v.LastActiveRound())
	assert.Equal(t, uint64(1), v.Reputation())
}

func TestReload(t *testing.T) {
	r, p, store := newTestRegistry(t)
	id, _ := r.Register(addr(1), 1000, 64, []byte{7}, core.Ratio(50_000), false)
	_, err := r.Advance(4)
	require.NoError(t, err)
	require.NoError(t, r.Exit(id))

	reloaded, err := New(store, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), reloaded.Round())
	v, err := reloaded.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), v.Storage())
	assert.Equal(t, []byte{7}, v.ConsensusKey())
	assert.Equal(t, core.Ratio(50_000), v.Commission())
	assert.Equal(t, StatusExiting, v.Status())
	assert.Equal(t, uint64(4), *v.ExitRound())
}

func TestEventsAndSnapshot(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ch := make(chan Event, 8)
	sub := r.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	_, err := r.Register(addr(2), 2000, 0, []byte{1}, 0, false)
	require.NoError(t, err)
	_, err = r.Register(addr(1), 1000, 0, []byte{1}, 0, false)
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, EventRegistered, ev.Kind)
	assert.Equal(t, addr(2), ev.Validator)
	<-ch

	snap := r.Snapshot()
	_, err = r.UpdateStake(addr(1), 500)
	require.NoError(t, err)
	<-ch

	entries := snap.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, addr(1), entries[0].ID, "ordered by id")
	assert.Equal(t, uint64(3000), snap.TotalStake(), "snapshot unaffected by later mutations")

	e, ok := snap.Get(addr(2))
	assert.True(t, ok)
	assert.Equal(t, uint64(2000), e.Stake)
	_, ok = snap.Get(addr(3))
	assert.False(t, ok)
}

func TestAdjustReputation(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Register(addr(1), 1000, 0, []byte{1}, 0, false)
	require.NoError(t, err)

	rep, err := r.AdjustReputation(addr(1), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rep)

	rep, err = r.AdjustReputation(addr(1), -20)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rep, "floored at zero")

	_, err = r.AdjustReputation(addr(9), 1)
	assert.Equal(t, core.UnknownValidator, core.CodeOf(err))
}
