// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package rewards

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/registry"
	"github.com/vechain/mpbft/scoring"
)

type stubTreasury struct {
	balance uint64
	fail    bool
}

func (s *stubTreasury) Deposit(amount uint64) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.balance += amount
	return nil
}

func (s *stubTreasury) Withdraw(amount uint64) error {
	s.balance -= amount
	return nil
}

var (
	addrA = core.BytesToAddress([]byte{0xa})
	addrB = core.BytesToAddress([]byte{0xb})
	addrC = core.BytesToAddress([]byte{0xc})
	addrD = core.BytesToAddress([]byte{0xd})
)

func newDistributor(t *testing.T) (*Distributor, *registry.Registry, *stubTreasury) {
	db := kv.NewMem()
	t.Cleanup(func() { db.Close() })

	p, err := params.New(kv.Bucket("c").NewStore(db), nil)
	require.NoError(t, err)
	reg, err := registry.New(kv.Bucket("v").NewStore(db), p)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	for _, id := range []core.Address{addrA, addrB, addrC, addrD} {
		_, err := reg.Register(id, 1000, 0, id.Bytes(), 0, true)
		require.NoError(t, err)
	}

	treasury := &stubTreasury{}
	return New(DefaultConfig(), reg, p, treasury), reg, treasury
}

func weights() *scoring.WeightTable {
	return scoring.NewWeightTable([]scoring.Weight{
		{ID: addrA, Value: 40},
		{ID: addrB, Value: 30},
		{ID: addrC, Value: 20},
		{ID: addrD, Value: 10},
	})
}

func stakes(t *testing.T, reg *registry.Registry) map[core.Address]uint64 {
	out := make(map[core.Address]uint64)
	for _, v := range reg.All() {
		out[v.ID()] = v.Stake()
	}
	return out
}

func TestDistribute(t *testing.T) {
	d, reg, treasury := newDistributor(t)

	payout, err := d.Distribute(1, weights(), []core.Address{addrA, addrB, addrC})
	require.NoError(t, err)

	assert.Equal(t, []registry.Credit{
		{Validator: addrA, Amount: 360_000},
		{Validator: addrB, Amount: 270_000},
		{Validator: addrC, Amount: 180_000},
	}, payout.Credits)
	assert.Equal(t, uint64(190_000), payout.Treasury, "split plus the absent share")
	assert.Equal(t, payout.Reward, payout.Paid()+payout.Treasury)
	assert.Equal(t, uint64(190_000), treasury.balance)

	assert.Equal(t, map[core.Address]uint64{
		addrA: 361_000,
		addrB: 271_000,
		addrC: 181_000,
		addrD: 1000,
	}, stakes(t, reg))
}

func TestMultiplier(t *testing.T) {
	t.Run("faults", func(t *testing.T) {
		d, _, _ := newDistributor(t)
		d.RecordFault(addrA, 1)

		payout, err := d.Distribute(1, weights(), []core.Address{addrA})
		require.NoError(t, err)
		require.Len(t, payout.Credits, 1)
		assert.Equal(t, uint64(270_000), payout.Credits[0].Amount)
		assert.Equal(t, core.Ratio(750_000), d.Multiplier(addrA))

		for h := uint64(2); h <= 4; h++ {
			d.RecordFault(addrA, h)
		}
		assert.Equal(t, core.Zero, d.Multiplier(addrA), "floored at zero")
	})

	t.Run("participation", func(t *testing.T) {
		d, _, _ := newDistributor(t)
		_, err := d.Distribute(1, weights(), []core.Address{addrB})
		require.NoError(t, err)

		payout, err := d.Distribute(2, weights(), []core.Address{addrA, addrB})
		require.NoError(t, err)
		assert.Equal(t, registry.Credit{Validator: addrA, Amount: 180_000}, payout.Credits[0])
		assert.Equal(t, registry.Credit{Validator: addrB, Amount: 270_000}, payout.Credits[1])
	})

	t.Run("window", func(t *testing.T) {
		d, _, _ := newDistributor(t)
		d.RecordFault(addrA, 1)
		_, err := d.Distribute(200, weights(), []core.Address{addrA})
		require.NoError(t, err)
		assert.Equal(t, core.One, d.Multiplier(addrA), "fault left the window")
	})
}

func TestDistributeIsAtomic(t *testing.T) {
	t.Run("exited participant", func(t *testing.T) {
		d, reg, treasury := newDistributor(t)
		require.NoError(t, reg.Exit(addrD))
		_, err := reg.Advance(1000)
		require.NoError(t, err)
		before := stakes(t, reg)

		_, err = d.Distribute(1000, weights(), []core.Address{addrA, addrD})
		assert.Equal(t, core.InvalidStatus, core.CodeOf(err))
		assert.Equal(t, before, stakes(t, reg))
		assert.Zero(t, treasury.balance)
	})

	t.Run("treasury failure", func(t *testing.T) {
		d, reg, treasury := newDistributor(t)
		treasury.fail = true
		before := stakes(t, reg)

		_, err := d.Distribute(1, weights(), []core.Address{addrA, addrB})
		assert.Error(t, err)
		assert.Equal(t, before, stakes(t, reg))
	})
}

func TestNoWeight(t *testing.T) {
	d, reg, treasury := newDistributor(t)
	before := stakes(t, reg)

	payout, err := d.Distribute(1, scoring.NewWeightTable(nil), []core.Address{addrA})
	require.NoError(t, err)
	assert.Empty(t, payout.Credits)
	assert.Equal(t, payout.Reward, treasury.balance)
	assert.Equal(t, before, stakes(t, reg))
}

func TestRestore(t *testing.T) {
	d, _, _ := newDistributor(t)
	d.Restore(1, []core.Address{addrB}, []core.Address{addrB})

	payout, err := d.Distribute(2, weights(), []core.Address{addrA, addrB})
	require.NoError(t, err)
	assert.Equal(t, registry.Credit{Validator: addrA, Amount: 180_000}, payout.Credits[0])
	assert.Equal(t, core.Ratio(750_000), d.Multiplier(addrB))
}
