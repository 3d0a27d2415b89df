// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package params

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/mpbft/kv"
)

func TestDefaults(t *testing.T) {
	p, err := New(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), p.Get(MinStake))
	assert.Equal(t, uint64(21), p.Get(UnbondingRounds))
	assert.Len(t, Keys(), len(Defaults()))
}

func TestSetValidates(t *testing.T) {
	p, _ := New(nil, nil)

	err := p.Set("no-such-key", 1)
	assert.True(t, errors.Is(err, ErrUnknownKey))

	err = p.Set(TreasurySplit, 2_000_000)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.Equal(t, uint64(100_000), p.Get(TreasurySplit))

	_, err = New(nil, map[Key]uint64{PassThreshold: 0})
	assert.Error(t, err)
}

func TestPersistAndReload(t *testing.T) {
	db := kv.NewMem()
	defer db.Close()
	store := kv.Bucket("c").NewStore(db)

	p, err := New(store, map[Key]uint64{MinStake: 500})
	require.NoError(t, err)
	assert.Equal(t, uint64(500), p.Get(MinStake))

	ch := make(chan Change, 1)
	sub := p.SubscribeChanges(ch)
	defer sub.Unsubscribe()

	require.NoError(t, p.Set(MinStake, 1500))
	change := <-ch
	assert.Equal(t, Change{Key: MinStake, Old: 500, New: 1500}, change)

	reloaded, err := New(store, map[Key]uint64{MinStake: 500})
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), reloaded.Get(MinStake), "persisted value wins over overrides")
}

func TestSnapshotIsFrozen(t *testing.T) {
	p, _ := New(nil, nil)
	snap := p.Snapshot()
	require.NoError(t, p.Set(MinStake, 2000))
	assert.Equal(t, uint64(1000), snap.Get(MinStake))
	assert.Equal(t, uint64(2000), p.Snapshot().Get(MinStake))
	assert.Equal(t, "0.100000", snap.Ratio(TreasurySplit).String())
}
