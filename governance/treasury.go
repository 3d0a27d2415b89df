// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package governance

import (
	"sync"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/kv"
)

var treasuryKey = []byte("treasury")

type treasuryState struct {
	Balance uint64
	Pending uint64 // reserved for passed spends awaiting execution
}

// Treasury is the governance fund. It is filled by the reward split and
// drained only by executed spend proposals. The balance never goes negative.
type Treasury struct {
	mu    sync.Mutex
	store kv.Store
	state treasuryState
}

// NewTreasury loads the treasury from store.
func NewTreasury(store kv.Store) (*Treasury, error) {
	t := &Treasury{store: store}
	if _, err := kv.GetRLP(store, treasuryKey, &t.state); err != nil {
		return nil, core.NewError(core.FatalError, core.CorruptedRecord).WithCause(err)
	}
	return t, nil
}

// Balance returns the total held, including reserved funds.
func (t *Treasury) Balance() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Balance
}

// Pending returns the amount reserved for passed spends.
func (t *Treasury) Pending() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Pending
}

// Deposit adds amount to the balance.
func (t *Treasury) Deposit(amount uint64) error {
	return t.update(func(s *treasuryState) error {
		sum, overflow := math.SafeAdd(s.Balance, amount)
		if overflow {
			return core.NewError(core.ValidationError, core.MalformedMessage).WithMsg("treasury overflow")
		}
		s.Balance = sum
		return nil
	})
}

// Withdraw removes unreserved funds.
func (t *Treasury) Withdraw(amount uint64) error {
	return t.update(func(s *treasuryState) error {
		if amount > s.Balance-s.Pending {
			return insufficient(amount, s)
		}
		s.Balance -= amount
		return nil
	})
}

// reserve earmarks amount for a passed spend.
func (t *Treasury) reserve(amount uint64) error {
	return t.update(func(s *treasuryState) error {
		if amount > s.Balance-s.Pending {
			return insufficient(amount, s)
		}
		s.Pending += amount
		return nil
	})
}

// disburse pays out a reserved amount.
func (t *Treasury) disburse(amount uint64) error {
	return t.update(func(s *treasuryState) error {
		if amount > s.Pending || amount > s.Balance {
			return insufficient(amount, s)
		}
		s.Pending -= amount
		s.Balance -= amount
		return nil
	})
}

// release returns a reservation to the free balance.
func (t *Treasury) release(amount uint64) error {
	return t.update(func(s *treasuryState) error {
		s.Pending -= min(amount, s.Pending)
		return nil
	})
}

func (t *Treasury) update(fn func(s *treasuryState) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.state
	if err := fn(&next); err != nil {
		return err
	}
	if err := kv.PutRLP(t.store, treasuryKey, &next); err != nil {
		return core.NewError(core.FatalError, core.StorageFailure).WithCause(err)
	}
	t.state = next
	return nil
}

func insufficient(amount uint64, s *treasuryState) error {
	return core.NewError(core.ResourceError, core.InsufficientFunds).
		WithMsg("need %d, available %d", amount, s.Balance-s.Pending)
}
