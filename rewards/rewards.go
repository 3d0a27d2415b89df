// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package rewards pays block rewards to the validators of a commit.
package rewards

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/registry"
	"github.com/vechain/mpbft/scoring"
)

var (
	logger          = log.WithContext("pkg", "rewards")
	metricPaid      = metrics.LazyLoadCounter("rewards_paid_total")
	metricTreasury  = metrics.LazyLoadCounter("rewards_treasury_total")
	metricRollbacks = metrics.LazyLoadCounter("rewards_rollback_count")
)

// Config tunes the performance multiplier.
type Config struct {
	Window       uint64     `yaml:"window"`        // heights of participation history
	FaultPenalty core.Ratio `yaml:"fault-penalty"` // multiplier reduction per fault in the window
}

func DefaultConfig() Config {
	return Config{Window: 100, FaultPenalty: 250_000}
}

// Treasury receives the split and every unpaid remainder.
type Treasury interface {
	Deposit(amount uint64) error
	Withdraw(amount uint64) error
}

// Payout is the computed distribution for one committed height.
type Payout struct {
	Height   uint64
	Reward   uint64 // base block reward
	Treasury uint64 // split plus withheld rewards and dust
	Credits  []registry.Credit
}

// Paid sums the validator credits.
func (p *Payout) Paid() uint64 {
	var sum uint64
	for _, c := range p.Credits {
		sum += c.Amount
	}
	return sum
}

// Distributor computes and applies payouts. It tracks participation and
// faults over the last Window heights for the performance multiplier.
type Distributor struct {
	cfg      Config
	registry *registry.Registry
	params   *params.Params
	treasury Treasury

	mu      sync.Mutex
	history *history
}

func New(cfg Config, reg *registry.Registry, p *params.Params, treasury Treasury) *Distributor {
	if cfg.Window == 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Distributor{
		cfg:      cfg,
		registry: reg,
		params:   p,
		treasury: treasury,
		history:  newHistory(cfg.Window),
	}
}

// RecordFault counts a penalized fault against id at height.
func (d *Distributor) RecordFault(id core.Address, height uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history.fault(id, height)
}

// Restore replays the participation and faults of an already paid height,
// rebuilding the history after a restart.
func (d *Distributor) Restore(height uint64, participants, faulted []core.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history.observe(height, participants)
	for _, id := range faulted {
		d.history.fault(id, height)
	}
}

// Multiplier returns the current performance multiplier of id.
func (d *Distributor) Multiplier(id core.Address) core.Ratio {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.multiplier(id)
}

func (d *Distributor) multiplier(id core.Address) core.Ratio {
	participation := d.history.participation(id)
	penalty := uint64(d.cfg.FaultPenalty) * d.history.faults(id)
	if penalty >= uint64(participation) {
		return core.Zero
	}
	return participation - core.Ratio(penalty)
}

// Distribute records the commit participants of height and pays them. All
// credits and the treasury deposit are applied together or not at all.
func (d *Distributor) Distribute(height uint64, weights *scoring.WeightTable, participants []core.Address) (*Payout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history.observe(height, participants)
	payout := d.compute(height, weights, participants)

	for _, c := range payout.Credits {
		v, err := d.registry.Get(c.Validator)
		if err != nil {
			return nil, err
		}
		if v.Status() == registry.StatusExited {
			return nil, core.NewError(core.ValidationError, core.InvalidStatus).WithValidator(c.Validator).WithMsg("credit to exited validator")
		}
	}

	logger.Debug("distributing rewards", "height", height, "reward", payout.Reward, "validators", len(payout.Credits), "treasury", payout.Treasury)
	if err := d.treasury.Deposit(payout.Treasury); err != nil {
		return nil, errors.Wrap(err, "treasury deposit")
	}
	if err := d.registry.CreditBatch(payout.Credits); err != nil {
		metricRollbacks().Add(1)
		if rerr := d.treasury.Withdraw(payout.Treasury); rerr != nil {
			return nil, core.NewError(core.FatalError, core.StorageFailure).WithCause(rerr).WithMsg("treasury rollback after %v", err)
		}
		return nil, err
	}

	metricPaid().Add(int64(payout.Paid()))
	metricTreasury().Add(int64(payout.Treasury))
	logger.Info("rewards distributed", "height", height, "paid", payout.Paid(), "treasury", payout.Treasury)
	return payout, nil
}

// compute splits the base reward. Each participant earns
// pool × weight / total × multiplier; everything else goes to the treasury.
func (d *Distributor) compute(height uint64, weights *scoring.WeightTable, participants []core.Address) *Payout {
	reward := d.params.Get(params.BaseBlockReward)
	split := core.Ratio(d.params.Get(params.TreasurySplit)).Clamp().Of(reward)
	pool := reward - split

	payout := &Payout{Height: height, Reward: reward}
	total := weights.Total()
	if total == 0 {
		payout.Treasury = reward
		return payout
	}

	var (
		seen = make(map[core.Address]bool, len(participants))
		den  = new(uint256.Int).Mul(uint256.NewInt(total), uint256.NewInt(core.PPM))
		paid uint64
	)
	for _, id := range participants {
		w := weights.Of(id)
		if w == 0 || seen[id] {
			continue
		}
		seen[id] = true

		amount := new(uint256.Int).Mul(uint256.NewInt(pool), uint256.NewInt(w))
		amount.Mul(amount, uint256.NewInt(uint64(d.multiplier(id))))
		amount.Div(amount, den)
		if amount.IsZero() {
			continue
		}
		// bounded by pool since w <= total and the multiplier <= One
		payout.Credits = append(payout.Credits, registry.Credit{Validator: id, Amount: amount.Uint64()})
		paid += amount.Uint64()
	}
	payout.Treasury = reward - paid
	return payout
}
