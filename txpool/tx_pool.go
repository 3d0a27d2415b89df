// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package txpool holds signed transactions until a block carries them.
package txpool

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vechain/mpbft/co"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
	"github.com/vechain/mpbft/tx"
)

var (
	logger           = log.WithContext("pkg", "txpool")
	metricTxPoolSize = metrics.LazyLoadGauge("txpool_current_tx_count")
)

// Options options for tx pool.
type Options struct {
	Limit           int           `yaml:"limit"`
	LimitPerAccount int           `yaml:"limit-per-account"`
	MaxLifetime     time.Duration `yaml:"max-lifetime"`
}

// DefaultOptions returns the default pool options.
func DefaultOptions() Options {
	return Options{Limit: 2048, LimitPerAccount: 16, MaxLifetime: 10 * time.Minute}
}

// TxEvent is posted when a tx is admitted.
type TxEvent struct {
	Tx *tx.Transaction
}

// Validator checks a tx before admission.
type Validator func(*tx.Transaction) error

type txObject struct {
	*tx.Transaction
	seq       uint64
	timeAdded mclock.AbsTime
}

// TxPool maintains unprocessed transactions in arrival order.
type TxPool struct {
	options  Options
	validate Validator
	clock    mclock.Clock

	lock  sync.RWMutex
	all   map[core.Bytes32]*txObject
	quota map[core.Address]int
	seq   uint64

	ctx    context.Context
	cancel func()
	txFeed event.Feed
	scope  event.SubscriptionScope
	goes   co.Goes
}

// New creates a pool. validate may be nil. Close is required to be called at
// end.
func New(options Options, validate Validator, clock mclock.Clock) *TxPool {
	if options.Limit <= 0 {
		options.Limit = DefaultOptions().Limit
	}
	if options.LimitPerAccount <= 0 {
		options.LimitPerAccount = options.Limit
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool := &TxPool{
		options:  options,
		validate: validate,
		clock:    clock,
		all:      make(map[core.Bytes32]*txObject),
		quota:    make(map[core.Address]int),
		ctx:      ctx,
		cancel:   cancel,
	}
	pool.goes.Go(pool.housekeeping)
	return pool
}

func (p *TxPool) housekeeping() {
	logger.Debug("enter housekeeping")
	defer logger.Debug("leave housekeeping")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if n := p.wash(p.clock.Now()); n > 0 {
				logger.Debug("expired txs", "count", n)
			}
		}
	}
}

// wash drops txs older than the max lifetime.
func (p *TxPool) wash(now mclock.AbsTime) int {
	if p.options.MaxLifetime <= 0 {
		return 0
	}
	p.lock.Lock()
	defer p.lock.Unlock()

	n := 0
	for id, obj := range p.all {
		if time.Duration(now-obj.timeAdded) > p.options.MaxLifetime {
			p.removeLocked(id)
			n++
		}
	}
	metricTxPoolSize().Set(int64(len(p.all)))
	return n
}

// Close stops housekeeping and ends all subscriptions.
func (p *TxPool) Close() {
	p.cancel()
	p.scope.Close()
	p.goes.Wait()
}

// SubscribeTxEvent receives an event for every admitted tx.
func (p *TxPool) SubscribeTxEvent(ch chan *TxEvent) event.Subscription {
	return p.scope.Track(p.txFeed.Subscribe(ch))
}

// Add admits t. A known tx is rejected with an error IsErrKnownTx reports.
func (p *TxPool) Add(t *tx.Transaction) error {
	data, err := rlp.EncodeToBytes(t)
	if err != nil {
		return badTxError{err}
	}
	if len(data) > tx.MaxSize {
		return errTooLarge
	}
	if err := t.Validate(); err != nil {
		return badTxError{err}
	}
	if p.Get(t.ID()) != nil {
		return errKnownTx
	}
	if p.validate != nil {
		if err := p.validate(t); err != nil {
			return badTxError{err}
		}
	}

	p.lock.Lock()
	if _, ok := p.all[t.ID()]; ok {
		p.lock.Unlock()
		return errKnownTx
	}
	if len(p.all) >= p.options.Limit {
		p.lock.Unlock()
		return errPoolFull
	}
	if p.quota[t.Origin()] >= p.options.LimitPerAccount {
		p.lock.Unlock()
		return errQuotaExceeded
	}
	p.seq++
	p.all[t.ID()] = &txObject{Transaction: t, seq: p.seq, timeAdded: p.clock.Now()}
	p.quota[t.Origin()]++
	metricTxPoolSize().Set(int64(len(p.all)))
	p.lock.Unlock()

	logger.Debug("tx added", "id", t.ID(), "kind", t.Kind(), "origin", t.Origin())
	p.goes.Go(func() {
		select {
		case <-p.ctx.Done():
		default:
			p.txFeed.Send(&TxEvent{Tx: t})
		}
	})
	return nil
}

// Get returns the pooled tx of id, or nil.
func (p *TxPool) Get(id core.Bytes32) *tx.Transaction {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if obj, ok := p.all[id]; ok {
		return obj.Transaction
	}
	return nil
}

// Remove drops txs and returns how many were pooled.
func (p *TxPool) Remove(ids ...core.Bytes32) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	n := 0
	for _, id := range ids {
		if p.removeLocked(id) {
			n++
		}
	}
	metricTxPoolSize().Set(int64(len(p.all)))
	return n
}

func (p *TxPool) removeLocked(id core.Bytes32) bool {
	obj, ok := p.all[id]
	if !ok {
		return false
	}
	delete(p.all, id)
	p.quota[obj.Origin()]--
	if p.quota[obj.Origin()] <= 0 {
		delete(p.quota, obj.Origin())
	}
	return true
}

// Executables returns up to limit txs in arrival order.
func (p *TxPool) Executables(limit int) tx.Transactions {
	p.lock.RLock()
	objs := make([]*txObject, 0, len(p.all))
	for _, obj := range p.all {
		objs = append(objs, obj)
	}
	p.lock.RUnlock()

	slices.SortFunc(objs, func(a, b *txObject) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	if limit > 0 && len(objs) > limit {
		objs = objs[:limit]
	}
	txs := make(tx.Transactions, 0, len(objs))
	for _, obj := range objs {
		txs = append(txs, obj.Transaction)
	}
	return txs
}

// Len returns the count of pooled txs.
func (p *TxPool) Len() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.all)
}
