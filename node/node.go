// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package node assembles the consensus components into a replica. Every
// replicated mutation travels inside a finalized block, so replicas that
// finalize the same blocks hold the same validator, stake and governance state.
package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/archive"
	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/co"
	"github.com/vechain/mpbft/comm"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
	"github.com/vechain/mpbft/governance"
	"github.com/vechain/mpbft/identity"
	"github.com/vechain/mpbft/kv"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/params"
	"github.com/vechain/mpbft/registry"
	"github.com/vechain/mpbft/rewards"
	"github.com/vechain/mpbft/scoring"
	"github.com/vechain/mpbft/slashing"
	"github.com/vechain/mpbft/tx"
	"github.com/vechain/mpbft/txpool"
)

var logger = log.WithContext("pkg", "node")

const (
	maxFutureMessages = 4096
	roundEventBuffer  = 256
	stopTimeout       = 5 * time.Second
)

// Ledger is the block layer the engine finalizes payloads for.
type Ledger interface {
	// BlockTemplate returns the payload to propose at height.
	BlockTemplate(height uint64) ([]byte, error)
	// FinalizedBlock is called once per height, in height order.
	FinalizedBlock(height uint64, hash core.Bytes32, payload []byte, commits []*bft.Vote) error
}

// PayloadValidator is implemented by ledgers that check proposed payloads.
// A rejected payload is pre-voted nil.
type PayloadValidator interface {
	ValidatePayload(height uint64, payload []byte) error
}

// lastCommit is the certificate of the previous height.
type lastCommit struct {
	height  uint64
	round   uint64
	hash    core.Bytes32
	commits []*bft.Vote
	weights *scoring.WeightTable // nil when resumed from the archive
}

// Node is a consensus replica.
type Node struct {
	cfg       Config
	signer    *identity.Signer
	self      core.Address
	ledger    Ledger
	transport comm.Transport
	clock     mclock.Clock

	params   *params.Params
	registry *registry.Registry
	scorer   *scoring.Engine
	verifier *identity.Verifier
	detector *evidence.Detector
	enforcer *slashing.Enforcer
	rewards  *rewards.Distributor
	gov      *governance.Engine
	archive  *archive.Archive
	txPool   *txpool.TxPool
	receipts kv.Store
	proofs   kv.Store

	// owned by the consensus goroutine
	rotation *bft.Rotation
	last     *lastCommit

	mu     sync.Mutex
	ctrl   *bft.Controller
	height uint64 // height being decided
	future map[uint64][]bft.Event
	halted error

	nonce     atomic.Uint64
	roundCh   chan *RoundEvent
	roundFeed event.Feed
	scope     event.SubscriptionScope
	goes      co.Goes
}

// New assembles a node on db. signer is nil for an observer; proofs may be nil
// when no mode uses proofs.
func New(
	cfg Config,
	db kv.Store,
	ledger Ledger,
	proofs scoring.Verifier,
	transport comm.Transport,
	signer *identity.Signer,
) (*Node, error) {
	p, err := params.New(kv.Bucket("c").NewStore(db), cfg.Params)
	if err != nil {
		return nil, errors.Wrap(err, "params")
	}
	reg, err := registry.New(kv.Bucket("v").NewStore(db), p)
	if err != nil {
		return nil, errors.Wrap(err, "registry")
	}
	if len(reg.All()) == 0 {
		for _, g := range cfg.Genesis {
			if _, err := reg.Register(g.ID, g.Stake, g.Storage, g.ConsensusKey, g.Commission, true); err != nil {
				return nil, errors.Wrapf(err, "genesis validator %s", g.ID)
			}
		}
		logger.Info("genesis validators registered", "count", len(cfg.Genesis))
	}
	treasury, err := governance.NewTreasury(kv.Bucket("t").NewStore(db))
	if err != nil {
		return nil, errors.Wrap(err, "treasury")
	}
	gov, err := governance.New(reg, p, treasury, kv.Bucket("p").NewStore(db))
	if err != nil {
		return nil, errors.Wrap(err, "governance")
	}
	enforcer, err := slashing.New(reg, p, kv.Bucket("e").NewStore(db))
	if err != nil {
		return nil, errors.Wrap(err, "slashing")
	}

	verifier := identity.NewVerifier(identity.RegistryResolver{Registry: reg})
	n := &Node{
		cfg:       cfg,
		signer:    signer,
		ledger:    ledger,
		transport: transport,
		clock:     mclock.System{},
		params:    p,
		registry:  reg,
		verifier:  verifier,
		detector:  evidence.NewDetector(p, verifier),
		enforcer:  enforcer,
		rewards:   rewards.New(cfg.Rewards, reg, p, treasury),
		gov:       gov,
		archive:   archive.New(kv.Bucket("r").NewStore(db), cfg.AuditWindow),
		receipts:  kv.Bucket("x").NewStore(db),
		proofs:    kv.Bucket("f").NewStore(db),
		rotation:  bft.NewRotation(),
		future:    make(map[uint64][]bft.Event),
		roundCh:   make(chan *RoundEvent, roundEventBuffer),
	}
	if signer != nil {
		n.self = signer.Address()
	}
	n.nonce.Store(uint64(time.Now().UnixNano()))

	book, err := n.loadProofs()
	if err != nil {
		return nil, err
	}
	n.scorer = scoring.NewEngine(proofs, book)
	n.txPool = txpool.New(cfg.TxPool, n.admitTx, n.clock)
	return n, nil
}

// Close releases the components. Run must have returned.
func (n *Node) Close() {
	n.txPool.Close()
	n.gov.Close()
	n.registry.Close()
	n.scope.Close()
}

// Self returns the local validator id, zero for an observer.
func (n *Node) Self() core.Address {
	return n.self
}

// Run decides heights until ctx is done or the node halts.
func (n *Node) Run(ctx context.Context) error {
	height, err := n.resume()
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.height = height
	n.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	msgCh := make(chan comm.RoundMessage, 256)
	msgSub := n.transport.Subscribe(msgCh)
	txCh := make(chan *txpool.TxEvent, 64)
	txSub := n.txPool.SubscribeTxEvent(txCh)
	regCh := make(chan registry.Event, 64)
	regSub := n.registry.SubscribeEvents(regCh)
	defer func() {
		cancel()
		msgSub.Unsubscribe()
		txSub.Unsubscribe()
		regSub.Unsubscribe()
		if !n.goes.WaitTimeout(stopTimeout) {
			logger.Warn("waiting for background routines to stop")
			n.goes.Wait()
		}
	}()

	n.goes.Go(func() { n.receiveLoop(ctx, msgCh) })
	n.goes.Go(func() { n.txLoop(ctx, txCh) })
	n.goes.Go(func() { n.registryLoop(ctx, regCh) })
	n.goes.Go(func() { n.roundEventLoop(ctx) })

	logger.Info("consensus started", "height", height, "self", n.self)
	for ; ; height++ {
		if err := n.runHeight(ctx, height); err != nil {
			if ctx.Err() != nil {
				logger.Info("consensus stopped", "height", height)
				return nil
			}
			n.mu.Lock()
			n.halted = err
			n.mu.Unlock()
			logger.Error("consensus halted", "height", height, "err", err)
			return err
		}
		if n.cfg.BlockInterval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-n.clock.After(n.cfg.BlockInterval):
			}
		}
	}
}

// resume restores the rotation, the last certificate and the rewards history
// from the archive, returning the next height to decide.
func (n *Node) resume() (uint64, error) {
	head, prio, found, err := n.archive.LoadHead()
	if err != nil {
		return 0, err
	}
	if !found {
		return 1, nil
	}
	n.rotation = bft.LoadRotation(prio)

	rec, err := n.archive.Get(head.Height, head.Round)
	switch {
	case err == nil:
		n.last = &lastCommit{height: head.Height, round: head.Round, hash: head.BlockHash, commits: rec.Commits}
	case !errors.Is(err, archive.ErrNotFound):
		return 0, err
	}

	// participants of height h signed the certificate of h-1
	window := n.cfg.Rewards.Window
	if window == 0 {
		window = rewards.DefaultConfig().Window
	}
	from := uint64(1)
	if head.Height > window {
		from = head.Height - window + 1
	}
	var prev []core.Address
	for h := from - 1; h <= head.Height; h++ {
		var committed *archive.Record
		if h > 0 {
			rounds, err := n.archive.Rounds(h)
			if err != nil {
				return 0, err
			}
			for _, r := range rounds {
				if r.Outcome == archive.Committed {
					committed = r
				}
			}
		}
		if h >= from {
			var faulted []core.Address
			if committed != nil {
				faulted = committed.Faulted
			}
			n.rewards.Restore(h, prev, faulted)
		}
		prev = nil
		if committed != nil {
			prev = signers(committed.Commits)
		}
	}
	logger.Info("resumed", "height", head.Height, "round", head.Round, "hash", head.BlockHash)
	return head.Height + 1, nil
}

func (n *Node) loadProofs() (*scoring.ProofBook, error) {
	book := scoring.NewProofBook()
	var decodeErr error
	err := n.proofs.Iterate(kv.Range{}, func(pair kv.Pair) bool {
		key := pair.Key()
		if len(key) != core.AddressLength+1 {
			return true
		}
		var proof scoring.Proof
		if err := rlp.DecodeBytes(pair.Value(), &proof); err != nil {
			decodeErr = err
			return false
		}
		book.Submit(core.BytesToAddress(key[:core.AddressLength]), scoring.ProofKind(key[core.AddressLength]), proof)
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "load proofs")
	}
	if decodeErr != nil {
		return nil, core.NewError(core.FatalError, core.CorruptedRecord).WithCause(decodeErr)
	}
	return book, nil
}

func proofKey(id core.Address, kind scoring.ProofKind) []byte {
	return append(id.Bytes(), byte(kind))
}

// applyLifecycle reacts to the transitions of a round boundary. Every replica
// advances at the same heights, so the reactions stay replicated.
func (n *Node) applyLifecycle(events []registry.Event) error {
	for _, ev := range events {
		if ev.Kind != registry.EventExited {
			continue
		}
		if n.scorer.Proofs().Drop(ev.Validator) {
			for _, kind := range []scoring.ProofKind{scoring.ProofStorage, scoring.ProofWork} {
				if err := n.proofs.Delete(proofKey(ev.Validator, kind)); err != nil {
					return fatal(core.StorageFailure, err)
				}
			}
		}
		closed, err := n.gov.ValidatorExited(ev.Validator)
		if err != nil {
			return fatal(core.StorageFailure, err)
		}
		logger.Debug("exited validator released", "validator", ev.Validator, "proposals", len(closed))
	}
	return nil
}

// admitTx is the pool's admission check.
func (n *Node) admitTx(t *tx.Transaction) error {
	applied, err := n.receiptExists(t.ID())
	if err != nil {
		return err
	}
	if applied {
		return core.NewError(core.ValidationError, core.AlreadyApplied).WithMsg("tx %s already applied", t.ID().AbbrevString())
	}
	return n.verifier.VerifyTx(t)
}

func signers(votes []*bft.Vote) []core.Address {
	seen := make(map[core.Address]bool, len(votes))
	var out []core.Address
	for _, v := range votes {
		if !seen[v.Validator] {
			seen[v.Validator] = true
			out = append(out, v.Validator)
		}
	}
	return out
}
