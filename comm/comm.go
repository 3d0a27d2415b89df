// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package comm carries round messages between consensus nodes.
package comm

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/bft"
	"github.com/vechain/mpbft/core"
	"github.com/vechain/mpbft/evidence"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
	"github.com/vechain/mpbft/tx"
)

var (
	logger           = log.WithContext("pkg", "comm")
	metricPublished  = metrics.LazyLoadCounterVec("comm_published_count", []string{"kind"})
	metricSuppressed = metrics.LazyLoadCounter("comm_suppressed_count")
)

// RoundMessage is the unit exchanged between nodes. Exactly one payload is set.
type RoundMessage struct {
	From     core.Address
	Vote     *bft.Vote          `rlp:"nil"`
	Proposal *bft.Proposal      `rlp:"nil"`
	Evidence *evidence.Evidence `rlp:"nil"`
	Tx       *tx.Transaction    `rlp:"nil"`
}

// Kind names the payload for logs and metrics.
func (m *RoundMessage) Kind() string {
	switch {
	case m.Vote != nil:
		return "vote"
	case m.Proposal != nil:
		return "proposal"
	case m.Evidence != nil:
		return "evidence"
	case m.Tx != nil:
		return "tx"
	default:
		return "empty"
	}
}

// Height returns the consensus height the message belongs to, zero for a tx.
func (m *RoundMessage) Height() uint64 {
	switch {
	case m.Vote != nil:
		return m.Vote.Height
	case m.Proposal != nil:
		return m.Proposal.Height
	case m.Evidence != nil:
		return m.Evidence.Height
	default:
		return 0
	}
}

func (m *RoundMessage) validate() error {
	n := 0
	for _, set := range []bool{m.Vote != nil, m.Proposal != nil, m.Evidence != nil, m.Tx != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return errors.Errorf("message carries %d payloads", n)
	}
	return nil
}

// Encode returns the wire form of m.
func (m *RoundMessage) Encode() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(m)
}

// DecodeRoundMessage parses the wire form of a message.
func DecodeRoundMessage(data []byte) (*RoundMessage, error) {
	var m RoundMessage
	if err := rlp.DecodeBytes(data, &m); err != nil {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithCause(err)
	}
	if err := m.validate(); err != nil {
		return nil, core.NewError(core.ValidationError, core.MalformedMessage).WithCause(err)
	}
	return &m, nil
}

// Transport publishes round messages and delivers those of other nodes.
type Transport interface {
	Publish(msg RoundMessage) error
	Subscribe(ch chan<- RoundMessage) event.Subscription
}

// Hub is an in-process transport shared by several nodes. Every published
// message passes through its wire form, so receivers never share memory with
// the sender.
type Hub struct {
	feed  event.Feed
	scope event.SubscriptionScope

	mu    sync.RWMutex
	muted map[core.Address]bool
}

func NewHub() *Hub {
	return &Hub{muted: make(map[core.Address]bool)}
}

// Mute drops every later message sent by id until unmuted.
func (h *Hub) Mute(id core.Address, muted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.muted[id] = muted
}

// Publish delivers msg to all subscribers. It blocks until each has received
// it, so subscribers must drain their channels.
func (h *Hub) Publish(msg RoundMessage) error {
	h.mu.RLock()
	muted := h.muted[msg.From]
	h.mu.RUnlock()
	if muted {
		metricSuppressed().Add(1)
		return nil
	}

	data, err := msg.Encode()
	if err != nil {
		return core.NewError(core.ValidationError, core.MalformedMessage).WithValidator(msg.From).WithCause(err)
	}
	cpy, err := DecodeRoundMessage(data)
	if err != nil {
		return err
	}
	metricPublished().AddWithLabel(1, map[string]string{"kind": cpy.Kind()})
	logger.Trace("publishing", "kind", cpy.Kind(), "from", cpy.From, "height", cpy.Height(), "bytes", len(data))
	h.feed.Send(*cpy)
	return nil
}

func (h *Hub) Subscribe(ch chan<- RoundMessage) event.Subscription {
	return h.scope.Track(h.feed.Subscribe(ch))
}

// Close ends all subscriptions.
func (h *Hub) Close() {
	h.scope.Close()
}
