// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package health

import (
	"sync"
	"time"

	"github.com/vechain/mpbft/node"
)

// Source reports the node state health is derived from.
type Source interface {
	Status() node.Status
}

// Progress is the last observed finalization.
type Progress struct {
	Height    uint64     `json:"height"`
	Timestamp *time.Time `json:"timestamp"`
}

type Status struct {
	Healthy     bool      `json:"healthy"`
	Halted      bool      `json:"halted"`
	HaltMessage string    `json:"haltMessage,omitempty"`
	Finalized   *Progress `json:"finalized"`
	Validator   bool      `json:"validator"`
}

// Health tracks finalization progress. It is sampled on demand, so a height
// change is noticed at the first query after it happened.
type Health struct {
	lock      sync.Mutex
	source    Source
	finalized uint64
	changed   time.Time
	now       func() time.Time
}

func New(source Source) *Health {
	return &Health{
		source:  source,
		changed: time.Now(),
		now:     time.Now,
	}
}

// Status reports unhealthy when the node halted or nothing finalized within
// maxTimeBetweenHeights.
func (h *Health) Status(maxTimeBetweenHeights time.Duration) *Status {
	s := h.source.Status()

	h.lock.Lock()
	defer h.lock.Unlock()

	now := h.now()
	if s.Finalized != h.finalized {
		h.finalized = s.Finalized
		h.changed = now
	}
	changed := h.changed
	return &Status{
		Healthy:     !s.Halted && now.Sub(changed) <= maxTimeBetweenHeights,
		Halted:      s.Halted,
		HaltMessage: s.HaltMessage,
		Finalized:   &Progress{Height: h.finalized, Timestamp: &changed},
		Validator:   !s.Self.IsZero(),
	}
}
