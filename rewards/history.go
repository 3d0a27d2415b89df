// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package rewards

import (
	"github.com/vechain/mpbft/core"
)

// history keeps per-height commit participation and fault counts for the last
// window heights. Observed heights are kept in ascending order.
type history struct {
	window  uint64
	heights []uint64
	signers map[uint64]map[core.Address]bool
	faultAt map[core.Address][]uint64
	latest  uint64
}

func newHistory(window uint64) *history {
	return &history{
		window:  window,
		signers: make(map[uint64]map[core.Address]bool),
		faultAt: make(map[core.Address][]uint64),
	}
}

func (h *history) observe(height uint64, participants []core.Address) {
	set, ok := h.signers[height]
	if !ok {
		set = make(map[core.Address]bool, len(participants))
		h.signers[height] = set
		h.heights = append(h.heights, height)
	}
	for _, id := range participants {
		set[id] = true
	}
	h.advance(height)
}

func (h *history) fault(id core.Address, height uint64) {
	h.faultAt[id] = append(h.faultAt[id], height)
	h.advance(height)
}

// advance drops everything older than the window ending at height.
func (h *history) advance(height uint64) {
	if height <= h.latest {
		return
	}
	h.latest = height
	floor := h.floor()

	i := 0
	for i < len(h.heights) && h.heights[i] < floor {
		delete(h.signers, h.heights[i])
		i++
	}
	h.heights = h.heights[i:]

	for id, faults := range h.faultAt {
		kept := faults[:0]
		for _, f := range faults {
			if f >= floor {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(h.faultAt, id)
		} else {
			h.faultAt[id] = kept
		}
	}
}

func (h *history) floor() uint64 {
	if h.latest < h.window {
		return 0
	}
	return h.latest - h.window + 1
}

// participation is the share of observed heights in the window whose commit
// id signed.
func (h *history) participation(id core.Address) core.Ratio {
	if len(h.heights) == 0 {
		return core.One
	}
	var n uint64
	for _, height := range h.heights {
		if h.signers[height][id] {
			n++
		}
	}
	return core.RatioOf(n, uint64(len(h.heights)))
}

func (h *history) faults(id core.Address) uint64 {
	return uint64(len(h.faultAt[id]))
}
