// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package registry

import "github.com/vechain/mpbft/core"

// EventKind names a lifecycle transition.
type EventKind uint8

const (
	EventRegistered EventKind = iota + 1
	EventStakeChanged
	EventJailed
	EventUnjailed
	EventExiting
	EventExited
	EventSlashed
)

func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventStakeChanged:
		return "stake-changed"
	case EventJailed:
		return "jailed"
	case EventUnjailed:
		return "unjailed"
	case EventExiting:
		return "exiting"
	case EventExited:
		return "exited"
	case EventSlashed:
		return "slashed"
	default:
		return "unknown"
	}
}

// Event is emitted after a lifecycle mutation is persisted.
type Event struct {
	Kind      EventKind
	Validator core.Address
	Stake     uint64
	Round     uint64
}
