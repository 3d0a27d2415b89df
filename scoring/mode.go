// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package scoring

import (
	"fmt"
	"strings"

	"github.com/vechain/mpbft/core"
)

// Kind tags a consensus mode.
type Kind uint8

const (
	KindStake Kind = iota
	KindStorage
	KindWork
	KindHybrid
	KindPermissioned
)

var kindNames = map[Kind]string{
	KindStake:        "stake",
	KindStorage:      "storage",
	KindWork:         "work",
	KindHybrid:       "hybrid",
	KindPermissioned: "permissioned",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind parses a mode name.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown consensus mode %q", s)
}

// Coefficients weigh each proof dimension. They sum to core.One.
type Coefficients struct {
	Stake   core.Ratio
	Storage core.Ratio
	Work    core.Ratio
}

// Sum returns the total of all coefficients.
func (c Coefficients) Sum() core.Ratio {
	return c.Stake + c.Storage + c.Work
}

// Mode is the tagged consensus mode with its coefficients.
type Mode struct {
	Kind         Kind
	Coefficients Coefficients
}

// ModeOf returns the canonical mode for kind.
func ModeOf(kind Kind) Mode {
	switch kind {
	case KindStorage:
		return Mode{kind, Coefficients{Storage: core.One}}
	case KindWork:
		return Mode{kind, Coefficients{Work: core.One}}
	case KindHybrid:
		third := core.One / 3
		return Mode{kind, Coefficients{Stake: core.One - 2*third, Storage: third, Work: third}}
	case KindPermissioned:
		return Mode{kind, Coefficients{}}
	default:
		return Mode{KindStake, Coefficients{Stake: core.One}}
	}
}

// Validate checks that a non-permissioned mode's coefficients sum to one.
func (m Mode) Validate() error {
	if _, ok := kindNames[m.Kind]; !ok {
		return fmt.Errorf("unknown consensus mode %d", m.Kind)
	}
	if m.Kind == KindPermissioned {
		return nil
	}
	if m.Coefficients.Sum() != core.One {
		return fmt.Errorf("coefficients of %s sum to %s, want 1", m.Kind, m.Coefficients.Sum())
	}
	return nil
}

// usesProofs reports whether storage or work proofs contribute to weight.
func (m Mode) usesProofs() bool {
	return m.Kind != KindPermissioned && (m.Coefficients.Storage > 0 || m.Coefficients.Work > 0)
}
