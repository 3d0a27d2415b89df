// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package core

import (
	"fmt"

	"github.com/holiman/uint256"
)

// PPM is the fixed-point denominator for ratios and composite weights.
const PPM = 1_000_000

// Ratio is a fraction expressed in parts per million.
type Ratio uint64

// Common ratios.
const (
	Zero Ratio = 0
	Half Ratio = PPM / 2
	One  Ratio = PPM
)

// Of returns floor(amount * r / PPM) without intermediate overflow.
func (r Ratio) Of(amount uint64) uint64 {
	return MulDiv(amount, uint64(r), PPM)
}

// Clamp returns r bounded to [0, One].
func (r Ratio) Clamp() Ratio {
	if r > One {
		return One
	}
	return r
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d.%06d", uint64(r)/PPM, uint64(r)%PPM)
}

// RatioOf returns num/den as a Ratio, floored. A zero denominator yields Zero.
func RatioOf(num, den uint64) Ratio {
	if den == 0 {
		return Zero
	}
	return Ratio(MulDiv(num, PPM, den))
}

// MulDiv computes floor(a * b / c) with a 256-bit intermediate.
// The result saturates at max uint64. c must not be zero.
func MulDiv(a, b, c uint64) uint64 {
	var x, y, z uint256.Int
	x.SetUint64(a)
	y.SetUint64(b)
	z.SetUint64(c)
	x.Mul(&x, &y)
	x.Div(&x, &z)
	if !x.IsUint64() {
		return ^uint64(0)
	}
	return x.Uint64()
}
