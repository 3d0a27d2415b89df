// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGoes(t *testing.T) {
	var g Goes
	var n atomic.Int32
	for range 10 {
		g.Go(func() { n.Add(1) })
	}
	g.Wait()
	assert.Equal(t, int32(10), n.Load())
}

func TestGoesWaitTimeout(t *testing.T) {
	var g Goes
	release := make(chan struct{})
	g.Go(func() { <-release })

	assert.False(t, g.WaitTimeout(10*time.Millisecond), "routine still blocked")
	close(release)
	assert.True(t, g.WaitTimeout(time.Second))

	var idle Goes
	assert.True(t, idle.WaitTimeout(time.Second), "nothing to wait for")
}
