// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package co tracks the background routines of a component.
package co

import (
	"sync"
	"time"
)

// Goes tracks go routines so their owner can wait for them on shutdown.
// The zero value is ready to use.
type Goes struct {
	wg sync.WaitGroup
}

// Go runs f in a tracked go routine.
func (g *Goes) Go(f func()) {
	g.wg.Go(f)
}

// Wait blocks until every routine started by Go returned.
func (g *Goes) Wait() {
	g.wg.Wait()
}

// WaitTimeout is Wait bounded by timeout. It reports whether all routines
// returned in time.
func (g *Goes) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
