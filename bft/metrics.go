// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package bft

import (
	"github.com/vechain/mpbft/metrics"
)

var (
	metricRoundsStarted = metrics.LazyLoadCounter("bft_rounds_started_count")
	metricRoundsFailed  = metrics.LazyLoadCounter("bft_rounds_failed_count")
	metricCommits       = metrics.LazyLoadCounter("bft_committed_count")
	metricInboxDropped  = metrics.LazyLoadCounterVec("bft_inbox_dropped_count", []string{"event"})
	metricRejected      = metrics.LazyLoadCounterVec("bft_rejected_count", []string{"code"})
	metricHeightTime    = metrics.LazyLoadHistogram("bft_height_duration_ms", metrics.Bucket10s)
)
