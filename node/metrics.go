// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package node

import "github.com/vechain/mpbft/metrics"

var (
	metricHeight             = metrics.LazyLoadGauge("node_height")
	metricWeight             = metrics.LazyLoadGauge("node_voting_weight")
	metricMessages           = metrics.LazyLoadCounterVec("node_messages_received_count", []string{"kind"})
	metricDropped            = metrics.LazyLoadCounterVec("node_messages_dropped_count", []string{"kind", "code"})
	metricInvalidBlocks      = metrics.LazyLoadCounterVec("node_invalid_blocks_count", []string{"code"})
	metricTxApplied          = metrics.LazyLoadCounterVec("node_tx_applied_count", []string{"kind", "status"})
	metricEvidenceApplied    = metrics.LazyLoadCounterVec("node_evidence_applied_count", []string{"type", "outcome"})
	metricRoundEventsDropped = metrics.LazyLoadCounter("node_round_events_dropped_count")
	metricFinalizeDuration   = metrics.LazyLoadHistogram("node_finalize_duration_ms", metrics.Bucket10s)
)
