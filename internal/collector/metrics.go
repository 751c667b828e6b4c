package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Grounded on internal/syncer's syncerHeight/chainHeight/blocksBehind/
// syncerErrors gauges, relabeled per chain instead of one global series.
var (
	collectorHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ponder_collector_block_height",
		Help: "Last block height the collector has synced to, per chain",
	}, []string{"chainId"})

	chainHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ponder_chain_block_height",
		Help: "Latest block height reported by the chain RPC, per chain",
	}, []string{"chainId"})

	blocksBehind = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ponder_collector_blocks_behind",
		Help: "Blocks between the collector's synced height and the safe head",
	}, []string{"chainId"})

	collectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ponder_collector_errors_total",
		Help: "Total collector errors by chain and error type",
	}, []string{"chainId", "error_type"})
)
