package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FeeRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dynfee_fee_units",
		Help: "Last quoted dynamic fee per pool (hundredths of a bip)",
	}, []string{"pool"})

	Volume24h = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dynfee_volume_window",
		Help: "Windowed trade volume as of the last quote",
	})

	Volatility = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dynfee_volatility_ticks",
		Help: "Absolute tick-cumulative drift over the window",
	}, []string{"pool"})

	Liquidity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dynfee_pool_liquidity",
		Help: "In-range liquidity read for the last quote",
	}, []string{"pool"})

	QuoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dynfee_quote_latency_seconds",
		Help:    "Time to read a pool and blend a fee",
		Buckets: prometheus.DefBuckets, // можно настроить под себя
	})

	Settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dynfee_settlements_total",
		Help: "Completed operations by kind",
	}, []string{"kind"})

	Failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dynfee_failures_total",
		Help: "Aborted operations and quotes by reason",
	}, []string{"reason"})

	LedgerRetained = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dynfee_ledger_retained_records",
		Help: "Trade records still held by the ledger after pruning",
	})
)

func init() {
	prometheus.MustRegister(
		FeeRate,
		Volume24h,
		Volatility,
		Liquidity,
		QuoteLatency,
		Settlements,
		Failures,
		LedgerRetained,
	)
}
