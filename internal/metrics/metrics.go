package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry metrics
	PackCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "packvault_pack_count",
		Help: "Total number of live packs in the registry",
	})

	BundlerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "packvault_bundler_count",
		Help: "Total number of registered bundler presets",
	})

	AllowlistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "packvault_allowlist_size",
		Help: "Current number of allow-listed contracts",
	})

	// Settlement metrics
	BundleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packvault_bundle_requests_total",
			Help: "Total number of bundle settlements",
		},
		[]string{"status"},
	)

	UnbundleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packvault_unbundle_requests_total",
			Help: "Total number of unbundle settlements",
		},
		[]string{"status", "sell_all"},
	)

	BundleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "packvault_bundle_duration_seconds",
		Help:    "Bundle settlement duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	UnbundleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "packvault_unbundle_duration_seconds",
		Help:    "Unbundle settlement duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	SettlementReverts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packvault_settlement_reverts_total",
			Help: "Total number of settlements rolled back to snapshot",
		},
		[]string{"operation", "reason"},
	)

	// Venue metrics
	SwapExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packvault_swap_executions_total",
			Help: "Total number of swaps executed against venues",
		},
		[]string{"router_type", "status"},
	)

	SwapsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packvault_swaps_skipped_total",
		Help: "Total number of sell-all swaps skipped after venue failure",
	})

	LiquidityAdds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packvault_liquidity_adds_total",
			Help: "Total number of liquidity additions",
		},
		[]string{"router_type", "status"},
	)

	LiquidityRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packvault_liquidity_removals_total",
			Help: "Total number of liquidity removals",
		},
		[]string{"router_type", "status"},
	)

	SwapSlippageBps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "packvault_swap_slippage_bps",
		Help:    "Realized swap slippage against quoted minimum in basis points",
		Buckets: []float64{0, 10, 50, 100, 300, 500, 1000, 5000, 10000},
	})

	// Fee and referral metrics
	ProtocolFeesWei = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packvault_protocol_fees_wei_total",
		Help: "Total protocol fees collected in wei",
	})

	ReferralCreditsWei = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packvault_referral_credits_wei_total",
			Help: "Total referral credits booked in wei",
		},
		[]string{"tier"},
	)

	ReferralClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packvault_referral_claims_total",
			Help: "Total referral claim payouts",
		},
		[]string{"status"},
	)

	RefundsWei = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packvault_refunds_wei_total",
		Help: "Total overpayment refunds issued in wei",
	})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packvault_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
