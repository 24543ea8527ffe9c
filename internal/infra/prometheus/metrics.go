package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "poolurl"

// Resolve outcomes.
const (
	ResolveCacheHit      = "cache_hit"
	ResolveStoreHit      = "store_hit"
	ResolveNotFound      = "not_found"
	ResolveInvalidLength = "invalid_length"
	ResolveError         = "error"
)

// Binding creation sources.
const (
	SourceClaimed   = "claimed"
	SourceMinted    = "minted"
	SourceSuggested = "suggested"
	SourceReserved  = "reserved"
)

// Usage results.
const (
	UsageRecorded = "recorded"
	UsageQueued   = "queued"
	UsageDropped  = "dropped"
	UsageFailed   = "failed"
)

var (
	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolve_total",
		Help:      "Redirect resolutions by outcome.",
	}, []string{"outcome"})

	BindingsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bindings_created_total",
		Help:      "Bindings created by source.",
	}, []string{"source"})

	MintAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mint_attempts_total",
		Help:      "Candidate tokens drawn from the generator.",
	})

	MintCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mint_collisions_total",
		Help:      "Candidate tokens rejected because a live binding held them.",
	})

	TokenSpaceExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_space_exhausted_total",
		Help:      "Mint calls that ran out of attempts.",
	})

	ReservedTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reserved_tokens",
		Help:      "Reserved tokens observed by the last replenishment.",
	})

	UsageEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "usage_events_total",
		Help:      "Usage events by result.",
	}, []string{"result"})
)
