package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteErrors counts classified failures returned by the remote backend.
	RemoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subtrack_remote_errors_total",
		Help: "Remote backend failures by error kind.",
	}, []string{"kind"})

	// LocalFallbacks counts writes that degraded to the on-device cache.
	LocalFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subtrack_local_fallbacks_total",
		Help: "Subscription writes saved only to the local cache.",
	})

	// Fetches counts collection fetches by outcome.
	Fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subtrack_fetches_total",
		Help: "Subscription collection fetches by outcome (ok, degraded, error, stale).",
	}, []string{"outcome"})

	// SessionRefreshes counts periodic session revalidations by outcome.
	SessionRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subtrack_session_refreshes_total",
		Help: "Periodic session revalidations by outcome (ok, error).",
	}, []string{"outcome"})
)
