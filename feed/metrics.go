package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncSignals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlive_feed_signals_total",
		Help: "The total number of change signals received from the content store",
	})

	syncRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airlive_feed_refreshes_total",
		Help: "The total number of feed refetches by result",
	}, []string{"result"})

	syncSubscriptionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlive_feed_subscription_errors_total",
		Help: "The total number of change subscription errors",
	})

	syncConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airlive_feed_connected",
		Help: "Whether the change subscription is currently connected",
	})

	syncUpdates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airlive_feed_updates",
		Help: "The number of updates currently in the feed",
	})
)
