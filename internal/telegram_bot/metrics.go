package telegram_bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var updatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_telegram_updates",
	Help: "Number of Telegram updates received, by source",
}, []string{"source"})

var handlerPanics = promauto.NewCounter(prometheus.CounterOpts{
	Name: "relay_handler_panics",
	Help: "Number of update handlers that panicked",
})

var apiCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_telegram_api_calls",
	Help: "Number of Telegram Bot API calls, by method and result",
}, []string{"method", "result"})

var apiLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "relay_telegram_api_duration_seconds",
	Help:    "Latency of Telegram Bot API calls",
	Buckets: prometheus.DefBuckets,
}, []string{"method"})
