package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pendingBatches = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "relay_media_groups_pending",
	Help: "Number of media groups waiting for their quiet period",
})

var batchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "relay_media_groups_flushed",
	Help: "Number of media groups finalized",
})

var batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "relay_media_group_items",
	Help:    "Number of items per finalized media group",
	Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
})

var lateItems = promauto.NewCounter(prometheus.CounterOpts{
	Name: "relay_media_group_late_items",
	Help: "Number of media group items dropped because their group was already finalized",
})
