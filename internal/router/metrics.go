package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var submissionsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_submissions_routed",
	Help: "Number of submissions forwarded to the moderation group, by kind",
}, []string{"kind"})

var submissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_submissions_rejected",
	Help: "Number of inbound messages not forwarded, by reason",
}, []string{"reason"})

var dispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_dispatch_failures",
	Help: "Number of failed steps while forwarding a submission, by step",
}, []string{"step"})

var dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "relay_dispatch_duration_seconds",
	Help:    "Time spent forwarding one submission to the moderation group",
	Buckets: prometheus.DefBuckets,
}, []string{"kind"})
