package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_moderation_decisions",
	Help: "Number of recorded moderation decisions, by decision",
}, []string{"decision"})

var publishFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "relay_publish_failures",
	Help: "Number of approved submissions that could not be published to the channel",
})

var banActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_ban_actions",
	Help: "Number of ban set changes, by action",
}, []string{"action"})

var repliesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_replies_relayed",
	Help: "Number of moderator replies copied to submitters, by result",
}, []string{"result"})
