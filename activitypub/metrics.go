package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inboxActivitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stegofed",
			Name:      "inbox_activities_total",
			Help:      "Inbound activities by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stegofed",
			Name:      "deliveries_total",
			Help:      "Outbound inbox POSTs by outcome.",
		},
		[]string{"outcome"},
	)

	actorFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stegofed",
			Name:      "actor_fetches_total",
			Help:      "Remote actor document fetches by outcome.",
		},
		[]string{"outcome"},
	)

	guardRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stegofed",
			Name:      "url_guard_rejections_total",
			Help:      "Outbound requests refused by the URL guard.",
		},
	)
)
