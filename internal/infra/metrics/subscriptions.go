package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionTransitionsTotal,
		subscriptionsSweptTotal,
	)
}

var (
	subscriptionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Subscription state changes by operation and resulting status.",
		},
		[]string{"op", "status"}, // op: renew|failed_payment|cancel|refresh
	)

	subscriptionsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_swept_total",
			Help: "Total number of subscriptions changed by the sweeper.",
		},
	)
)

func IncSubscriptionTransition(op, status string) {
	subscriptionTransitionsTotal.WithLabelValues(norm(op), norm(status)).Inc()
}

func IncSubscriptionsSwept(count int) {
	subscriptionsSweptTotal.Add(float64(count))
}
