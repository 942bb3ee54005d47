package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(subscriptionActivationsTotal, subscriptionsExpiredTotal) }

// path: free|paid; result: activated|already_active|already_processed|error
var subscriptionActivationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subscription_activations_total",
		Help: "Subscription activation attempts by path and result.",
	},
	[]string{"path", "result"},
)

func IncActivation(path, result string) {
	subscriptionActivationsTotal.WithLabelValues(norm(path), norm(result)).Inc()
}

var subscriptionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "subscriptions_expired_total",
	Help: "Subscriptions moved to expired after their period ended.",
})

func IncSubscriptionsExpired(n int) {
	subscriptionsExpiredTotal.Add(float64(n))
}
