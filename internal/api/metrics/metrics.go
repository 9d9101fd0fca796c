// Package metrics defines and registers all custom Prometheus metrics for the
// chat backend. It is the single source of truth for metric names, labels,
// and help strings.
//
// Metrics are registered with the default Prometheus registry on package
// initialisation via promauto; /metrics exposes them together with the HTTP
// metrics produced by the echoprometheus middleware. A server scraping a
// custom registry adds the same collectors to it with Register.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat"

// Delivery results.
const (
	DeliveryDelivered = "delivered"
	DeliveryOffline   = "offline"
	DeliveryDropped   = "dropped"
)

// ── Presence metrics ──────────────────────────────────────────────────────────

// LiveConnections tracks the number of open live connections, including
// connections whose user mapping was replaced by a newer one.
var LiveConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_connections",
		Help:      "Current number of open live connections.",
	},
)

// OnlineUsers tracks the size of the presence registry.
var OnlineUsers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online_users",
		Help:      "Current number of users with a registered live connection.",
	},
)

// PresenceTransitionsTotal counts presence changes.
// Label:
//   - transition: "online" or "offline"
var PresenceTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_transitions_total",
		Help:      "Total number of presence transitions, by direction.",
	},
	[]string{"transition"},
)

// ── Message metrics ───────────────────────────────────────────────────────────

// MessagesSentTotal counts messages persisted through the send endpoint.
var MessagesSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Total number of messages persisted.",
	},
)

// DeliveriesTotal counts real-time delivery attempts.
// Label:
//   - result: "delivered", "offline" (recipient not connected) or "dropped"
//     (recipient connection too slow to accept the push)
var DeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Total number of real-time delivery attempts, by result.",
	},
	[]string{"result"},
)

// collectors lists every metric above, in declaration order.
func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		LiveConnections,
		OnlineUsers,
		PresenceTransitionsTotal,
		MessagesSentTotal,
		DeliveriesTotal,
	}
}

// Register adds the chat collectors to reg. Collectors reg already holds are
// skipped, so registering twice, or on the default registry, is harmless.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
