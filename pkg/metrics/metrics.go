package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Slot metrics
	SlotReservations *prometheus.CounterVec

	// Appointment metrics
	AppointmentTransitions *prometheus.CounterVec

	// Payment metrics
	PaymentOperations *prometheus.CounterVec

	// Chat metrics
	ChatMessages      prometheus.Counter
	ChatConnections   prometheus.Gauge
	ChatDroppedEvents prometheus.Counter

	// Notification metrics
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec
}

// New creates the application metrics and registers them with reg. Tests pass
// a fresh prometheus.NewRegistry() so repeated construction does not panic.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SlotReservations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slot",
			Name:      "reservations_total",
			Help:      "Slot reserve attempts by outcome",
		}, []string{"outcome"}),

		AppointmentTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"to"}),

		PaymentOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "operations_total",
			Help:      "Payment ledger operations by kind and outcome",
		}, []string{"operation", "outcome"}),

		ChatMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages persisted and broadcast",
		}),
		ChatConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "connections",
			Help:      "Currently open consultation channel connections",
		}),
		ChatDroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "dropped_events_total",
			Help:      "Events not delivered because a connection was too slow",
		}),

		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "sent_total",
			Help:      "Notifications handed to the delivery collaborator",
		}, []string{"kind"}),
		NotificationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "failed_total",
			Help:      "Notifications that failed delivery and were dropped",
		}, []string{"kind"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Read cache lookups by result",
		}, []string{"result"}),
	}
}

// NewNop returns metrics registered against a throwaway registry.
func NewNop() *Metrics {
	return New("test", prometheus.NewRegistry())
}
