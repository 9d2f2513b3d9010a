package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections open websocket connections on this instance
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "connections",
		Help:      "Open websocket connections.",
	})

	// Events inbound events by name and result code ("ok" or an error kind)
	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "events_total",
		Help:      "Inbound websocket events by result.",
	}, []string{"event", "result"})

	// Fanout outbound room publishes
	Fanout = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "fanout_total",
		Help:      "Outbound events published to rooms.",
	}, []string{"event"})

	// SlowConsumers connections dropped because their send buffer was full
	SlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "slow_consumers_total",
		Help:      "Connections closed because the send buffer was full.",
	})

	// Fallbacks shared store failures served by the local backend
	Fallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "store_fallbacks_total",
		Help:      "Operations served by the local backend after a shared store error.",
	}, []string{"component"})

	// BackgroundFailures tasks that exhausted their retries
	BackgroundFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "background_failures_total",
		Help:      "Background tasks dropped after the final retry.",
	}, []string{"task"})
)

func init() {
	prometheus.MustRegister(Connections, Events, Fanout, SlowConsumers, Fallbacks, BackgroundFailures)
}

// Handler exposes the default registry on a fiber route
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
