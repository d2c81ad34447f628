package analytics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics tracks the gateway connection.
var GatewayMetrics = struct {
	Latency    prometheus.Gauge
	Events     *prometheus.CounterVec
	Reconnects *prometheus.CounterVec
}{
	Latency: prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tether_gateway_latency_milliseconds",
			Help: "Gateway latency in milliseconds, measured by heartbeat",
		},
	),
	Events: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_gateway_events_total",
			Help: "Total number of dispatch events received, split by event type",
		},
		[]string{"type"},
	),
	Reconnects: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_gateway_reconnects_total",
			Help: "Total number of gateway reconnects, split by reason",
		},
		[]string{"reason"},
	),
}

// RestMetrics tracks REST requests.
var RestMetrics = struct {
	Requests    *prometheus.CounterVec
	RateLimited *prometheus.CounterVec
}{
	Requests: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_rest_requests_total",
			Help: "Total number of REST requests, split by method, route and status",
		},
		[]string{"method", "route", "status"},
	),
	RateLimited: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_rest_ratelimited_total",
			Help: "Total number of 429 responses, split by scope",
		},
		[]string{"scope"},
	),
}

// Register adds every collector to registerer. Registering twice on the same
// registerer is not an error.
func Register(registerer prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		GatewayMetrics.Latency,
		GatewayMetrics.Events,
		GatewayMetrics.Reconnects,
		RestMetrics.Requests,
		RestMetrics.RateLimited,
	}

	for _, collector := range collectors {
		err := registerer.Register(collector)
		if err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}

			return fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return nil
}

func UpdateGatewayLatency(latency time.Duration) {
	GatewayMetrics.Latency.Set(float64(latency.Milliseconds()))
}

func RecordEvent(eventType string) {
	GatewayMetrics.Events.WithLabelValues(eventType).Inc()
}

func RecordReconnect(reason string) {
	GatewayMetrics.Reconnects.WithLabelValues(reason).Inc()
}

func RecordRequest(method, route string, status int) {
	RestMetrics.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func RecordRateLimited(scope string) {
	RestMetrics.RateLimited.WithLabelValues(scope).Inc()
}
