// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics interface used by services and handlers
type Recorder interface {
	RecordCodeGenerated()
	RecordRedemption(outcome string)
	RecordUnpair()
	RecordGatewayOp(collection, op, outcome string)
	RecordNotification(outcome string)
	RecordFeedError(collection string)
	SetActiveViews(n int)
	SetConnections(n int)
}

// Notification outcomes
const (
	NotificationStored  = "stored"
	NotificationPushed  = "pushed"
	NotificationDropped = "dropped"
	NotificationFailed  = "failed"
)

// Collector records metrics in a Prometheus registry
type Collector struct {
	codesGenerated prometheus.Counter
	redemptions    *prometheus.CounterVec
	unpairs        prometheus.Counter
	gatewayOps     *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	feedErrors     *prometheus.CounterVec
	activeViews    prometheus.Gauge
	connections    prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		codesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "couplesync_pair_codes_generated_total",
			Help: "Total number of pairing codes issued",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "couplesync_pair_redemptions_total",
			Help: "Pairing code redemptions by outcome",
		}, []string{"outcome"}),
		unpairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "couplesync_unpairs_total",
			Help: "Total number of pairs deactivated",
		}),
		gatewayOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "couplesync_gateway_operations_total",
			Help: "Shared collection operations by collection, operation and outcome",
		}, []string{"collection", "op", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "couplesync_partner_notifications_total",
			Help: "Partner notifications by outcome",
		}, []string{"outcome"}),
		feedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "couplesync_change_feed_errors_total",
			Help: "Change feed errors delivered to sync caches",
		}, []string{"collection"}),
		activeViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "couplesync_sync_views_active",
			Help: "Number of bound sync cache views",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "couplesync_websocket_connections",
			Help: "Number of open WebSocket connections",
		}),
	}

	reg.MustRegister(
		c.codesGenerated,
		c.redemptions,
		c.unpairs,
		c.gatewayOps,
		c.notifications,
		c.feedErrors,
		c.activeViews,
		c.connections,
	)

	return c
}

// RecordCodeGenerated counts an issued pairing code
func (c *Collector) RecordCodeGenerated() {
	c.codesGenerated.Inc()
}

// RecordRedemption counts a redemption attempt. outcome is "success" or an error code.
func (c *Collector) RecordRedemption(outcome string) {
	c.redemptions.WithLabelValues(outcome).Inc()
}

// RecordUnpair counts a deactivated pair
func (c *Collector) RecordUnpair() {
	c.unpairs.Inc()
}

// RecordGatewayOp counts a shared collection operation
func (c *Collector) RecordGatewayOp(collection, op, outcome string) {
	c.gatewayOps.WithLabelValues(collection, op, outcome).Inc()
}

// RecordNotification counts a partner notification outcome
func (c *Collector) RecordNotification(outcome string) {
	c.notifications.WithLabelValues(outcome).Inc()
}

// RecordFeedError counts a change feed error
func (c *Collector) RecordFeedError(collection string) {
	c.feedErrors.WithLabelValues(collection).Inc()
}

// SetActiveViews sets the number of bound views
func (c *Collector) SetActiveViews(n int) {
	c.activeViews.Set(float64(n))
}

// SetConnections sets the number of open WebSocket connections
func (c *Collector) SetConnections(n int) {
	c.connections.Set(float64(n))
}

// Nop discards every metric
type Nop struct{}

func (Nop) RecordCodeGenerated() {}
func (Nop) RecordRedemption(string) {}
func (Nop) RecordUnpair() {}
func (Nop) RecordGatewayOp(string, string, string) {}
func (Nop) RecordNotification(string) {}
func (Nop) RecordFeedError(string) {}
func (Nop) SetActiveViews(int) {}
func (Nop) SetConnections(int) {}

// Handler returns the Prometheus scrape handler
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
