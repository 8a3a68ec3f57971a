// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines the Prometheus series the relay exposes at
// /metrics: event throughput by source, drop counts by reason, and queue
// depth gauges for both deployment topologies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the relay's full set of counters and gauges behind a
// single dependency any component can take.
type Metrics struct {
	EventsReceived  *prometheus.CounterVec
	EventsForwarded *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	DLQDepth        prometheus.Gauge
}

// New registers the relay's metric series against reg and returns the
// handle used to record them. Pass prometheus.NewRegistry() in tests to
// avoid colliding with the global default registry across parallel tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_relay_events_received_total",
			Help: "Total webhook deliveries accepted by ingress, by source.",
		}, []string{"source"}),
		EventsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_relay_events_forwarded_total",
			Help: "Total events successfully forwarded to the downstream agent gateway, by source.",
		}, []string{"source"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_relay_events_dropped_total",
			Help: "Total events dropped before or during forwarding, by source and reason.",
		}, []string{"source", "reason"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webhook_relay_queue_depth",
			Help: "Number of events currently pending delivery in the embedded queue.",
		}),
		DLQDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webhook_relay_dlq_depth",
			Help: "Number of events currently parked in the dead-letter queue.",
		}),
	}
}

// IncReceived records one accepted delivery from source.
func (m *Metrics) IncReceived(source string) {
	m.EventsReceived.WithLabelValues(source).Inc()
}

// IncForwarded records one successful forward to the downstream gateway.
func (m *Metrics) IncForwarded(source string) {
	m.EventsForwarded.WithLabelValues(source).Inc()
}

// IncDropped records one dropped event, tagged with the reason it was
// dropped (one of the events.Reason* constants).
func (m *Metrics) IncDropped(source, reason string) {
	m.EventsDropped.WithLabelValues(source, reason).Inc()
}

// SetQueueDepth publishes the current pending-queue size.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// SetDLQDepth publishes the current dead-letter-queue size.
func (m *Metrics) SetDLQDepth(n int) {
	m.DLQDepth.Set(float64(n))
}
