// Copyright 2026 The Verve Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pubsub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the hub's Prometheus collectors.
type Metrics struct {
	connectionsActive prometheus.Gauge
	framesTotal       *prometheus.CounterVec
	malformedFrames   prometheus.Counter
	publishErrors     prometheus.Counter
}

// WithMetricsRegisterer registers the hub's collectors with reg. Without
// this option each hub uses a private registry, which keeps tests and
// multi-hub setups from colliding on collector names.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(h *Hub) {
		h.metrics = newMetrics(reg)
	}
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "verve",
			Subsystem: "pubsub",
			Name:      "connections_active",
			Help:      "Number of live WebSocket connections.",
		}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verve",
			Subsystem: "pubsub",
			Name:      "frames_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		malformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verve",
			Subsystem: "pubsub",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped because they did not parse.",
		}),
		publishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "verve",
			Subsystem: "pubsub",
			Name:      "publish_errors_total",
			Help:      "Sends that failed during topic fan-out.",
		}),
	}
}
