/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "xrpc"

// PrometheusSink records into a prometheus.Registerer. Meter names are kept verbatim as the "meter" label so that
// dashboards built on the names keep working.
type PrometheusSink struct {
	Events        *prometheus.CounterVec
	RouteRequests *prometheus.CounterVec
	RouteDuration *prometheus.HistogramVec
	Connections   prometheus.Gauge
}

var _ Sink = (*PrometheusSink)(nil)

// NewPrometheusSink creates and registers all collectors with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	sink := &PrometheusSink{
		Events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Count of well known server events by meter name",
			},
			[]string{"meter"},
		),
		RouteRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "route_requests_total",
				Help:      "Requests handled per route",
			},
			[]string{"route", "status"},
		),
		RouteDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "route_duration_seconds",
				Help:      "Handler latency per route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		Connections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Currently open client connections",
			},
		),
	}

	// every meter is exported from the start, even at zero
	for _, meter := range Meters() {
		sink.Events.WithLabelValues(meter.Name())
	}

	return sink
}

func (sink *PrometheusSink) Mark(meter Meter) {
	sink.Events.WithLabelValues(meter.Name()).Inc()
}

func (sink *PrometheusSink) ObserveRoute(method, pattern string, status int, elapsed time.Duration) {
	name := RouteName(method, pattern)
	sink.RouteRequests.WithLabelValues(name, strconv.Itoa(status)).Inc()
	sink.RouteDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (sink *PrometheusSink) ActiveConnections(delta int64) {
	sink.Connections.Add(float64(delta))
}
