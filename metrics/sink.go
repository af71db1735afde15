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

// Package metrics defines the metrics capability xrpc components record into. Components receive a Sink at
// construction time; there is no process wide registry.
package metrics

import (
	"net/http"
	"time"
)

// Meter is a fixed, well known event counter. Its name is a contract for dashboards.
type Meter int

const (
	Requests Meter = iota
	ResponseOK
	ResponseCreated
	ResponseAccepted
	ResponseNoContent
	ResponseBadRequest
	ResponseUnauthorized
	ResponseForbidden
	ResponseNotFound
	ResponsePayloadTooLarge
	ResponseTooManyRequests
	ResponseServiceUnavailable
	ResponseServerError
	ConnectionsRejected

	meterCount
)

var meterNames = [meterCount]string{
	Requests:                   "requests",
	ResponseOK:                 "responseCodes.ok",
	ResponseCreated:            "responseCodes.created",
	ResponseAccepted:           "responseCodes.accepted",
	ResponseNoContent:          "responseCodes.noContent",
	ResponseBadRequest:         "responseCodes.badRequest",
	ResponseUnauthorized:       "responseCodes.unauthorized",
	ResponseForbidden:          "responseCodes.forbidden",
	ResponseNotFound:           "responseCodes.notFound",
	ResponsePayloadTooLarge:    "responseCodes.payloadTooLarge",
	ResponseTooManyRequests:    "responseCodes.tooManyRequests",
	ResponseServiceUnavailable: "responseCodes.serviceUnavailable",
	ResponseServerError:        "responseCodes.serverError",
	ConnectionsRejected:        "connections.rejected",
}

// Name returns the dashboard name of the meter.
func (m Meter) Name() string {
	if m < 0 || m >= meterCount {
		return "unknown"
	}
	return meterNames[m]
}

func (m Meter) String() string {
	return m.Name()
}

// Meters returns every defined meter.
func Meters() []Meter {
	meters := make([]Meter, 0, meterCount)
	for m := Meter(0); m < meterCount; m++ {
		meters = append(meters, m)
	}
	return meters
}

// MeterForStatus returns the meter bound to an HTTP status code. Statuses without a bucket report false.
func MeterForStatus(status int) (Meter, bool) {
	switch status {
	case http.StatusOK:
		return ResponseOK, true
	case http.StatusCreated:
		return ResponseCreated, true
	case http.StatusAccepted:
		return ResponseAccepted, true
	case http.StatusNoContent:
		return ResponseNoContent, true
	case http.StatusBadRequest:
		return ResponseBadRequest, true
	case http.StatusUnauthorized:
		return ResponseUnauthorized, true
	case http.StatusForbidden:
		return ResponseForbidden, true
	case http.StatusNotFound:
		return ResponseNotFound, true
	case http.StatusRequestEntityTooLarge:
		return ResponsePayloadTooLarge, true
	case http.StatusTooManyRequests:
		return ResponseTooManyRequests, true
	case http.StatusServiceUnavailable:
		return ResponseServiceUnavailable, true
	case http.StatusInternalServerError:
		return ResponseServerError, true
	}
	return 0, false
}

// Sink records events. Implementations must be safe for concurrent use.
type Sink interface {
	// Mark increments a fixed meter by one.
	Mark(meter Meter)
	// ObserveRoute records one completed request for the route identified by method and pattern.
	ObserveRoute(method, pattern string, status int, elapsed time.Duration)
	// ActiveConnections adjusts the open connection gauge by delta.
	ActiveConnections(delta int64)
}

// MarkStatus marks the meter bound to status, if any.
func MarkStatus(sink Sink, status int) {
	if meter, ok := MeterForStatus(status); ok {
		sink.Mark(meter)
	}
}

// RouteName returns the name used for per route observations.
func RouteName(method, pattern string) string {
	return "routes." + method + "." + pattern
}

// NopSink discards everything.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) Mark(Meter)                                      {}
func (NopSink) ObserveRoute(string, string, int, time.Duration) {}
func (NopSink) ActiveConnections(int64)                         {}

// MultiSink fans every event out to each of its sinks.
type MultiSink []Sink

var _ Sink = MultiSink(nil)

func (sinks MultiSink) Mark(meter Meter) {
	for _, sink := range sinks {
		sink.Mark(meter)
	}
}

func (sinks MultiSink) ObserveRoute(method, pattern string, status int, elapsed time.Duration) {
	for _, sink := range sinks {
		sink.ObserveRoute(method, pattern, status, elapsed)
	}
}

func (sinks MultiSink) ActiveConnections(delta int64) {
	for _, sink := range sinks {
		sink.ActiveConnections(delta)
	}
}
