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
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMeterNames(t *testing.T) {
	expected := map[Meter]string{
		Requests:                "requests",
		ResponseOK:              "responseCodes.ok",
		ResponseCreated:         "responseCodes.created",
		ResponseAccepted:        "responseCodes.accepted",
		ResponseNoContent:       "responseCodes.noContent",
		ResponseBadRequest:      "responseCodes.badRequest",
		ResponseUnauthorized:    "responseCodes.unauthorized",
		ResponseForbidden:       "responseCodes.forbidden",
		ResponseNotFound:        "responseCodes.notFound",
		ResponsePayloadTooLarge: "responseCodes.payloadTooLarge",
		ResponseTooManyRequests: "responseCodes.tooManyRequests",
		ResponseServerError:     "responseCodes.serverError",
	}

	for meter, name := range expected {
		require.Equal(t, name, meter.Name())
	}
}

func TestMeterForStatus(t *testing.T) {
	t.Run("known statuses have a meter", func(t *testing.T) {
		meter, ok := MeterForStatus(http.StatusRequestEntityTooLarge)
		require.True(t, ok)
		require.Equal(t, ResponsePayloadTooLarge, meter)
	})

	t.Run("unknown statuses have none", func(t *testing.T) {
		_, ok := MeterForStatus(http.StatusTeapot)
		require.False(t, ok)
	})
}

func TestMemorySink(t *testing.T) {
	t.Run("concurrent marks are all counted", func(t *testing.T) {
		sink := NewMemorySink()
		wg := sync.WaitGroup{}
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					MarkStatus(sink, http.StatusOK)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int64(5000), sink.Count(ResponseOK))
	})

	t.Run("routes are tracked by method and pattern", func(t *testing.T) {
		sink := NewMemorySink()
		sink.ObserveRoute(http.MethodGet, "/users/{id}", http.StatusOK, time.Millisecond)
		sink.ObserveRoute(http.MethodGet, "/users/{id}", http.StatusInternalServerError, time.Millisecond)

		stats := sink.Route(http.MethodGet, "/users/{id}")
		req := require.New(t)
		req.Equal(int64(2), stats.Count)
		req.Equal(int64(1), stats.Errors)
		req.Equal(int64(2), sink.Snapshot()["routes.GET./users/{id}"])
	})
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.Mark(ResponseServerError)
	sink.Mark(ResponseServerError)
	sink.ActiveConnections(3)
	sink.ActiveConnections(-1)
	sink.ObserveRoute(http.MethodPost, "/orders", http.StatusCreated, 10*time.Millisecond)

	req := require.New(t)
	req.Equal(float64(2), testutil.ToFloat64(sink.Events.WithLabelValues("responseCodes.serverError")))
	req.Equal(float64(0), testutil.ToFloat64(sink.Events.WithLabelValues("responseCodes.ok")))
	req.Equal(float64(2), testutil.ToFloat64(sink.Connections))
	req.Equal(float64(1), testutil.ToFloat64(sink.RouteRequests.WithLabelValues("routes.POST./orders", "201")))
}

func TestLogReporter(t *testing.T) {
	sink := NewMemorySink()
	sink.Mark(Requests)

	reporter := NewLogReporter(sink, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()
}
