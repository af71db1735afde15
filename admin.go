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

package xrpc

import (
	"bytes"
	"net/http"
	"runtime"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/debugz"
	"github.com/prometheus/common/expfmt"
	"github.com/xrpc-go/xrpc/health"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

// RouteInfo describes one registered route in the admin route listing.
type RouteInfo struct {
	Method  string `json:"method" yaml:"method" msgpack:"method"`
	Path    string `json:"path" yaml:"path" msgpack:"path"`
	Service string `json:"service,omitempty" yaml:"service,omitempty" msgpack:"service,omitempty"`
}

// HealthReport is the body of the admin health route.
type HealthReport struct {
	Healthy bool                    `json:"healthy" yaml:"healthy" msgpack:"healthy"`
	Checks  map[string]HealthStatus `json:"checks" yaml:"checks" msgpack:"checks"`
}

type HealthStatus struct {
	Healthy  bool   `json:"healthy" yaml:"healthy" msgpack:"healthy"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty" msgpack:"message,omitempty"`
	Duration string `json:"duration" yaml:"duration" msgpack:"duration"`
}

// newAdminService builds the "admin" service. Info routes expose the route listing, configuration, metrics, health
// and liveness. Unsafe routes trigger a garbage collection or dump all goroutine stacks.
func newAdminService(server *Server, config AdminRoutesConfig) (*Service, error) {
	service := NewService(AdminServiceName)
	admin := &adminRoutes{server: server}

	if config.EnableInfo {
		infoRoutes := []struct {
			pattern string
			handler Handler
		}{
			{"/info", admin.info},
			{"/config", admin.config},
			{"/metrics", admin.metrics},
			{"/health", admin.health},
			{"/ping", admin.ping},
			{"/ready", admin.ready},
		}
		for _, route := range infoRoutes {
			if err := Get(service, route.pattern, route.handler); err != nil {
				return nil, err
			}
		}
	}

	if config.EnableUnsafe {
		if err := Get(service, "/gc", admin.gc); err != nil {
			return nil, err
		}
		if err := Get(service, "/dump", admin.dump); err != nil {
			return nil, err
		}
	}

	return service, nil
}

type adminRoutes struct {
	server *Server
}

func (admin *adminRoutes) info(req *Request) (*Response, error) {
	ctx := ServerContextFromRequestContext(req.Context())
	if ctx == nil {
		return nil, xrpcerr.Internal(nil, "request is not being served by a server")
	}

	var routes []RouteInfo
	for _, route := range ctx.Routes().Routes() {
		routes = append(routes, RouteInfo{
			Method:  route.Method(),
			Path:    route.Pattern(),
			Service: route.Service(),
		})
	}
	return Ok(routes), nil
}

func (admin *adminRoutes) config(*Request) (*Response, error) {
	return Ok(admin.server.config.Describe()), nil
}

func (admin *adminRoutes) metrics(*Request) (*Response, error) {
	families, err := admin.server.PrometheusRegistry().Gather()
	if err != nil {
		return nil, xrpcerr.Internal(err, "unable to gather metrics")
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	buf := &bytes.Buffer{}
	encoder := expfmt.NewEncoder(buf, format)
	for _, family := range families {
		if err = encoder.Encode(family); err != nil {
			return nil, xrpcerr.Internal(err, "unable to encode metrics")
		}
	}

	return RawResponse(http.StatusOK, string(format), buf.Bytes()), nil
}

func (admin *adminRoutes) health(req *Request) (*Response, error) {
	results := admin.server.health.RunAll(req.Context())

	report := &HealthReport{
		Healthy: health.Healthy(results),
		Checks:  map[string]HealthStatus{},
	}
	for name, result := range results {
		report.Checks[name] = HealthStatus{
			Healthy:  result.Healthy,
			Message:  result.Message,
			Duration: result.Duration.String(),
		}
	}

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	return NewResponse(status, report), nil
}

func (admin *adminRoutes) ping(*Request) (*Response, error) {
	return RawResponse(http.StatusOK, "text/plain; charset=utf-8", []byte("pong")), nil
}

func (admin *adminRoutes) ready(*Request) (*Response, error) {
	if !admin.server.Ready() {
		return nil, xrpcerr.ServiceUnavailable("server is not ready")
	}
	return RawResponse(http.StatusOK, "text/plain; charset=utf-8", []byte("ready")), nil
}

func (admin *adminRoutes) gc(*Request) (*Response, error) {
	start := time.Now()
	runtime.GC()
	pfxlog.Logger().Infof("garbage collection requested through admin route, took %v", time.Since(start))
	return NoContent(), nil
}

func (admin *adminRoutes) dump(*Request) (*Response, error) {
	return RawResponse(http.StatusOK, "text/plain; charset=utf-8", []byte(debugz.GenerateStack())), nil
}
