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
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/debugz"
	"github.com/xrpc-go/xrpc/admission"
	"github.com/xrpc-go/xrpc/metrics"
	"github.com/xrpc-go/xrpc/routing"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

// Pipeline is the http.Handler shared by HTTP/1.1 and HTTP/2 connections. Each request passes the admission chain,
// is routed, has its codecs negotiated, is handled and is answered, in that order.
type Pipeline struct {
	ctx *ServerContext
}

var _ http.Handler = (*Pipeline)(nil)

func NewPipeline(ctx *ServerContext) *Pipeline {
	return &Pipeline{ctx: ctx}
}

func (pipeline *Pipeline) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	sink := pipeline.ctx.Metrics()
	sink.Mark(metrics.Requests)

	conn := connectionInfo(request)
	route, params, found := pipeline.ctx.Routes().Resolve(request.Method, request.URL.Path)
	if params == nil {
		params = routing.Params{}
	}

	// the route is resolved before admission so the rate limiter can bucket by service
	ctx := context.WithValue(request.Context(), ServerContextKey, pipeline.ctx)
	if found {
		ctx = context.WithValue(ctx, RouteContextKey, route)
		ctx = admission.ContextWithGroup(ctx, route.Service())
	}
	request = request.WithContext(ctx)

	codecs := pipeline.ctx.Codecs()
	req := &Request{
		http:    request,
		route:   route,
		params:  params,
		conn:    conn,
		decoder: codecs.ResolveDecoder(request.Header.Get("Content-Type")),
		encoder: codecs.ResolveEncoder(request.Header.Get("Accept")),
	}

	if decision := pipeline.ctx.Chain().Evaluate(conn, request); !decision.Admitted() {
		if decision.Status() == http.StatusServiceUnavailable && request.ProtoMajor == 1 {
			writer.Header().Set("Connection", "close")
		}
		status := pipeline.write(writer, req, pipeline.exception(req, decision.Rejection()))
		metrics.MarkStatus(sink, status)
		return
	}

	if !found {
		status := pipeline.write(writer, req, pipeline.exception(req, xrpcerr.Newf(xrpcerr.KindNotFound, "no route for %s %s", request.Method, request.URL.Path)))
		metrics.MarkStatus(sink, status)
		return
	}

	if limit := pipeline.ctx.MaxPayloadBytes(); limit > 0 && request.Body != nil {
		request.Body = http.MaxBytesReader(writer, request.Body, limit)
	}

	resp, err := pipeline.invoke(route, req)
	if err != nil {
		resp = pipeline.exception(req, err)
	} else if resp == nil {
		resp = NoContent()
	}

	status := pipeline.write(writer, req, resp)
	metrics.MarkStatus(sink, status)
	sink.ObserveRoute(route.Method(), route.Pattern(), status, time.Since(start))
}

func connectionInfo(request *http.Request) *admission.ConnectionInfo {
	if state := ConnectionStateFromRequestContext(request.Context()); state != nil {
		return state.Info()
	}

	info := &admission.ConnectionInfo{
		Protocol: request.Proto,
		TLS:      request.TLS,
		Admitted: true,
	}
	if addrPort, err := netip.ParseAddrPort(request.RemoteAddr); err == nil {
		info.RemoteAddr = addrPort
	}
	return info
}

func (pipeline *Pipeline) invoke(route *Route, req *Request) (resp *Response, err error) {
	defer func() {
		if panicVal := recover(); panicVal != nil {
			pfxlog.Logger().Errorf("panic caught by route [%s]: %v\n%v", route, panicVal, debugz.GenerateLocalStack())
			resp = nil
			err = xrpcerr.Internal(fmt.Errorf("handler panic: %v", panicVal), "internal server error")
		}
	}()

	return route.Handler()(req)
}

func (pipeline *Pipeline) exception(req *Request, err error) (resp *Response) {
	defer func() {
		if panicVal := recover(); panicVal != nil {
			pfxlog.Logger().Errorf("panic caught by exception handler: %v\n%v", panicVal, debugz.GenerateLocalStack())
			resp = DefaultExceptionHandler(req, err)
		}
	}()

	if resp = pipeline.ctx.ExceptionHandler()(req, err); resp == nil {
		resp = DefaultExceptionHandler(req, err)
	}
	return resp
}

func render(req *Request, resp *Response) (data []byte, contentType string, err error) {
	defer func() {
		if panicVal := recover(); panicVal != nil {
			pfxlog.Logger().Errorf("panic caught by encoder [%s]: %v\n%v", req.encoder.ContentType(), panicVal, debugz.GenerateLocalStack())
			data, contentType = nil, ""
			err = xrpcerr.Internal(fmt.Errorf("encoder panic: %v", panicVal), "internal server error")
		}
	}()

	if resp.Raw != nil {
		return resp.Raw, resp.ContentType, nil
	}

	if resp.Body == nil {
		return nil, "", nil
	}

	if data, err = req.encoder.Encode(resp.Body); err != nil {
		return nil, "", err
	}
	return data, req.encoder.ContentType(), nil
}

// write sends resp and returns the status actually written. Encoding failures are passed through the exception
// handler once, then fall back to a plain text 500.
func (pipeline *Pipeline) write(writer http.ResponseWriter, req *Request, resp *Response) int {
	data, contentType, err := render(req, resp)
	if err != nil {
		resp = pipeline.exception(req, err)
		if data, contentType, err = render(req, resp); err != nil {
			pfxlog.Logger().WithError(err).Error("unable to encode error response")
			resp = &Response{Status: http.StatusInternalServerError}
			data = []byte(http.StatusText(http.StatusInternalServerError))
			contentType = "text/plain; charset=utf-8"
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	header := writer.Header()
	for name, values := range resp.Header {
		header[name] = values
	}

	bodyAllowed := status != http.StatusNoContent && status != http.StatusNotModified && status >= http.StatusOK
	if bodyAllowed && contentType != "" {
		header.Set("Content-Type", contentType)
	}

	writer.WriteHeader(status)
	if bodyAllowed && len(data) > 0 {
		if _, err := writer.Write(data); err != nil {
			pfxlog.Logger().WithError(err).Debug("unable to write response body")
		}
	}
	return status
}
