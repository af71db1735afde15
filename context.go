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

	"github.com/pkg/errors"
	"github.com/xrpc-go/xrpc/admission"
	"github.com/xrpc-go/xrpc/encoding"
	"github.com/xrpc-go/xrpc/metrics"
)

type ContextKey string

const (
	ServerContextKey   = ContextKey("xrpc.ServerContext.ContextKey")
	ConnectionStateKey = ContextKey("xrpc.ConnectionState.ContextKey")
	RouteContextKey    = ContextKey("xrpc.Route.ContextKey")
)

// ServerContext is the immutable aggregate every request is served from. It is built once when the server starts
// listening.
type ServerContext struct {
	routes           *RouteTable
	codecs           *encoding.Registry
	chain            *admission.Chain
	exceptionHandler ExceptionHandler
	sink             metrics.Sink
	maxPayloadBytes  int64
}

// ServerContextConfig holds the parts of a ServerContext. Routes and Codecs are required.
type ServerContextConfig struct {
	Routes           *RouteTable
	Codecs           *encoding.Registry
	Chain            *admission.Chain
	ExceptionHandler ExceptionHandler
	Metrics          metrics.Sink
	MaxPayloadBytes  int64
}

func NewServerContext(config ServerContextConfig) (*ServerContext, error) {
	if config.Routes == nil {
		return nil, errors.New("server context requires a route table")
	}

	if config.Codecs == nil {
		return nil, errors.New("server context requires a codec registry")
	}

	ctx := &ServerContext{
		routes:           config.Routes,
		codecs:           config.Codecs,
		chain:            config.Chain,
		exceptionHandler: config.ExceptionHandler,
		sink:             config.Metrics,
		maxPayloadBytes:  config.MaxPayloadBytes,
	}

	if ctx.chain == nil {
		ctx.chain = admission.NewChain(admission.ChainConfig{})
	}

	if ctx.exceptionHandler == nil {
		ctx.exceptionHandler = DefaultExceptionHandler
	}

	if ctx.sink == nil {
		ctx.sink = metrics.NopSink{}
	}

	return ctx, nil
}

func (ctx *ServerContext) Routes() *RouteTable {
	return ctx.routes
}

func (ctx *ServerContext) Codecs() *encoding.Registry {
	return ctx.codecs
}

func (ctx *ServerContext) Chain() *admission.Chain {
	return ctx.chain
}

func (ctx *ServerContext) ExceptionHandler() ExceptionHandler {
	return ctx.exceptionHandler
}

func (ctx *ServerContext) Metrics() metrics.Sink {
	return ctx.sink
}

func (ctx *ServerContext) MaxPayloadBytes() int64 {
	return ctx.maxPayloadBytes
}

// ServerContextFromRequestContext is a utility function to retrieve the *ServerContext a request is being served
// from.
func ServerContextFromRequestContext(ctx context.Context) *ServerContext {
	if val := ctx.Value(ServerContextKey); val != nil {
		if serverContext, ok := val.(*ServerContext); ok {
			return serverContext
		}
	}
	return nil
}

// ConnectionStateFromRequestContext returns the state of the connection a request arrived on, nil for requests
// that did not come through a Negotiator.
func ConnectionStateFromRequestContext(ctx context.Context) *ConnectionState {
	if val := ctx.Value(ConnectionStateKey); val != nil {
		if state, ok := val.(*ConnectionState); ok {
			return state
		}
	}
	return nil
}

// RouteFromRequestContext returns the route a request resolved to, available to handlers wrapping the pipeline.
func RouteFromRequestContext(ctx context.Context) *Route {
	if val := ctx.Value(RouteContextKey); val != nil {
		if route, ok := val.(*Route); ok {
			return route
		}
	}
	return nil
}
