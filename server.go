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
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xrpc-go/xrpc/admission"
	"github.com/xrpc-go/xrpc/encoding"
	"github.com/xrpc-go/xrpc/health"
	"github.com/xrpc-go/xrpc/metrics"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

const shutdownRetryDelay = 50 * time.Millisecond

// Server collects routes, codecs, health checks and an exception handler, then serves them over TLS with HTTP/1.1
// and HTTP/2 once ListenAndServe is called. A Server is started at most once.
type Server struct {
	config *Config

	routes              *RouteBuilder
	codecs              *encoding.RegistryBuilder
	exceptionHandler    ExceptionHandler
	exceptionHandlerSet bool
	health              *health.RegistryMap

	registry *prometheus.Registry
	memory   *metrics.MemorySink
	sink     metrics.Sink

	lock       sync.Mutex
	started    bool
	stopped    bool
	ready      atomic.Bool
	ctx        *ServerContext
	listener   net.Listener
	negotiator *Negotiator
	reporter   *metrics.LogReporter
	serveDone  chan struct{}
	serveErr   error
}

var _ Routes = (*Server)(nil)

// NewServer validates config and creates a Server from it.
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		return nil, errors.New("server configuration must not be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	codecs, err := encoding.NewDefaultRegistryBuilder(config.DefaultContentType)
	if err != nil {
		return nil, errors.Wrap(err, "unable to register default codecs")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	memory := metrics.NewMemorySink()

	return &Server{
		config:           config,
		routes:           NewRouteBuilder(),
		codecs:           codecs,
		exceptionHandler: DefaultExceptionHandler,
		health:           health.NewRegistryMap(health.DefaultCheckTimeout),
		registry:         registry,
		memory:           memory,
		sink:             metrics.MultiSink{metrics.NewPrometheusSink(registry), memory},
		serveDone:        make(chan struct{}),
	}, nil
}

func (server *Server) Config() *Config {
	return server.config
}

// AddRoute registers a route. Routes can only be added before ListenAndServe.
func (server *Server) AddRoute(route *Route) error {
	server.lock.Lock()
	defer server.lock.Unlock()

	if server.started {
		return xrpcerr.InvalidArgument("routes cannot be added once the server has started")
	}
	return server.routes.AddRoute(route)
}

func (server *Server) Routes() []*Route {
	server.lock.Lock()
	defer server.lock.Unlock()

	if server.ctx != nil {
		return server.ctx.Routes().Routes()
	}
	return server.routes.Routes()
}

// Codecs gives access to the codec registry before the server starts, for adding content types.
func (server *Server) Codecs() *encoding.RegistryBuilder {
	return server.codecs
}

// SetExceptionHandler replaces the default exception handler. It may be called once, before ListenAndServe.
func (server *Server) SetExceptionHandler(handler ExceptionHandler) error {
	server.lock.Lock()
	defer server.lock.Unlock()

	if handler == nil {
		return xrpcerr.InvalidArgument("exception handler must not be nil")
	}

	if server.started {
		return xrpcerr.InvalidArgument("exception handler cannot be set once the server has started")
	}

	if server.exceptionHandlerSet {
		return xrpcerr.InvalidArgument("exception handler has already been set")
	}

	server.exceptionHandler = handler
	server.exceptionHandlerSet = true
	return nil
}

// AddHealthCheck registers a check reported by the admin health route.
func (server *Server) AddHealthCheck(name string, check health.Check) error {
	return server.health.Register(name, check)
}

func (server *Server) HealthChecks() health.Registry {
	return server.health
}

func (server *Server) Metrics() metrics.Sink {
	return server.sink
}

func (server *Server) MemoryMetrics() *metrics.MemorySink {
	return server.memory
}

func (server *Server) PrometheusRegistry() *prometheus.Registry {
	return server.registry
}

// Context returns the ServerContext requests are served from, nil before ListenAndServe.
func (server *Server) Context() *ServerContext {
	server.lock.Lock()
	defer server.lock.Unlock()
	return server.ctx
}

// Ready is true between a successful ListenAndServe and Shutdown.
func (server *Server) Ready() bool {
	return server.ready.Load()
}

// ListenAndServe freezes routes and codecs, binds the configured address and serves in the background. It returns
// once the listener is bound, or with the error that prevented it.
func (server *Server) ListenAndServe() error {
	server.lock.Lock()
	defer server.lock.Unlock()

	if server.started {
		return errors.New("server has already been started")
	}
	server.started = true

	logger := pfxlog.Logger().WithField("server", server.config.Name)

	if server.config.AdminRoutes.EnableInfo || server.config.AdminRoutes.EnableUnsafe {
		adminService, err := newAdminService(server, server.config.AdminRoutes)
		if err != nil {
			return errors.Wrap(err, "unable to build admin routes")
		}
		if err = AddService(server.routes, adminService); err != nil {
			return errors.Wrap(err, "unable to register admin routes")
		}
	}

	codecs, err := server.codecs.Build()
	if err != nil {
		return errors.Wrap(err, "unable to build codec registry")
	}

	limiter := admission.NewConnectionLimiter(server.config.MaxConnections)
	chain, err := server.buildChain(limiter)
	if err != nil {
		return err
	}

	ctx, err := NewServerContext(ServerContextConfig{
		Routes:           server.routes.Compile(),
		Codecs:           codecs,
		Chain:            chain,
		ExceptionHandler: server.exceptionHandler,
		Metrics:          server.sink,
		MaxPayloadBytes:  server.config.MaxPayloadBytes,
	})
	if err != nil {
		return errors.Wrap(err, "unable to build server context")
	}

	var handler http.Handler = NewPipeline(ctx)
	if server.config.Compression {
		handler = NewCompressionHandler(handler, server.config.CompressionLevel)
	}

	negotiator, err := NewNegotiator(NegotiatorConfig{
		Handler:              handler,
		TLSConfig:            server.tlsConfig(),
		Limiter:              limiter,
		Metrics:              server.sink,
		HandshakeTimeout:     server.config.Options.HandshakeTimeout,
		Timeouts:             server.config.Options.TimeoutOptions,
		MaxConcurrentStreams: server.config.Options.MaxConcurrentStreams,
	})
	if err != nil {
		return errors.Wrap(err, "unable to create protocol negotiator")
	}

	listener, err := net.Listen("tcp", server.config.Bind)
	if err != nil {
		_ = negotiator.Shutdown(context.Background())
		return errors.Wrapf(err, "unable to bind %s", server.config.Bind)
	}

	server.ctx = ctx
	server.listener = listener
	server.negotiator = negotiator

	go func() {
		defer close(server.serveDone)
		if err := negotiator.Serve(listener); err != nil {
			logger.WithError(err).Error("server stopped accepting connections")
			server.serveErr = err
		}
	}()

	if server.config.Metrics.LogReporter {
		server.reporter = metrics.NewLogReporter(server.memory, server.config.Metrics.PollingRate)
		server.reporter.Start(context.Background())
	}

	server.ready.Store(true)
	logger.Infof("listening and serving tls on %s with %d routes and admission stages %v",
		listener.Addr(), ctx.Routes().Len(), chain.Names())

	return nil
}

func (server *Server) buildChain(limiter *admission.ConnectionLimiter) (*admission.Chain, error) {
	config := server.config
	chainConfig := admission.ChainConfig{
		ConnectionLimiter: limiter,
	}

	overrides := config.RateLimitOverrides()
	if config.RateLimit.Rate > 0 || len(overrides) > 0 {
		chainConfig.RateLimiter = admission.NewRateLimiter(config.RateLimit, overrides)
	}

	if len(config.IPAllowList) > 0 {
		allowList, err := admission.NewAllowList(config.IPAllowList)
		if err != nil {
			return nil, errors.Wrap(err, "invalid ipAllowList")
		}
		chainConfig.AllowList = allowList
	}

	if len(config.IPDenyList) > 0 {
		denyList, err := admission.NewDenyList(config.IPDenyList)
		if err != nil {
			return nil, errors.Wrap(err, "invalid ipDenyList")
		}
		chainConfig.DenyList = denyList
	}

	rules := []admission.Rule{admission.MaxPayloadRule{Limit: config.MaxPayloadBytes}}
	for i, ruleConfig := range config.Firewall {
		rule, err := ruleConfig.Build()
		if err != nil {
			return nil, errors.Wrapf(err, "invalid firewall rule at index [%d]", i)
		}
		rules = append(rules, rule)
	}
	chainConfig.Firewall = admission.NewFirewall(rules...)

	return admission.NewChain(chainConfig), nil
}

func (server *Server) tlsConfig() *tls.Config {
	var tlsConfig *tls.Config
	if server.config.TLSConfig != nil {
		tlsConfig = server.config.TLSConfig.Clone()
	} else {
		tlsConfig = server.config.Identity.ServerTLSConfig()
		tlsConfig.ClientAuth = tls.RequestClientCert
	}

	tlsConfig.MinVersion = uint16(server.config.Options.MinTLSVersion)
	tlsConfig.MaxVersion = uint16(server.config.Options.MaxTLSVersion)
	tlsConfig.NextProtos = []string{ALPNHTTP2, ALPNHTTP11}
	return tlsConfig
}

// Addr returns the bound address, nil before ListenAndServe.
func (server *Server) Addr() net.Addr {
	server.lock.Lock()
	defer server.lock.Unlock()

	if server.listener == nil {
		return nil
	}
	return server.listener.Addr()
}

// LocalEndpoint returns https://127.0.0.1:<port> for the bound port, "" before ListenAndServe.
func (server *Server) LocalEndpoint() string {
	addr, ok := server.Addr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	return fmt.Sprintf("https://127.0.0.1:%d", addr.Port)
}

// Done is closed when the server stops accepting connections.
func (server *Server) Done() <-chan struct{} {
	return server.serveDone
}

// Err returns the error that stopped the accept loop, if any, once Done is closed.
func (server *Server) Err() error {
	select {
	case <-server.serveDone:
		return server.serveErr
	default:
		return nil
	}
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx is done. Remaining connections
// are then closed.
func (server *Server) Shutdown(ctx context.Context) error {
	server.lock.Lock()
	if server.listener == nil || server.stopped {
		server.lock.Unlock()
		return nil
	}
	server.stopped = true
	listener := server.listener
	negotiator := server.negotiator
	reporter := server.reporter
	server.lock.Unlock()

	server.ready.Store(false)
	logger := pfxlog.Logger().WithField("server", server.config.Name)
	logger.Info("shutting down")

	closeErr := server.closeListener(ctx, listener)
	shutdownErr := negotiator.Shutdown(ctx)

	select {
	case <-server.serveDone:
	case <-ctx.Done():
	}

	if reporter != nil {
		reporter.Stop()
		reporter.Report()
	}

	if closeErr != nil {
		return closeErr
	}
	return shutdownErr
}

// closeListener closes listener, retrying a bounded number of times.
func (server *Server) closeListener(ctx context.Context, listener net.Listener) error {
	retries := server.config.Options.ShutdownRetries
	if retries < 1 {
		retries = 1
	}

	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = listener.Close(); err == nil || errors.Is(err, net.ErrClosed) {
			return nil
		}

		pfxlog.Logger().WithError(err).Warnf("unable to close listener, attempt %d of %d", attempt, retries)

		select {
		case <-ctx.Done():
			return errors.Wrap(err, "unable to close listener")
		case <-time.After(shutdownRetryDelay):
		}
	}
	return errors.Wrapf(err, "unable to close listener after %d attempts", retries)
}
