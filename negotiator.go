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
	"log"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/xrpc-go/xrpc/admission"
	"github.com/xrpc-go/xrpc/metrics"
	"golang.org/x/net/http2"
)

const (
	ALPNHTTP2  = "h2"
	ALPNHTTP11 = "http/1.1"

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultOverLimitGrace   = 5 * time.Second
)

type Protocol int

const (
	ProtocolHTTP1 Protocol = iota
	ProtocolHTTP2
)

func (p Protocol) String() string {
	if p == ProtocolHTTP2 {
		return "HTTP/2.0"
	}
	return "HTTP/1.1"
}

// SelectProtocol maps the ALPN result of a handshake to a protocol. Anything but "h2", including no negotiation,
// selects HTTP/1.1.
func SelectProtocol(negotiated string) Protocol {
	if negotiated == ALPNHTTP2 {
		return ProtocolHTTP2
	}
	return ProtocolHTTP1
}

// Phase is the lifecycle position of a connection: Init, TLSHandshaking, then HTTP1 or HTTP2, then Closed.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseTLSHandshaking
	PhaseHTTP1
	PhaseHTTP2
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseTLSHandshaking:
		return "tlsHandshaking"
	case PhaseHTTP1:
		return "http1"
	case PhaseHTTP2:
		return "http2"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

func validTransition(from, to Phase) bool {
	switch from {
	case PhaseInit:
		return to == PhaseTLSHandshaking || to == PhaseClosed
	case PhaseTLSHandshaking:
		return to == PhaseHTTP1 || to == PhaseHTTP2 || to == PhaseClosed
	case PhaseHTTP1, PhaseHTTP2:
		return to == PhaseClosed
	}
	return false
}

// ConnectionState is owned by the Negotiator for the lifetime of one connection. Closing it releases its connection
// limiter slot exactly once.
type ConnectionState struct {
	info  *admission.ConnectionInfo
	phase atomic.Int32

	lock sync.Mutex
	conn net.Conn

	closeOnce sync.Once
	onClose   func()
}

func newConnectionState(conn net.Conn, onClose func()) *ConnectionState {
	state := &ConnectionState{
		info: &admission.ConnectionInfo{},
		conn: conn,
	}
	state.onClose = onClose

	if addrPort, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
		state.info.RemoteAddr = addrPort
	}
	return state
}

func (state *ConnectionState) Info() *admission.ConnectionInfo {
	return state.info
}

func (state *ConnectionState) Phase() Phase {
	return Phase(state.phase.Load())
}

// transition moves to the next phase, refusing moves the state machine does not allow.
func (state *ConnectionState) transition(to Phase) bool {
	for {
		from := state.phase.Load()
		if !validTransition(Phase(from), to) {
			return false
		}
		if state.phase.CompareAndSwap(from, int32(to)) {
			return true
		}
	}
}

func (state *ConnectionState) setConn(conn net.Conn) {
	state.lock.Lock()
	defer state.lock.Unlock()
	state.conn = conn
}

// Close closes the connection and moves to PhaseClosed. Safe to call more than once.
func (state *ConnectionState) Close() {
	state.closeOnce.Do(func() {
		state.transition(PhaseClosed)

		state.lock.Lock()
		conn := state.conn
		state.lock.Unlock()

		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			pfxlog.Logger().WithError(err).Debug("error closing connection")
		}

		if state.onClose != nil {
			state.onClose()
		}
	})
}

// NegotiatorConfig configures a Negotiator. Handler and TLSConfig are required.
type NegotiatorConfig struct {
	Handler              http.Handler
	TLSConfig            *tls.Config
	Limiter              *admission.ConnectionLimiter
	Metrics              metrics.Sink
	HandshakeTimeout     time.Duration
	OverLimitGrace       time.Duration
	Timeouts             TimeoutOptions
	MaxConcurrentStreams uint32
}

// Negotiator accepts raw connections, terminates TLS and hands each connection to the HTTP/1.1 or HTTP/2 server
// according to ALPN. Both servers share one http.Handler.
type Negotiator struct {
	config    NegotiatorConfig
	tlsConfig *tls.Config
	sink      metrics.Sink
	baseCtx   context.Context
	cancel    context.CancelFunc

	h1         *http.Server
	h1Listener *connListener
	h2         *http2.Server
	logWriter  interface{ Close() error }

	h1Conns sync.Map // net.Conn -> *ConnectionState
	h1Start sync.Once

	lock     sync.Mutex
	conns    map[*ConnectionState]struct{}
	wg       sync.WaitGroup
	closing  atomic.Bool
	h1Served chan struct{}
	listener net.Listener
}

func NewNegotiator(config NegotiatorConfig) (*Negotiator, error) {
	if config.Handler == nil {
		return nil, errors.New("negotiator requires a handler")
	}

	if config.TLSConfig == nil {
		return nil, errors.New("negotiator requires a tls configuration")
	}

	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if config.OverLimitGrace <= 0 {
		config.OverLimitGrace = DefaultOverLimitGrace
	}

	if config.Metrics == nil {
		config.Metrics = metrics.NopSink{}
	}

	tlsConfig := config.TLSConfig.Clone()
	tlsConfig.NextProtos = []string{ALPNHTTP2, ALPNHTTP11}

	logWriter := pfxlog.Logger().Writer()
	baseCtx, cancel := context.WithCancel(context.Background())

	negotiator := &Negotiator{
		config:    config,
		tlsConfig: tlsConfig,
		sink:      config.Metrics,
		baseCtx:   baseCtx,
		cancel:    cancel,
		logWriter: logWriter,
		conns:     map[*ConnectionState]struct{}{},
		h1Served:  make(chan struct{}),
	}

	negotiator.h1Listener = newConnListener()
	negotiator.h1 = &http.Server{
		Handler:      config.Handler,
		ReadTimeout:  config.Timeouts.ReadTimeout,
		WriteTimeout: config.Timeouts.WriteTimeout,
		IdleTimeout:  config.Timeouts.IdleTimeout,
		TLSConfig:    tlsConfig,
		ErrorLog:     log.New(logWriter, "", 0),
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
		ConnContext: negotiator.connContext,
		ConnState:   negotiator.connStateChanged,
	}

	negotiator.h2 = &http2.Server{
		MaxConcurrentStreams: config.MaxConcurrentStreams,
		IdleTimeout:          config.Timeouts.IdleTimeout,
	}

	// registers graceful shutdown of served HTTP/2 connections with the HTTP/1.1 server
	if err := http2.ConfigureServer(negotiator.h1, negotiator.h2); err != nil {
		cancel()
		_ = logWriter.Close()
		return nil, errors.Wrap(err, "unable to configure http2")
	}

	return negotiator, nil
}

// Serve accepts connections from listener until it is closed. It returns nil when the listener was closed by
// Shutdown.
func (negotiator *Negotiator) Serve(listener net.Listener) error {
	negotiator.lock.Lock()
	if negotiator.closing.Load() {
		negotiator.lock.Unlock()
		return nil
	}
	negotiator.listener = listener
	negotiator.wg.Add(1)
	negotiator.lock.Unlock()
	defer negotiator.wg.Done()

	negotiator.startH1()

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if negotiator.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				backoff = nextBackoff(backoff)
				pfxlog.Logger().WithError(err).Warnf("accept failed, retrying in %v", backoff)
				time.Sleep(backoff)
				continue
			}
			return errors.Wrap(err, "accept failed")
		}

		backoff = 0
		negotiator.wg.Add(1)
		go negotiator.handle(conn)
	}
}

func (negotiator *Negotiator) startH1() {
	negotiator.h1Start.Do(func() {
		go func() {
			defer close(negotiator.h1Served)
			if err := negotiator.h1.Serve(negotiator.h1Listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				pfxlog.Logger().WithError(err).Error("http/1.1 server stopped unexpectedly")
			}
		}()
	})
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return 5 * time.Millisecond
	}
	if current *= 2; current > time.Second {
		current = time.Second
	}
	return current
}

func (negotiator *Negotiator) track(state *ConnectionState) {
	negotiator.lock.Lock()
	defer negotiator.lock.Unlock()
	negotiator.conns[state] = struct{}{}
}

func (negotiator *Negotiator) untrack(state *ConnectionState) {
	negotiator.lock.Lock()
	defer negotiator.lock.Unlock()
	delete(negotiator.conns, state)
}

func (negotiator *Negotiator) handle(raw net.Conn) {
	defer negotiator.wg.Done()

	limiter := negotiator.config.Limiter
	admitted := limiter == nil || limiter.Acquire()

	var state *ConnectionState
	state = newConnectionState(raw, func() {
		if admitted && limiter != nil {
			limiter.Release()
		}
		negotiator.sink.ActiveConnections(-1)
		negotiator.untrack(state)
	})
	state.info.Admitted = admitted
	negotiator.sink.ActiveConnections(1)
	negotiator.track(state)

	logger := pfxlog.Logger().WithField("remote", raw.RemoteAddr().String())

	if !admitted {
		negotiator.sink.Mark(metrics.ConnectionsRejected)
		logger.Debugf("connection limit of %d reached, closing in %v", limiter.Max(), negotiator.config.OverLimitGrace)
		time.AfterFunc(negotiator.config.OverLimitGrace, state.Close)
	}

	state.transition(PhaseTLSHandshaking)
	tlsConn := tls.Server(raw, negotiator.tlsConfig)
	state.setConn(tlsConn)

	handshakeCtx, cancel := context.WithTimeout(negotiator.baseCtx, negotiator.config.HandshakeTimeout)
	err := tlsConn.HandshakeContext(handshakeCtx)
	cancel()

	if err != nil {
		logger.WithError(err).Debug("tls handshake failed")
		state.Close()
		return
	}

	connectionState := tlsConn.ConnectionState()
	protocol := SelectProtocol(connectionState.NegotiatedProtocol)
	state.info.TLS = &connectionState
	state.info.Protocol = protocol.String()

	switch protocol {
	case ProtocolHTTP2:
		if !state.transition(PhaseHTTP2) {
			state.Close()
			return
		}
		negotiator.h2.ServeConn(tlsConn, &http2.ServeConnOpts{
			Context:    context.WithValue(negotiator.baseCtx, ConnectionStateKey, state),
			BaseConfig: negotiator.h1,
			Handler:    negotiator.config.Handler,
		})
		state.Close()
	default:
		if !state.transition(PhaseHTTP1) {
			state.Close()
			return
		}
		negotiator.h1Conns.Store(net.Conn(tlsConn), state)
		if !negotiator.h1Listener.deliver(tlsConn) {
			negotiator.h1Conns.Delete(net.Conn(tlsConn))
			state.Close()
		}
	}
}

func (negotiator *Negotiator) connContext(ctx context.Context, conn net.Conn) context.Context {
	if val, ok := negotiator.h1Conns.Load(conn); ok {
		return context.WithValue(ctx, ConnectionStateKey, val.(*ConnectionState))
	}
	return ctx
}

func (negotiator *Negotiator) connStateChanged(conn net.Conn, connState http.ConnState) {
	if connState != http.StateClosed && connState != http.StateHijacked {
		return
	}

	if val, ok := negotiator.h1Conns.LoadAndDelete(conn); ok {
		val.(*ConnectionState).Close()
	}
}

// ActiveConnections returns the number of connections not yet closed.
func (negotiator *Negotiator) ActiveConnections() int {
	negotiator.lock.Lock()
	defer negotiator.lock.Unlock()
	return len(negotiator.conns)
}

// Shutdown stops serving. In-flight requests are given until ctx is done to complete, after which remaining
// connections are closed.
func (negotiator *Negotiator) Shutdown(ctx context.Context) error {
	negotiator.lock.Lock()
	if !negotiator.closing.CompareAndSwap(false, true) {
		negotiator.lock.Unlock()
		return nil
	}
	listener := negotiator.listener
	negotiator.lock.Unlock()

	defer func() {
		_ = negotiator.logWriter.Close()
	}()

	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			pfxlog.Logger().WithError(err).Debug("error closing listener")
		}
	}

	negotiator.startH1()

	// also signals GOAWAY to HTTP/2 connections served with h1 as their base config
	shutdownErr := negotiator.h1.Shutdown(ctx)
	<-negotiator.h1Served

	drained := make(chan struct{})
	go func() {
		negotiator.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		negotiator.closeAll()
		<-drained
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}

	negotiator.cancel()

	if shutdownErr != nil {
		negotiator.closeAll()
		return errors.Wrap(shutdownErr, "connections did not drain")
	}
	return nil
}

func (negotiator *Negotiator) closeAll() {
	negotiator.lock.Lock()
	var states []*ConnectionState
	for state := range negotiator.conns {
		states = append(states, state)
	}
	negotiator.lock.Unlock()

	for _, state := range states {
		state.Close()
	}
}

// connListener hands negotiated HTTP/1.1 connections to an http.Server.
type connListener struct {
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func newConnListener() *connListener {
	return &connListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

func (l *connListener) deliver(conn net.Conn) bool {
	select {
	case l.conns <- conn:
		return true
	case <-l.closed:
		return false
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *connListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	return nil
}

func (l *connListener) Addr() net.Addr {
	return connListenerAddr{}
}

type connListenerAddr struct{}

func (connListenerAddr) Network() string { return "negotiated" }
func (connListenerAddr) String() string  { return "negotiated" }
