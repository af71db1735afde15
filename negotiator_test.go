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
	"crypto/tls"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xrpc-go/xrpc/admission"
)

func TestSelectProtocol(t *testing.T) {
	t.Run("h2 selects http/2", func(t *testing.T) {
		require.Equal(t, ProtocolHTTP2, SelectProtocol("h2"))
	})

	t.Run("http/1.1 selects http/1.1", func(t *testing.T) {
		require.Equal(t, ProtocolHTTP1, SelectProtocol("http/1.1"))
	})

	t.Run("no negotiation selects http/1.1", func(t *testing.T) {
		require.Equal(t, ProtocolHTTP1, SelectProtocol(""))
	})

	t.Run("an unrecognized protocol selects http/1.1", func(t *testing.T) {
		require.Equal(t, ProtocolHTTP1, SelectProtocol("spdy/3"))
	})
}

func TestConnectionState(t *testing.T) {
	newState := func(onClose func()) (*ConnectionState, net.Conn) {
		server, client := net.Pipe()
		return newConnectionState(server, onClose), client
	}

	t.Run("phases only move forward", func(t *testing.T) {
		state, client := newState(nil)
		defer func() { _ = client.Close() }()

		req := require.New(t)
		req.Equal(PhaseInit, state.Phase())
		req.False(state.transition(PhaseHTTP1))
		req.True(state.transition(PhaseTLSHandshaking))
		req.True(state.transition(PhaseHTTP2))
		req.False(state.transition(PhaseHTTP1))
		req.False(state.transition(PhaseTLSHandshaking))
		req.Equal(PhaseHTTP2, state.Phase())

		state.Close()
		req.Equal(PhaseClosed, state.Phase())
		req.False(state.transition(PhaseHTTP1))
	})

	t.Run("closing releases exactly once", func(t *testing.T) {
		limiter := admission.NewConnectionLimiter(1)
		require.True(t, limiter.Acquire())

		releases := 0
		state, client := newState(func() {
			releases++
			limiter.Release()
		})
		defer func() { _ = client.Close() }()

		state.Close()
		state.Close()

		req := require.New(t)
		req.Equal(1, releases)
		req.Equal(int64(0), limiter.Active())
		req.True(limiter.Acquire())
	})

	t.Run("closing closes the connection", func(t *testing.T) {
		state, client := newState(nil)
		state.Close()

		_, err := client.Write([]byte("x"))
		require.Error(t, err)
	})
}

func TestConnListener(t *testing.T) {
	t.Run("delivered connections are accepted", func(t *testing.T) {
		listener := newConnListener()
		server, client := net.Pipe()
		defer func() { _ = client.Close() }()

		go listener.deliver(server)

		accepted, err := listener.Accept()
		require.NoError(t, err)
		require.Equal(t, server, accepted)
	})

	t.Run("a closed listener refuses connections", func(t *testing.T) {
		listener := newConnListener()
		require.NoError(t, listener.Close())
		require.NoError(t, listener.Close())

		_, err := listener.Accept()
		require.ErrorIs(t, err, net.ErrClosed)

		server, client := net.Pipe()
		defer func() { _ = client.Close() }()
		require.False(t, listener.deliver(server))
	})
}

func TestNewNegotiator(t *testing.T) {
	t.Run("a handler is required", func(t *testing.T) {
		_, err := NewNegotiator(NegotiatorConfig{TLSConfig: &tls.Config{}})
		require.Error(t, err)
	})

	t.Run("a tls configuration is required", func(t *testing.T) {
		_, err := NewNegotiator(NegotiatorConfig{Handler: http.NotFoundHandler()})
		require.Error(t, err)
	})
}
