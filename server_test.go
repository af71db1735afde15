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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
	"github.com/xrpc-go/xrpc/metrics"
	"github.com/xrpc-go/xrpc/xrpcerr"
	"go.uber.org/goleak"
	"golang.org/x/net/http2"
)

func selfSignedTLSConfig(t *testing.T) *tls.Config {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}
}

func newTestServer(t *testing.T, mutate func(config *Config)) *Server {
	config := NewConfig()
	config.Name = "test"
	config.Bind = "127.0.0.1:0"
	config.TLSConfig = selfSignedTLSConfig(t)
	if mutate != nil {
		mutate(config)
	}

	server, err := NewServer(config)
	require.NoError(t, err)
	return server
}

func shutdown(t *testing.T, server *Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))
}

// h1Client does not offer ALPN, so the server falls back to HTTP/1.1.
func h1Client() (*http.Client, *http.Transport) {
	transport := &http.Transport{
		TLSClientConfig:    &tls.Config{InsecureSkipVerify: true},
		DisableCompression: true,
	}
	return &http.Client{Transport: transport, Timeout: 5 * time.Second}, transport
}

func h2Client() (*http.Client, *http2.Transport) {
	transport := &http2.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return &http.Client{Transport: transport, Timeout: 5 * time.Second}, transport
}

func getBody(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func protocolRoute(server *Server) error {
	return Get(server, "/protocol", func(req *Request) (*Response, error) {
		return Ok(map[string]interface{}{
			"protocol": req.Connection().Protocol,
			"tls":      req.Connection().TLS != nil,
		}), nil
	})
}

func TestServerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	server := newTestServer(t, nil)
	require.NoError(t, protocolRoute(server))
	require.NoError(t, server.ListenAndServe())

	req := require.New(t)
	req.True(server.Ready())
	req.Regexp(`^https://127\.0\.0\.1:\d+$`, server.LocalEndpoint())

	t.Run("a client without alpn is served over http/1.1", func(t *testing.T) {
		client, transport := h1Client()
		defer transport.CloseIdleConnections()

		resp, body := getBody(t, client, server.LocalEndpoint()+"/protocol")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 1, resp.ProtoMajor)
		require.JSONEq(t, `{"protocol":"HTTP/1.1","tls":true}`, body)
	})

	t.Run("a client offering h2 is served over http/2", func(t *testing.T) {
		client, transport := h2Client()
		defer transport.CloseIdleConnections()

		resp, body := getBody(t, client, server.LocalEndpoint()+"/protocol")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 2, resp.ProtoMajor)
		require.JSONEq(t, `{"protocol":"HTTP/2.0","tls":true}`, body)
	})

	t.Run("routes cannot be added once started", func(t *testing.T) {
		err := Get(server, "/late", named("late"))
		require.True(t, xrpcerr.IsKind(err, xrpcerr.KindInvalidArgument))
	})

	t.Run("the exception handler cannot be replaced once started", func(t *testing.T) {
		require.Error(t, server.SetExceptionHandler(DefaultExceptionHandler))
	})

	t.Run("starting twice fails", func(t *testing.T) {
		require.Error(t, server.ListenAndServe())
	})

	shutdown(t, server)
	req.False(server.Ready())

	select {
	case <-server.Done():
	case <-time.After(5 * time.Second):
		req.Fail("accept loop did not stop")
	}
	req.NoError(server.Err())

	t.Run("a second shutdown is a no-op", func(t *testing.T) {
		require.NoError(t, server.Shutdown(context.Background()))
	})

	t.Run("no connections are accepted after shutdown", func(t *testing.T) {
		client, transport := h1Client()
		defer transport.CloseIdleConnections()

		_, err := client.Get(server.LocalEndpoint() + "/protocol")
		require.Error(t, err)
	})
}

func TestServerBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = occupied.Close() }()

	server := newTestServer(t, func(config *Config) {
		config.Bind = occupied.Addr().String()
	})

	req := require.New(t)
	req.Error(server.ListenAndServe())
	req.False(server.Ready())
	req.Empty(server.LocalEndpoint())
	req.NoError(server.Shutdown(context.Background()))
}

func TestServerSetExceptionHandler(t *testing.T) {
	server := newTestServer(t, nil)

	req := require.New(t)
	req.Error(server.SetExceptionHandler(nil))
	req.NoError(server.SetExceptionHandler(DefaultExceptionHandler))
	req.Error(server.SetExceptionHandler(DefaultExceptionHandler))
}

func TestServerConnectionLimit(t *testing.T) {
	server := newTestServer(t, func(config *Config) {
		config.MaxConnections = 1
	})
	require.NoError(t, protocolRoute(server))
	require.NoError(t, server.ListenAndServe())
	defer shutdown(t, server)

	url := server.LocalEndpoint() + "/protocol"

	first, firstTransport := h1Client()
	resp, _ := getBody(t, first, url)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("a second concurrent connection is refused", func(t *testing.T) {
		second, secondTransport := h1Client()
		defer secondTransport.CloseIdleConnections()

		resp, _ := getBody(t, second, url)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		require.Equal(t, int64(1), server.MemoryMetrics().Count(metrics.ConnectionsRejected))
		require.Equal(t, int64(1), server.MemoryMetrics().Count(metrics.ResponseServiceUnavailable))
	})

	t.Run("closing the first connection frees its slot", func(t *testing.T) {
		firstTransport.CloseIdleConnections()

		require.Eventually(t, func() bool {
			client, transport := h1Client()
			defer transport.CloseIdleConnections()

			resp, err := client.Get(url)
			if err != nil {
				return false
			}
			_ = resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 50*time.Millisecond)
	})
}

func TestServerAdminRoutes(t *testing.T) {
	server := newTestServer(t, nil)
	require.NoError(t, Get(server, "/widgets", named("widgets")))
	require.NoError(t, server.AddHealthCheck("database", func(context.Context) error {
		return errors.New("connection refused")
	}))
	require.NoError(t, server.ListenAndServe())
	defer shutdown(t, server)

	client, transport := h2Client()
	defer transport.CloseIdleConnections()
	base := server.LocalEndpoint()

	t.Run("ping answers pong", func(t *testing.T) {
		resp, body := getBody(t, client, base+"/ping")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "pong", body)
	})

	t.Run("ready reports readiness", func(t *testing.T) {
		resp, _ := getBody(t, client, base+"/ready")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("info lists routes in registration order", func(t *testing.T) {
		resp, body := getBody(t, client, base+"/info")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var routes []RouteInfo
		require.NoError(t, json.Unmarshal([]byte(body), &routes))
		require.Equal(t, RouteInfo{Method: http.MethodGet, Path: "/widgets"}, routes[0])
		require.Equal(t, RouteInfo{Method: http.MethodGet, Path: "/info", Service: AdminServiceName}, routes[1])
	})

	t.Run("config describes the running configuration", func(t *testing.T) {
		resp, body := getBody(t, client, base+"/config")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		described := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(body), &described))
		require.Equal(t, "test", described["name"])
	})

	t.Run("health fails when a check fails", func(t *testing.T) {
		resp, body := getBody(t, client, base+"/health")
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		report := &HealthReport{}
		require.NoError(t, json.Unmarshal([]byte(body), report))
		require.False(t, report.Healthy)
		require.Equal(t, "connection refused", report.Checks["database"].Message)
	})

	t.Run("metrics are exposed in the prometheus text format", func(t *testing.T) {
		resp, body := getBody(t, client, base+"/metrics")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
		require.Contains(t, body, `xrpc_events_total{meter="requests"}`)
		require.Contains(t, body, "xrpc_active_connections")
	})

	t.Run("unsafe routes are not registered by default", func(t *testing.T) {
		resp, _ := getBody(t, client, base+"/gc")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServerUnsafeAdminRoutes(t *testing.T) {
	server := newTestServer(t, func(config *Config) {
		config.AdminRoutes.EnableInfo = false
		config.AdminRoutes.EnableUnsafe = true
	})
	require.NoError(t, server.ListenAndServe())
	defer shutdown(t, server)

	client, transport := h1Client()
	defer transport.CloseIdleConnections()
	base := server.LocalEndpoint()

	resp, _ := getBody(t, client, base+"/gc")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := getBody(t, client, base+"/dump")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "goroutine")

	resp, _ = getBody(t, client, base+"/ping")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerCompression(t *testing.T) {
	server := newTestServer(t, func(config *Config) {
		config.Compression = true
	})
	payload := strings.Repeat("compressible ", 200)
	require.NoError(t, Get(server, "/text", func(*Request) (*Response, error) {
		return RawResponse(http.StatusOK, "text/plain", []byte(payload)), nil
	}))
	require.NoError(t, server.ListenAndServe())
	defer shutdown(t, server)

	client, transport := h1Client()
	defer transport.CloseIdleConnections()

	t.Run("clients accepting br get a brotli body", func(t *testing.T) {
		request, err := http.NewRequest(http.MethodGet, server.LocalEndpoint()+"/text", nil)
		require.NoError(t, err)
		request.Header.Set("Accept-Encoding", "gzip, br")

		resp, err := client.Do(request)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, "br", resp.Header.Get("Content-Encoding"))
		decoded, err := io.ReadAll(brotli.NewReader(resp.Body))
		require.NoError(t, err)
		require.Equal(t, payload, string(decoded))
	})

	t.Run("other clients get the plain body", func(t *testing.T) {
		resp, body := getBody(t, client, server.LocalEndpoint()+"/text")
		require.Empty(t, resp.Header.Get("Content-Encoding"))
		require.Equal(t, payload, body)
	})
}

func TestServerShutdownDrainsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	server := newTestServer(t, nil)
	require.NoError(t, Get(server, "/slow", func(*Request) (*Response, error) {
		close(started)
		<-release
		return Ok("done"), nil
	}))
	require.NoError(t, server.ListenAndServe())

	client, transport := h1Client()
	defer transport.CloseIdleConnections()

	type result struct {
		status int
		err    error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := client.Get(server.LocalEndpoint() + "/slow")
		if err != nil {
			results <- result{err: err}
			return
		}
		_ = resp.Body.Close()
		results <- result{status: resp.StatusCode}
	}()

	<-started

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr <- server.Shutdown(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	close(release)

	res := <-results
	req := require.New(t)
	req.NoError(res.err)
	req.Equal(http.StatusOK, res.status)
	req.NoError(<-shutdownErr)
}

func TestServerFailedHandshake(t *testing.T) {
	server := newTestServer(t, func(config *Config) {
		config.Options.HandshakeTimeout = 200 * time.Millisecond
	})
	require.NoError(t, server.ListenAndServe())
	defer shutdown(t, server)

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: plaintext\r\n\r\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return server.MemoryMetrics().Connections() == 0
	}, 5*time.Second, 20*time.Millisecond)
	_ = conn.Close()
}
