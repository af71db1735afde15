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

// Package admission decides whether a request may proceed to routing. Stages are evaluated in a fixed order by a
// Chain and the first rejection wins.
package admission

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/netip"

	"github.com/xrpc-go/xrpc/xrpcerr"
)

// ConnectionInfo is the per-connection metadata visible to stages.
type ConnectionInfo struct {
	RemoteAddr netip.AddrPort
	Protocol   string
	TLS        *tls.ConnectionState

	// Admitted is false for connections accepted while the connection limit was reached.
	Admitted bool
}

// Decision is the outcome of a stage. The zero value admits.
type Decision struct {
	rejection *xrpcerr.Error
}

func Admit() Decision {
	return Decision{}
}

func Reject(err *xrpcerr.Error) Decision {
	if err == nil {
		err = xrpcerr.Internal(nil, "rejected without reason")
	}
	return Decision{rejection: err}
}

func (d Decision) Admitted() bool {
	return d.rejection == nil
}

// Rejection returns the error carried by a rejecting decision, nil when admitted.
func (d Decision) Rejection() *xrpcerr.Error {
	return d.rejection
}

func (d Decision) Status() int {
	if d.rejection == nil {
		return http.StatusOK
	}
	return d.rejection.Status
}

// Stage evaluates a single admission predicate. Implementations must be safe for concurrent use.
type Stage interface {
	Evaluate(conn *ConnectionInfo, req *http.Request) Decision
}

// StageFunc adapts a function to Stage.
type StageFunc func(conn *ConnectionInfo, req *http.Request) Decision

func (f StageFunc) Evaluate(conn *ConnectionInfo, req *http.Request) Decision {
	return f(conn, req)
}

type groupKey struct{}

// ContextWithGroup records the rate limit group (service name) of the route a request resolved to.
func ContextWithGroup(ctx context.Context, group string) context.Context {
	return context.WithValue(ctx, groupKey{}, group)
}

// GroupFromContext returns the rate limit group, "" when none was recorded.
func GroupFromContext(ctx context.Context) string {
	if group, ok := ctx.Value(groupKey{}).(string); ok {
		return group
	}
	return ""
}

// RemoteAddr returns the client address of a request, preferring the connection metadata. IPv4-mapped IPv6
// addresses are unmapped.
func RemoteAddr(conn *ConnectionInfo, req *http.Request) (netip.Addr, bool) {
	if conn != nil && conn.RemoteAddr.IsValid() {
		return conn.RemoteAddr.Addr().Unmap(), true
	}

	if req != nil {
		if addrPort, err := netip.ParseAddrPort(req.RemoteAddr); err == nil {
			return addrPort.Addr().Unmap(), true
		}
		if addr, err := netip.ParseAddr(req.RemoteAddr); err == nil {
			return addr.Unmap(), true
		}
	}

	return netip.Addr{}, false
}
