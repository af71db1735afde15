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

package admission

import (
	"net/http"
	"sync/atomic"

	"github.com/michaelquigley/pfxlog"
	"github.com/xrpc-go/xrpc/xrpcerr"
)

// ConnectionLimiter bounds the number of concurrently open connections. Acquire is called when a connection is
// accepted and Release when an admitted connection closes.
type ConnectionLimiter struct {
	max    int64
	active atomic.Int64
}

var _ Stage = (*ConnectionLimiter)(nil)

// NewConnectionLimiter creates a limiter for max connections. max <= 0 is unlimited.
func NewConnectionLimiter(max int) *ConnectionLimiter {
	return &ConnectionLimiter{max: int64(max)}
}

// Acquire takes a slot, returning false when every slot is in use.
func (limiter *ConnectionLimiter) Acquire() bool {
	for {
		current := limiter.active.Load()
		if limiter.max > 0 && current >= limiter.max {
			return false
		}
		if limiter.active.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release frees a slot taken by Acquire.
func (limiter *ConnectionLimiter) Release() {
	for {
		current := limiter.active.Load()
		if current <= 0 {
			pfxlog.Logger().Error("connection limiter released more often than acquired")
			return
		}
		if limiter.active.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func (limiter *ConnectionLimiter) Active() int64 {
	return limiter.active.Load()
}

func (limiter *ConnectionLimiter) Max() int64 {
	return limiter.max
}

// Evaluate rejects requests arriving on connections that were accepted over the limit.
func (limiter *ConnectionLimiter) Evaluate(conn *ConnectionInfo, _ *http.Request) Decision {
	if conn != nil && !conn.Admitted {
		return Reject(xrpcerr.ServiceUnavailable("connection limit reached"))
	}
	return Admit()
}
