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
	"sync"
	"time"

	"github.com/xrpc-go/xrpc/xrpcerr"
	"golang.org/x/time/rate"
)

// RateLimit configures one token bucket. Rate <= 0 disables limiting.
type RateLimit struct {
	Rate  float64
	Burst int
}

func (l RateLimit) newLimiter() *rate.Limiter {
	if l.Rate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := l.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.Rate), burst)
}

// RateLimiter keeps one token bucket per group. The group of a request is the service of the route it resolved
// to, see ContextWithGroup. Acquisition never waits.
type RateLimiter struct {
	defaults  RateLimit
	overrides map[string]RateLimit
	now       func() time.Time

	lock    sync.Mutex
	buckets map[string]*rate.Limiter
}

var _ Stage = (*RateLimiter)(nil)

type RateLimiterOption func(*RateLimiter)

// WithClock replaces the time source used for token refill.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(limiter *RateLimiter) {
		limiter.now = now
	}
}

// NewRateLimiter creates a limiter applying defaults to every group without an entry in overrides.
func NewRateLimiter(defaults RateLimit, overrides map[string]RateLimit, options ...RateLimiterOption) *RateLimiter {
	limiter := &RateLimiter{
		defaults:  defaults,
		overrides: map[string]RateLimit{},
		now:       time.Now,
		buckets:   map[string]*rate.Limiter{},
	}

	for group, limit := range overrides {
		limiter.overrides[group] = limit
	}

	for _, option := range options {
		option(limiter)
	}

	return limiter
}

func (limiter *RateLimiter) bucket(group string) *rate.Limiter {
	limiter.lock.Lock()
	defer limiter.lock.Unlock()

	bucket, ok := limiter.buckets[group]
	if !ok {
		limit, found := limiter.overrides[group]
		if !found {
			limit = limiter.defaults
		}
		bucket = limit.newLimiter()
		limiter.buckets[group] = bucket
	}
	return bucket
}

// TryAcquire takes one token from the group's bucket, returning false if it is empty.
func (limiter *RateLimiter) TryAcquire(group string) bool {
	return limiter.bucket(group).AllowN(limiter.now(), 1)
}

func (limiter *RateLimiter) Evaluate(_ *ConnectionInfo, req *http.Request) Decision {
	group := GroupFromContext(req.Context())
	if !limiter.TryAcquire(group) {
		if group == "" {
			return Reject(xrpcerr.TooManyRequests("rate limit exceeded"))
		}
		return Reject(xrpcerr.TooManyRequests("rate limit exceeded for service " + group))
	}
	return Admit()
}
