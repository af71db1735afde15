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

// Package health keeps the named health checks of a server and runs them on demand.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
)

const DefaultCheckTimeout = 5 * time.Second

// Check reports nil when healthy.
type Check func(ctx context.Context) error

// Result is the outcome of one check.
type Result struct {
	Healthy  bool          `json:"healthy"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Registry describes a registry of named health checks
type Registry interface {
	Register(name string, check Check) error
	Names() []string
	RunAll(ctx context.Context) map[string]Result
}

// RegistryMap is a basic Registry implementation backed by a mapping of name to Check
type RegistryMap struct {
	timeout time.Duration

	lock   sync.RWMutex
	checks map[string]Check
}

var _ Registry = (*RegistryMap)(nil)

// NewRegistryMap creates a new RegistryMap. Each check is abandoned after timeout, DefaultCheckTimeout if zero.
func NewRegistryMap(timeout time.Duration) *RegistryMap {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &RegistryMap{
		timeout: timeout,
		checks:  map[string]Check{},
	}
}

// Register adds a check. Errors if a previous check with the same name is registered.
func (registry *RegistryMap) Register(name string, check Check) error {
	if name == "" {
		return errors.New("health check name must not be empty")
	}
	if check == nil {
		return errors.Errorf("health check [%s] must not be nil", name)
	}

	registry.lock.Lock()
	defer registry.lock.Unlock()

	pfxlog.Logger().Debugf("adding health check: %v", name)
	if _, ok := registry.checks[name]; ok {
		return errors.Errorf("health check [%s] already registered", name)
	}

	registry.checks[name] = check
	return nil
}

// Names returns the registered check names in sorted order.
func (registry *RegistryMap) Names() []string {
	registry.lock.RLock()
	defer registry.lock.RUnlock()

	var names []string
	for name := range registry.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAll runs every check concurrently and waits for all of them, or their timeouts.
func (registry *RegistryMap) RunAll(ctx context.Context) map[string]Result {
	registry.lock.RLock()
	checks := make(map[string]Check, len(registry.checks))
	for name, check := range registry.checks {
		checks[name] = check
	}
	registry.lock.RUnlock()

	results := make(map[string]Result, len(checks))
	resultLock := sync.Mutex{}
	wg := sync.WaitGroup{}

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			result := registry.run(ctx, name, check)

			resultLock.Lock()
			results[name] = result
			resultLock.Unlock()
		}(name, check)
	}

	wg.Wait()
	return results
}

func (registry *RegistryMap) run(ctx context.Context, name string, check Check) Result {
	checkCtx, cancel := context.WithTimeout(ctx, registry.timeout)
	defer cancel()

	start := time.Now()
	errC := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- fmt.Errorf("health check panicked: %v", r)
			}
		}()
		errC <- check(checkCtx)
	}()

	var err error
	select {
	case err = <-errC:
	case <-checkCtx.Done():
		err = errors.Wrap(checkCtx.Err(), "health check did not complete")
	}

	result := Result{Healthy: err == nil, Duration: time.Since(start)}
	if err != nil {
		result.Message = err.Error()
		pfxlog.Logger().WithError(err).WithField("check", name).Warn("health check failed")
	}
	return result
}

// Healthy reports whether every result is healthy.
func Healthy(results map[string]Result) bool {
	for _, result := range results {
		if !result.Healthy {
			return false
		}
	}
	return true
}
