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

package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// RouteStats is a point in time view of one route's observations.
type RouteStats struct {
	Count   int64
	Errors  int64
	Elapsed time.Duration
}

// MemorySink keeps counters in memory. It backs the log reporter and is convenient in tests.
type MemorySink struct {
	meters      [meterCount]atomic.Int64
	connections atomic.Int64

	mu     sync.Mutex
	routes map[string]*RouteStats
}

var _ Sink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{
		routes: map[string]*RouteStats{},
	}
}

func (sink *MemorySink) Mark(meter Meter) {
	if meter < 0 || meter >= meterCount {
		return
	}
	sink.meters[meter].Add(1)
}

func (sink *MemorySink) ObserveRoute(method, pattern string, status int, elapsed time.Duration) {
	name := RouteName(method, pattern)

	sink.mu.Lock()
	defer sink.mu.Unlock()

	stats, ok := sink.routes[name]
	if !ok {
		stats = &RouteStats{}
		sink.routes[name] = stats
	}
	stats.Count++
	stats.Elapsed += elapsed
	if status >= 500 {
		stats.Errors++
	}
}

func (sink *MemorySink) ActiveConnections(delta int64) {
	sink.connections.Add(delta)
}

// Count returns the current value of a meter.
func (sink *MemorySink) Count(meter Meter) int64 {
	if meter < 0 || meter >= meterCount {
		return 0
	}
	return sink.meters[meter].Load()
}

// Connections returns the open connection gauge.
func (sink *MemorySink) Connections() int64 {
	return sink.connections.Load()
}

// Route returns the stats recorded for a route.
func (sink *MemorySink) Route(method, pattern string) RouteStats {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if stats, ok := sink.routes[RouteName(method, pattern)]; ok {
		return *stats
	}
	return RouteStats{}
}

// Snapshot returns every meter and route counter by name.
func (sink *MemorySink) Snapshot() map[string]int64 {
	snapshot := make(map[string]int64, int(meterCount)+1)
	for _, meter := range Meters() {
		snapshot[meter.Name()] = sink.Count(meter)
	}
	snapshot["connections.active"] = sink.Connections()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for name, stats := range sink.routes {
		snapshot[name] = stats.Count
	}

	return snapshot
}

// SortedNames returns the keys of a snapshot in order, used for stable log output.
func SortedNames(snapshot map[string]int64) []string {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
