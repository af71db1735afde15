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
	"context"
	"sync"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/sirupsen/logrus"
)

// LogReporter periodically writes a MemorySink snapshot to the log.
type LogReporter struct {
	sink     *MemorySink
	interval time.Duration

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewLogReporter(sink *MemorySink, interval time.Duration) *LogReporter {
	return &LogReporter{
		sink:     sink,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins reporting until ctx is done or Stop is called.
func (reporter *LogReporter) Start(ctx context.Context) {
	reporter.wg.Add(1)
	go func() {
		defer reporter.wg.Done()
		ticker := time.NewTicker(reporter.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-reporter.stop:
				return
			case <-ticker.C:
				reporter.Report()
			}
		}
	}()
}

// Report writes one snapshot.
func (reporter *LogReporter) Report() {
	snapshot := reporter.sink.Snapshot()
	fields := logrus.Fields{}
	for _, name := range SortedNames(snapshot) {
		fields[name] = snapshot[name]
	}
	pfxlog.ContextLogger("metrics").WithFields(fields).Info("metrics report")
}

// Stop halts reporting and waits for the reporting goroutine. Safe to call more than once.
func (reporter *LogReporter) Stop() {
	reporter.once.Do(func() {
		close(reporter.stop)
	})
	reporter.wg.Wait()
}
