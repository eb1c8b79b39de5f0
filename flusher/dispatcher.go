// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package flusher

import (
	"context"
	"sync"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/elastic/faas-telemetry-forwarder/sink"
	"go.uber.org/zap"
)

// MetricsDispatcher fans a flushed metric snapshot out to every
// configured metric sink in parallel. Sink failures are isolated: they
// are logged as a batch diagnostic and never re-raised, since the
// store was already cleared and delivery is at-most-once.
type MetricsDispatcher struct {
	sinks  []sink.MetricSink
	logger *zap.SugaredLogger
}

// NewMetricsDispatcher creates a dispatcher over the given sinks.
func NewMetricsDispatcher(sinks []sink.MetricSink, logger *zap.SugaredLogger) *MetricsDispatcher {
	return &MetricsDispatcher{sinks: sinks, logger: logger}
}

// Dispatch sends the snapshot to every sink concurrently and waits for
// all outcomes. No sink blocks or fails another.
func (d *MetricsDispatcher) Dispatch(ctx context.Context, metrics []accumulator.ExportedMetric) {
	if len(d.sinks) == 0 || len(metrics) == 0 {
		return
	}
	results := make([]error, len(d.sinks))
	var wg sync.WaitGroup
	for i, s := range d.sinks {
		wg.Add(1)
		go func(i int, s sink.MetricSink) {
			defer wg.Done()
			results[i] = s.SendMetrics(ctx, metrics)
		}(i, s)
	}
	wg.Wait()
	reportOutcomes(d.logger, "metrics", len(metrics), sinkNames(d.sinks), results)
}

// LogsDispatcher fans the raw buffered trace items out to every
// configured log sink in parallel, with the same failure isolation as
// the metrics dispatcher.
type LogsDispatcher struct {
	sinks  []sink.LogSink
	logger *zap.SugaredLogger
}

// NewLogsDispatcher creates a dispatcher over the given sinks.
func NewLogsDispatcher(sinks []sink.LogSink, logger *zap.SugaredLogger) *LogsDispatcher {
	return &LogsDispatcher{sinks: sinks, logger: logger}
}

// Dispatch sends the trace items to every sink concurrently and waits
// for all outcomes.
func (d *LogsDispatcher) Dispatch(ctx context.Context, items [][]byte) {
	if len(d.sinks) == 0 || len(items) == 0 {
		return
	}
	results := make([]error, len(d.sinks))
	var wg sync.WaitGroup
	for i, s := range d.sinks {
		wg.Add(1)
		go func(i int, s sink.LogSink) {
			defer wg.Done()
			results[i] = s.SendLogs(ctx, items)
		}(i, s)
	}
	wg.Wait()
	reportOutcomes(d.logger, "logs", len(items), logSinkNames(d.sinks), results)
}

func reportOutcomes(logger *zap.SugaredLogger, stream string, entries int, names []string, results []error) {
	failed := 0
	for i, err := range results {
		if err != nil {
			failed++
			logger.Errorf("Failed to deliver %s flush to sink %s: %v", stream, names[i], err)
		}
	}
	if failed > 0 {
		logger.Warnf("Delivered %s flush of %d entries to %d of %d sinks", stream, entries, len(results)-failed, len(results))
	} else {
		logger.Debugf("Delivered %s flush of %d entries to %d sinks", stream, entries, len(results))
	}
}

func sinkNames(sinks []sink.MetricSink) []string {
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	return names
}

func logSinkNames(sinks []sink.LogSink) []string {
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	return names
}
