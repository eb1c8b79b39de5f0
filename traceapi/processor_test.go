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

package traceapi

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/elastic/faas-telemetry-forwarder/diagnostics"
	"github.com/elastic/faas-telemetry-forwarder/extractor"
	"github.com/elastic/faas-telemetry-forwarder/flusher"
	"github.com/elastic/faas-telemetry-forwarder/traceapi/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeItems(t *testing.T, batch string) []model.TraceItem {
	t.Helper()
	items, err := model.DecodeBatch([]byte(batch))
	require.NoError(t, err)
	return items
}

const processorBatch = `[{
	"scriptName": "my-worker",
	"outcome": "ok",
	"eventTimestamp": 1700000000000,
	"cpuTime": 10,
	"wallTime": 40,
	"diagnosticsChannelEvents": []
}]`

func TestProcessorMetricsStreamDisabled(t *testing.T) {
	logger := zap.NewNop().Sugar()
	store := accumulator.NewStore()
	traces := accumulator.NewTraceBuffer()
	tasks := &flusher.TaskGroup{}
	logsStream := flusher.NewLogsStream(traces, flusher.NewLogsDispatcher(nil, logger))

	p := NewProcessor(store, traces, extractor.New("", logger),
		nil, // metrics stream off
		flusher.NewScheduler(logsStream, 100, 20*time.Millisecond, tasks, logger),
		logger)

	p.ProcessBatch(context.Background(), decodeItems(t, processorBatch))

	// Raw items are buffered; nothing reaches the aggregation store.
	assert.Equal(t, 0, store.Count())
	tasks.Wait()

	// Bus emissions are dropped outright.
	p.OnEmission(context.Background(), accumulator.Emission{
		Name: "m", Kind: accumulator.Count, Value: 1,
	})
	assert.Equal(t, 0, store.Count())
}

func TestProcessorLogsStreamDisabled(t *testing.T) {
	logger := zap.NewNop().Sugar()
	store := accumulator.NewStore()
	traces := accumulator.NewTraceBuffer()
	tasks := &flusher.TaskGroup{}
	metricsStream := flusher.NewMetricsStream(store, flusher.NewMetricsDispatcher(nil, logger))

	p := NewProcessor(store, traces, extractor.New("", logger),
		flusher.NewScheduler(metricsStream, 100, 20*time.Millisecond, tasks, logger),
		nil, // log stream off
		logger)

	p.ProcessBatch(context.Background(), decodeItems(t, processorBatch))

	assert.Equal(t, 0, traces.Count())
	assert.Greater(t, store.Count(), 0)
	tasks.Wait()
}

func TestProcessorRejectsMalformedBusEmissions(t *testing.T) {
	logger := zap.NewNop().Sugar()
	store := accumulator.NewStore()
	tasks := &flusher.TaskGroup{}
	metricsStream := flusher.NewMetricsStream(store, flusher.NewMetricsDispatcher(nil, logger))

	p := NewProcessor(store, accumulator.NewTraceBuffer(), extractor.New("", logger),
		flusher.NewScheduler(metricsStream, 100, 20*time.Millisecond, tasks, logger),
		nil, logger)

	// Emissions arrive through the diagnostics bus exactly as any
	// in-process publisher would deliver them.
	bus := diagnostics.NewBus()
	bus.Subscribe(func(e accumulator.Emission) {
		p.OnEmission(context.Background(), e)
	})

	for _, e := range []accumulator.Emission{
		{Name: "lat", Kind: accumulator.Histogram, Value: math.NaN()},
		{Name: "lat", Kind: accumulator.Histogram, Value: math.Inf(1)},
		{Name: "lat", Kind: accumulator.Histogram, Value: math.Inf(-1)},
		{Name: "gauge", Kind: accumulator.Gauge, Value: math.NaN()},
		{Name: "odd", Kind: accumulator.Kind("timer"), Value: 1},
		{Name: "", Kind: accumulator.Count, Value: 1},
	} {
		bus.Publish(e)
	}
	assert.Equal(t, 0, store.Count())

	// A well-formed emission on the same bus still lands.
	bus.Publish(accumulator.Emission{
		Name: "lat", Kind: accumulator.Histogram, Value: 3,
		Timestamp: time.UnixMilli(1700000000000),
	})
	assert.Equal(t, 1, store.Count())
	tasks.Wait()
}

func TestProcessorOnEmission(t *testing.T) {
	logger := zap.NewNop().Sugar()
	store := accumulator.NewStore()
	tasks := &flusher.TaskGroup{}
	metricsStream := flusher.NewMetricsStream(store, flusher.NewMetricsDispatcher(nil, logger))

	p := NewProcessor(store, accumulator.NewTraceBuffer(), extractor.New("", logger),
		flusher.NewScheduler(metricsStream, 100, 20*time.Millisecond, tasks, logger),
		nil, logger)

	e := accumulator.Emission{
		Name: "queue.depth", Kind: accumulator.Gauge, Value: 4,
		Timestamp: time.UnixMilli(1700000000000),
	}
	p.OnEmission(context.Background(), e)
	p.OnEmission(context.Background(), e)

	assert.Equal(t, 1, store.Count())
	tasks.Wait()
}
