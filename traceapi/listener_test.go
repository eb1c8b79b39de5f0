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
	"bytes"
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/elastic/faas-telemetry-forwarder/extractor"
	"github.com/elastic/faas-telemetry-forwarder/flusher"
	"github.com/elastic/faas-telemetry-forwarder/sink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureMetricSink struct {
	mu      sync.Mutex
	batches [][]accumulator.ExportedMetric
}

func (c *captureMetricSink) Name() string { return "capture-metrics" }

func (c *captureMetricSink) SendMetrics(ctx context.Context, metrics []accumulator.ExportedMetric) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, metrics)
	return nil
}

type captureLogSink struct {
	mu      sync.Mutex
	batches [][][]byte
}

func (c *captureLogSink) Name() string { return "capture-logs" }

func (c *captureLogSink) SendLogs(ctx context.Context, items [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, items)
	return nil
}

// testPipeline wires a full receive-aggregate-flush pipeline around
// capturing sinks, with size thresholds of one so every push flushes.
type testPipeline struct {
	addr    string
	metrics *captureMetricSink
	logs    *captureLogSink
	tasks   *flusher.TaskGroup
}

func startPipeline(t *testing.T) *testPipeline {
	t.Helper()
	logger := zap.NewNop().Sugar()

	p := &testPipeline{
		metrics: &captureMetricSink{},
		logs:    &captureLogSink{},
		tasks:   &flusher.TaskGroup{},
	}
	store := accumulator.NewStore()
	traces := accumulator.NewTraceBuffer()

	metricsStream := flusher.NewMetricsStream(store,
		flusher.NewMetricsDispatcher([]sink.MetricSink{p.metrics}, logger))
	logsStream := flusher.NewLogsStream(traces,
		flusher.NewLogsDispatcher([]sink.LogSink{p.logs}, logger))

	processor := NewProcessor(
		store, traces,
		extractor.New("", logger),
		flusher.NewScheduler(metricsStream, 1, time.Second, p.tasks, logger),
		flusher.NewScheduler(logsStream, 1, time.Second, p.tasks, logger),
		logger,
	)

	l, err := NewListener(
		WithListenerAddress("localhost:0"),
		WithProcessor(processor),
		WithLogger(logger),
	)
	require.NoError(t, err)

	addr, err := l.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Shutdown()) })

	p.addr = addr
	return p
}

func (p *testPipeline) push(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post("http://"+p.addr+"/telemetry", "application/json",
		bytes.NewBufferString(body))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp
}

func TestListenerValidation(t *testing.T) {
	logger := zap.NewNop().Sugar()

	_, err := NewListener(WithLogger(logger))
	require.EqualError(t, err, "processor cannot be empty")

	_, err = NewListener(WithProcessor(&Processor{}))
	require.EqualError(t, err, "logger cannot be empty")
}

func TestListenerRejectsNonPost(t *testing.T) {
	p := startPipeline(t)
	resp, err := http.Get("http://" + p.addr + "/telemetry")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestListenerRejectsUndecodableBatch(t *testing.T) {
	p := startPipeline(t)
	resp := p.push(t, `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	p.tasks.Wait()
	assert.Empty(t, p.metrics.batches)
	assert.Empty(t, p.logs.batches)
}

func TestListenerEndToEnd(t *testing.T) {
	p := startPipeline(t)

	resp := p.push(t, `[
		{
			"scriptName": "my-worker",
			"outcome": "ok",
			"eventTimestamp": 1700000000000,
			"cpuTime": 10,
			"wallTime": 40,
			"diagnosticsChannelEvents": [{
				"channel": "telemetry.metrics",
				"timestamp": 1700000000100,
				"message": {"kind": "count", "name": "checkout.total", "value": 2}
			}]
		},
		{
			"scriptName": "my-worker",
			"outcome": "ok",
			"eventTimestamp": 1700000001000,
			"cpuTime": 20,
			"wallTime": 60,
			"diagnosticsChannelEvents": []
		}
	]`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	p.tasks.Wait()

	// Both raw items reach the log sink in one flush, unmodified.
	require.Len(t, p.logs.batches, 1)
	require.Len(t, p.logs.batches[0], 2)
	assert.Contains(t, string(p.logs.batches[0][0]), `"checkout.total"`)

	// The user emission plus the derived invocation metrics reach the
	// metric sink, with emissions sharing an identity merged.
	require.Len(t, p.metrics.batches, 1)
	byName := make(map[string]accumulator.ExportedMetric)
	for _, m := range p.metrics.batches[0] {
		byName[m.Name] = m
	}
	assert.Equal(t, float64(2), byName["checkout.total"].Value)
	assert.Equal(t, float64(2), byName["faas.requests"].Value)
	assert.Equal(t, float64(30), byName["faas.cpu_time"].Value)
	assert.Equal(t, float64(100), byName["faas.wall_time"].Value)
	// Gauge: last write wins.
	assert.Equal(t, float64(60), byName["faas.duration"].Value)
}
