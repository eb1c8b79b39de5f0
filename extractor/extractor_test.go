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

package extractor

import (
	"testing"
	"time"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/elastic/faas-telemetry-forwarder/traceapi/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

const baseItem = `{
	"scriptName": "my-worker",
	"entrypoint": "fetch",
	"executionModel": "stateless",
	"outcome": "ok",
	"scriptVersion": {"id": "v42"},
	"eventTimestamp": 1700000000000,
	"cpuTime": 12.5,
	"wallTime": 80,
	"diagnosticsChannelEvents": []
}`

func testItem(t *testing.T, events ...string) model.TraceItem {
	t.Helper()
	raw := baseItem
	var err error
	for i, ev := range events {
		raw, err = sjson.SetRaw(raw, "diagnosticsChannelEvents."+itoa(i), ev)
		require.NoError(t, err)
	}
	items, err := model.DecodeBatch([]byte("[" + raw + "]"))
	require.NoError(t, err)
	return items[0]
}

func itoa(i int) string {
	return string(rune('0' + i))
}

func metricEvent(t *testing.T, message string) string {
	t.Helper()
	ev := `{"channel":"telemetry.metrics","timestamp":1700000000123}`
	ev, err := sjson.SetRaw(ev, "message", message)
	require.NoError(t, err)
	return ev
}

func byName(emissions []accumulator.Emission) map[string]accumulator.Emission {
	m := make(map[string]accumulator.Emission)
	for _, e := range emissions {
		m[e.Name] = e
	}
	return m
}

func TestExtractDerivedMetrics(t *testing.T) {
	e := New("", zap.NewNop().Sugar())
	emissions := e.Extract(testItem(t))
	require.Len(t, emissions, 5)

	m := byName(emissions)
	assert.Equal(t, float64(1), m["faas.requests"].Value)
	assert.Equal(t, accumulator.Count, m["faas.requests"].Kind)
	assert.Equal(t, float64(1), m["faas.outcome"].Value)
	assert.Equal(t, 12.5, m["faas.cpu_time"].Value)
	assert.Equal(t, float64(80), m["faas.wall_time"].Value)
	assert.Equal(t, accumulator.Gauge, m["faas.duration"].Kind)
	assert.Equal(t, float64(80), m["faas.duration"].Value)

	// Standard metrics carry contextual tags exclusively and the trace
	// item's event timestamp.
	for _, em := range emissions {
		assert.Equal(t, accumulator.Tags{
			"script":          "my-worker",
			"entrypoint":      "fetch",
			"execution_model": "stateless",
			"outcome":         "ok",
			"version":         "v42",
		}, em.Tags)
		assert.Equal(t, time.UnixMilli(1700000000000), em.Timestamp)
	}
}

func TestExtractUserEmission(t *testing.T) {
	e := New("", zap.NewNop().Sugar())
	item := testItem(t, metricEvent(t,
		`{"kind":"count","name":"checkout.total","value":3,"tags":{"currency":"EUR","retries":2,"cached":false}}`,
	))

	emissions := e.Extract(item)
	require.Len(t, emissions, 6)

	em := emissions[0]
	assert.Equal(t, "checkout.total", em.Name)
	assert.Equal(t, accumulator.Count, em.Kind)
	assert.Equal(t, float64(3), em.Value)
	// The event's own timestamp wins over the item timestamp.
	assert.Equal(t, time.UnixMilli(1700000000123), em.Timestamp)

	// Contextual tags form the base layer, user tags on top.
	assert.Equal(t, "my-worker", em.Tags["script"])
	assert.Equal(t, "EUR", em.Tags["currency"])
	assert.Equal(t, float64(2), em.Tags["retries"])
	assert.Equal(t, false, em.Tags["cached"])
}

func TestExtractUserTagOverridesContext(t *testing.T) {
	e := New("", zap.NewNop().Sugar())
	item := testItem(t, metricEvent(t,
		`{"kind":"gauge","name":"depth","value":1,"tags":{"outcome":"custom"}}`,
	))

	m := byName(e.Extract(item))
	assert.Equal(t, "custom", m["depth"].Tags["outcome"])
	// Derived metrics are unaffected by user tag shadowing.
	assert.Equal(t, "ok", m["faas.requests"].Tags["outcome"])
}

func TestExtractMalformedEmissionsDropped(t *testing.T) {
	testCases := []struct {
		name    string
		message string
	}{
		{name: "unknown-kind", message: `{"kind":"timer","name":"m","value":1}`},
		{name: "missing-name", message: `{"kind":"count","value":1}`},
		{name: "string-value", message: `{"kind":"count","name":"m","value":"fast"}`},
		{name: "null-value", message: `{"kind":"count","name":"m","value":null}`},
		{name: "missing-value", message: `{"kind":"count","name":"m"}`},
		{name: "not-an-object", message: `"free-form text"`},
	}

	e := New("", zap.NewNop().Sugar())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			item := testItem(t, metricEvent(t, tc.message))
			emissions := e.Extract(item)
			// The malformed emission is dropped silently; the standard
			// derived metrics are still produced.
			require.Len(t, emissions, 5)
			for _, em := range emissions {
				assert.NotEqual(t, "m", em.Name)
			}
		})
	}
}

func TestExtractIgnoresOtherChannels(t *testing.T) {
	e := New("", zap.NewNop().Sugar())
	ev := `{"channel":"app.debug","timestamp":1700000000123,"message":{"kind":"count","name":"m","value":1}}`
	emissions := e.Extract(testItem(t, ev))
	assert.Len(t, emissions, 5)
}

func TestExtractCustomChannel(t *testing.T) {
	e := New("metrics.custom", zap.NewNop().Sugar())
	ev := `{"channel":"metrics.custom","message":{"kind":"histogram","name":"lat","value":42}}`
	emissions := e.Extract(testItem(t, ev))
	require.Len(t, emissions, 6)
	assert.Equal(t, "lat", emissions[0].Name)
	// No event timestamp: fall back to the item's event time, never
	// the processing wall clock.
	assert.Equal(t, time.UnixMilli(1700000000000), emissions[0].Timestamp)
}
