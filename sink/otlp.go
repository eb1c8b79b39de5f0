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

package sink

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/elastic/faas-telemetry-forwarder/version"
	"go.elastic.co/fastjson"
	"go.uber.org/zap"
)

// aggregationTemporalityDelta per the OTLP metrics data model: every
// flush reports only what accumulated since the previous flush.
const aggregationTemporalityDelta = 1

// OTLP ships metrics as OTLP/HTTP JSON with the
// resource/scope/metric hierarchy.
type OTLP struct {
	*transport
	url     string
	headers map[string]string
	service string
	logger  *zap.SugaredLogger
}

type OTLPOption func(*OTLP)

// WithOTLPURL sets the full metrics endpoint URL (".../v1/metrics").
func WithOTLPURL(url string) OTLPOption {
	return func(o *OTLP) {
		o.url = url
	}
}

// WithOTLPHeaders sets additional request headers, e.g. Authorization.
func WithOTLPHeaders(headers map[string]string) OTLPOption {
	return func(o *OTLP) {
		o.headers = headers
	}
}

// WithOTLPServiceName sets the resource service.name attribute.
func WithOTLPServiceName(service string) OTLPOption {
	return func(o *OTLP) {
		o.service = service
	}
}

// WithOTLPLogger configures a custom zap logger to be used by the sink.
func WithOTLPLogger(logger *zap.SugaredLogger) OTLPOption {
	return func(o *OTLP) {
		o.logger = logger
	}
}

// WithOTLPVerifyCerts toggles server certificate verification.
func WithOTLPVerifyCerts(verify bool, rootCertsPem string) OTLPOption {
	return func(o *OTLP) {
		_ = o.configureTLS(verify, rootCertsPem)
	}
}

// NewOTLP creates an OTLP metric sink.
func NewOTLP(opts ...OTLPOption) (*OTLP, error) {
	o := &OTLP{
		transport: newTransport(),
		service:   "faas-telemetry-forwarder",
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.url == "" {
		return nil, errors.New("OTLP metrics URL cannot be empty")
	}
	if o.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}
	return o, nil
}

func (o *OTLP) Name() string { return "otlp" }

func (o *OTLP) SendMetrics(ctx context.Context, metrics []accumulator.ExportedMetric) error {
	var w fastjson.Writer
	o.encodePayload(&w, metrics)

	header := http.Header{}
	for k, v := range o.headers {
		header.Set(k, v)
	}
	return o.post(ctx, o.url, "application/json", w.Bytes(), header)
}

func (o *OTLP) encodePayload(w *fastjson.Writer, metrics []accumulator.ExportedMetric) {
	w.RawString(`{"resourceMetrics":[{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":`)
	w.String(o.service)
	w.RawString(`}}]},"scopeMetrics":[{"scope":{"name":`)
	w.String(o.service)
	w.RawString(`,"version":`)
	w.String(version.Version)
	w.RawString(`},"metrics":[`)
	first := true
	for _, m := range metrics {
		switch m.Kind {
		case accumulator.Count, accumulator.Gauge, accumulator.Histogram:
		default:
			// An unsupported kind skips the single metric; the rest of
			// the flush is unaffected.
			o.logger.Debugf("Skipping metric %s with kind %s unsupported by the OTLP encoder", m.Name, m.Kind)
			continue
		}
		if !first {
			w.RawByte(',')
		}
		first = false
		encodeOTLPMetric(w, m)
	}
	w.RawString(`]}]}]}`)
}

func encodeOTLPMetric(w *fastjson.Writer, m accumulator.ExportedMetric) {
	w.RawString(`{"name":`)
	w.String(m.Name)
	switch m.Kind {
	case accumulator.Count:
		w.RawString(`,"sum":{"aggregationTemporality":`)
		w.Int64(aggregationTemporalityDelta)
		w.RawString(`,"isMonotonic":true,"dataPoints":[`)
		encodeNumberDataPoint(w, m)
		w.RawString(`]}`)
	case accumulator.Gauge:
		w.RawString(`,"gauge":{"dataPoints":[`)
		encodeNumberDataPoint(w, m)
		w.RawString(`]}`)
	case accumulator.Histogram:
		w.RawString(`,"exponentialHistogram":{"aggregationTemporality":`)
		w.Int64(aggregationTemporalityDelta)
		w.RawString(`,"dataPoints":[`)
		encodeExpoHistogramDataPoint(w, m)
		w.RawString(`]}`)
	}
	w.RawByte('}')
}

func encodeNumberDataPoint(w *fastjson.Writer, m accumulator.ExportedMetric) {
	w.RawString(`{"timeUnixNano":`)
	writeTimeUnixNano(w, m.Timestamp)
	w.RawString(`,"asDouble":`)
	w.Float64(m.Value)
	writeOTLPAttributes(w, m.Tags)
	w.RawByte('}')
}

func encodeExpoHistogramDataPoint(w *fastjson.Writer, m accumulator.ExportedMetric) {
	h := bucketize(m.Samples)
	w.RawString(`{"startTimeUnixNano":`)
	writeTimeUnixNano(w, h.Start)
	w.RawString(`,"timeUnixNano":`)
	writeTimeUnixNano(w, h.End)
	w.RawString(`,"count":`)
	writeUint64String(w, h.Count)
	w.RawString(`,"sum":`)
	w.Float64(h.Sum)
	w.RawString(`,"scale":`)
	w.Int64(int64(h.Scale))
	w.RawString(`,"zeroCount":`)
	writeUint64String(w, h.ZeroCount)
	if len(h.Positive.Counts) > 0 {
		w.RawString(`,"positive":`)
		writeBucketSet(w, h.Positive)
	}
	if len(h.Negative.Counts) > 0 {
		w.RawString(`,"negative":`)
		writeBucketSet(w, h.Negative)
	}
	writeOTLPAttributes(w, m.Tags)
	w.RawByte('}')
}

func writeBucketSet(w *fastjson.Writer, b bucketSet) {
	w.RawString(`{"offset":`)
	w.Int64(int64(b.Offset))
	w.RawString(`,"bucketCounts":[`)
	for i, c := range b.Counts {
		if i > 0 {
			w.RawByte(',')
		}
		writeUint64String(w, c)
	}
	w.RawString(`]}`)
}

func writeOTLPAttributes(w *fastjson.Writer, tags accumulator.Tags) {
	if len(tags) == 0 {
		return
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.RawString(`,"attributes":[`)
	for i, k := range keys {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawString(`{"key":`)
		w.String(k)
		w.RawString(`,"value":`)
		switch v := tags[k].(type) {
		case string:
			w.RawString(`{"stringValue":`)
			w.String(v)
			w.RawByte('}')
		case bool:
			w.RawString(`{"boolValue":`)
			w.Bool(v)
			w.RawByte('}')
		case float64:
			w.RawString(`{"doubleValue":`)
			w.Float64(v)
			w.RawByte('}')
		default:
			w.RawString(`{"stringValue":`)
			w.String(accumulator.FormatTagValue(v))
			w.RawByte('}')
		}
		w.RawByte('}')
	}
	w.RawByte(']')
}

// 64-bit timestamps and counts are encoded as JSON strings, as the
// proto3 JSON mapping requires. Millisecond source timestamps scale to
// nanoseconds with integer arithmetic only.
func writeUnixNano(w *fastjson.Writer, ns int64) {
	w.String(strconv.FormatInt(ns, 10))
}

// writeTimeUnixNano encodes the zero time as "0" rather than the
// garbage UnixNano the zero time maps to.
func writeTimeUnixNano(w *fastjson.Writer, t time.Time) {
	if t.IsZero() {
		w.RawString(`"0"`)
		return
	}
	writeUnixNano(w, t.UnixNano())
}

func writeUint64String(w *fastjson.Writer, v uint64) {
	w.String(strconv.FormatUint(v, 10))
}
