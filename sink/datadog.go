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

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"go.elastic.co/fastjson"
	"go.uber.org/zap"
)

const (
	defaultDatadogSite = "datadoghq.com"

	// Datadog series types.
	datadogTypeCount int64 = 1
	datadogTypeGauge int64 = 3
)

// Datadog ships metrics to the Datadog API: counts and gauges as v2
// series, histograms as v1 distribution points.
type Datadog struct {
	*transport
	site   string
	apiKey string
	logger *zap.SugaredLogger
}

type DatadogOption func(*Datadog)

// WithDatadogSite sets the Datadog site (e.g. datadoghq.eu).
func WithDatadogSite(site string) DatadogOption {
	return func(d *Datadog) {
		d.site = site
	}
}

// WithDatadogAPIKey sets the API key sent in the DD-API-KEY header.
func WithDatadogAPIKey(key string) DatadogOption {
	return func(d *Datadog) {
		d.apiKey = key
	}
}

// WithDatadogLogger configures a custom zap logger to be used by the sink.
func WithDatadogLogger(logger *zap.SugaredLogger) DatadogOption {
	return func(d *Datadog) {
		d.logger = logger
	}
}

// WithDatadogVerifyCerts toggles server certificate verification.
func WithDatadogVerifyCerts(verify bool, rootCertsPem string) DatadogOption {
	return func(d *Datadog) {
		// Errors surface on the first send as TLS failures.
		_ = d.configureTLS(verify, rootCertsPem)
	}
}

// NewDatadog creates a Datadog metric sink.
func NewDatadog(opts ...DatadogOption) (*Datadog, error) {
	d := &Datadog{
		transport: newTransport(),
		site:      defaultDatadogSite,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.apiKey == "" {
		return nil, errors.New("datadog API key cannot be empty")
	}
	if d.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}
	return d, nil
}

func (d *Datadog) Name() string { return "datadog" }

// SendMetrics posts scalar metrics and distributions in separate
// requests, as the Datadog API requires. Both requests are attempted
// even if the first fails.
func (d *Datadog) SendMetrics(ctx context.Context, metrics []accumulator.ExportedMetric) error {
	var scalars, histograms []accumulator.ExportedMetric
	for _, m := range metrics {
		switch m.Kind {
		case accumulator.Count, accumulator.Gauge:
			scalars = append(scalars, m)
		case accumulator.Histogram:
			histograms = append(histograms, m)
		default:
			d.logger.Debugf("Skipping metric %s with kind %s unsupported by the datadog encoder", m.Name, m.Kind)
		}
	}

	header := http.Header{"DD-API-KEY": []string{d.apiKey}}
	var errs []error
	if len(scalars) > 0 {
		var w fastjson.Writer
		encodeDatadogSeries(&w, scalars)
		url := "https://api." + d.site + "/api/v2/series"
		if err := d.post(ctx, url, "application/json", w.Bytes(), header); err != nil {
			errs = append(errs, err)
		}
	}
	if len(histograms) > 0 {
		var w fastjson.Writer
		encodeDatadogDistributions(&w, histograms)
		url := "https://api." + d.site + "/api/v1/distribution_points"
		if err := d.post(ctx, url, "application/json", w.Bytes(), header); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encodeDatadogSeries(w *fastjson.Writer, metrics []accumulator.ExportedMetric) {
	w.RawString(`{"series":[`)
	for i, m := range metrics {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawString(`{"metric":`)
		w.String(m.Name)
		w.RawString(`,"type":`)
		if m.Kind == accumulator.Count {
			w.Int64(datadogTypeCount)
		} else {
			w.Int64(datadogTypeGauge)
		}
		w.RawString(`,"points":[{"timestamp":`)
		w.Int64(m.Timestamp.Unix())
		w.RawString(`,"value":`)
		w.Float64(m.Value)
		w.RawString(`}]`)
		writeDatadogTags(w, m.Tags)
		w.RawByte('}')
	}
	w.RawString(`]}`)
}

func encodeDatadogDistributions(w *fastjson.Writer, metrics []accumulator.ExportedMetric) {
	w.RawString(`{"series":[`)
	for i, m := range metrics {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawString(`{"metric":`)
		w.String(m.Name)
		w.RawString(`,"points":[`)
		for j, s := range m.Samples {
			if j > 0 {
				w.RawByte(',')
			}
			w.RawByte('[')
			w.Int64(s.Time.Unix())
			w.RawString(`,[`)
			w.Float64(s.Value)
			w.RawString(`]]`)
		}
		w.RawByte(']')
		writeDatadogTags(w, m.Tags)
		w.RawByte('}')
	}
	w.RawString(`]}`)
}

// writeDatadogTags emits the "tags" field as "key:value" strings in
// lexicographic key order. Empty tag maps omit the field.
func writeDatadogTags(w *fastjson.Writer, tags accumulator.Tags) {
	if len(tags) == 0 {
		return
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.RawString(`,"tags":[`)
	for i, k := range keys {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(k + ":" + accumulator.FormatTagValue(tags[k]))
	}
	w.RawByte(']')
}
