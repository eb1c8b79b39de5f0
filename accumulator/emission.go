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

package accumulator

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the aggregation semantics of a metric.
type Kind string

const (
	// Count accumulates a running sum across emissions.
	Count Kind = "count"
	// Gauge keeps the most recently emitted value.
	Gauge Kind = "gauge"
	// Histogram appends every emitted value as a timestamped sample.
	Histogram Kind = "histogram"
)

// ParseKind maps a raw kind string to a known metric Kind. The second
// return value is false for any kind this forwarder does not recognize.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case Count, Gauge, Histogram:
		return Kind(s), true
	}
	return "", false
}

// Tags is an unordered mapping of tag keys to scalar values. Supported
// value types are string, float64 and bool.
type Tags map[string]any

// Clone returns a shallow copy of the tag mapping. Emissions sharing a
// tag map would otherwise alias mutations across stored metrics.
func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}
	c := make(Tags, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// Emission is one raw metric data point published by application code
// or derived from a trace item by the extractor.
type Emission struct {
	Name      string
	Kind      Kind
	Value     float64
	Tags      Tags
	Timestamp time.Time
}

// Identity returns the canonical identity key for the emission. Tag
// keys are sorted lexicographically before concatenation so that two
// tag mappings with the same keys and values produce the same identity
// regardless of insertion order. Each value carries a type marker and
// strings are quoted, so bool true never collides with the string
// "true" and a crafted string cannot forge another tag mapping's key.
func (e Emission) Identity() string {
	var sb strings.Builder
	sb.WriteString(e.Name)
	sb.WriteByte(0)
	sb.WriteString(string(e.Kind))
	keys := make([]string, 0, len(e.Tags))
	for k := range e.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte(0)
		sb.WriteString(strconv.Quote(k))
		sb.WriteByte('=')
		switch tv := e.Tags[k].(type) {
		case string:
			sb.WriteByte('s')
			sb.WriteString(strconv.Quote(tv))
		case bool:
			sb.WriteByte('b')
			sb.WriteString(strconv.FormatBool(tv))
		case float64:
			sb.WriteByte('f')
			sb.WriteString(strconv.FormatFloat(tv, 'g', -1, 64))
		default:
			sb.WriteByte('?')
			sb.WriteString(FormatTagValue(tv))
		}
	}
	return sb.String()
}

// FormatTagValue renders a scalar tag value the way the canonical
// identity key and the sink encoders expect it.
func FormatTagValue(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case float64:
		return strconv.FormatFloat(tv, 'g', -1, 64)
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	default:
		return ""
	}
}

// Sample is a single histogram observation.
type Sample struct {
	Value float64
	Time  time.Time
}

// Metric is one aggregation-store entry: the merged state of every
// emission sharing an identity since the last flush.
type Metric struct {
	Name        string
	Kind        Kind
	Tags        Tags
	Value       float64
	Samples     []Sample
	LastUpdated time.Time
}

// ExportedMetric is the sink-facing form of a stored metric. Count and
// gauge metrics carry a scalar value and the last-updated timestamp;
// histograms carry the full sample sequence and no timestamp, leaving
// per-sample timing derivation to the sink encoders.
type ExportedMetric struct {
	Name      string
	Kind      Kind
	Tags      Tags
	Value     float64
	Timestamp time.Time
	Samples   []Sample
}

// ExportForm maps stored metrics to their sink-facing payload shape.
func ExportForm(metrics []*Metric) []ExportedMetric {
	exported := make([]ExportedMetric, 0, len(metrics))
	for _, m := range metrics {
		em := ExportedMetric{
			Name: m.Name,
			Kind: m.Kind,
			Tags: m.Tags,
		}
		switch m.Kind {
		case Histogram:
			em.Samples = m.Samples
		default:
			em.Value = m.Value
			em.Timestamp = m.LastUpdated
		}
		exported = append(exported, em)
	}
	return exported
}
