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
	"math"
	"time"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/elastic/faas-telemetry-forwarder/traceapi/model"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// DefaultMetricsChannel is the diagnostics channel name carrying
	// user metric emissions.
	DefaultMetricsChannel = "telemetry.metrics"

	// internalPrefix is reserved for metrics derived by the forwarder
	// itself, distinguishing them from user metric names at export.
	internalPrefix = "faas."
)

// Extractor pulls well-formed metric emissions out of raw trace items
// and derives the standard per-invocation metrics.
type Extractor struct {
	channel string
	logger  *zap.SugaredLogger
}

// New creates an Extractor watching the given diagnostics channel.
func New(channel string, logger *zap.SugaredLogger) *Extractor {
	if channel == "" {
		channel = DefaultMetricsChannel
	}
	return &Extractor{channel: channel, logger: logger}
}

// Extract produces the normalized emissions for one trace item: every
// valid user emission found on the metrics channel plus the standard
// derived metrics. Malformed user emissions are dropped silently so
// they can never block the standard invocation metrics.
func (e *Extractor) Extract(item model.TraceItem) []accumulator.Emission {
	ctx := contextTags(item)
	eventTime := item.EventTime()

	var emissions []accumulator.Emission
	for _, ev := range item.Diagnostics {
		if ev.Channel != e.channel {
			continue
		}
		ts := ev.Time()
		if ts.IsZero() {
			ts = eventTime
		}
		emission, ok := e.parseEmission(ev.Message, ctx, ts)
		if !ok {
			e.logger.Debugf("Dropping malformed metric emission on channel %s", ev.Channel)
			continue
		}
		emissions = append(emissions, emission)
	}

	return append(emissions, derivedMetrics(item, ctx, eventTime)...)
}

// parseEmission validates one diagnostics message as {kind,name,value,tags}.
// Contextual tags form the base layer; user tags are layered on top.
func (e *Extractor) parseEmission(message []byte, ctx accumulator.Tags, ts time.Time) (accumulator.Emission, bool) {
	kind, ok := accumulator.ParseKind(gjson.GetBytes(message, "kind").String())
	if !ok {
		return accumulator.Emission{}, false
	}
	name := gjson.GetBytes(message, "name")
	if name.Type != gjson.String || name.Str == "" {
		return accumulator.Emission{}, false
	}
	value := gjson.GetBytes(message, "value")
	if value.Type != gjson.Number {
		return accumulator.Emission{}, false
	}
	v := value.Float()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return accumulator.Emission{}, false
	}

	tags := ctx.Clone()
	gjson.GetBytes(message, "tags").ForEach(func(key, val gjson.Result) bool {
		switch val.Type {
		case gjson.String:
			tags[key.Str] = val.Str
		case gjson.Number:
			tags[key.Str] = val.Num
		case gjson.True, gjson.False:
			tags[key.Str] = val.Bool()
		}
		return true
	})

	return accumulator.Emission{
		Name:      name.Str,
		Kind:      kind,
		Value:     v,
		Tags:      tags,
		Timestamp: ts,
	}, true
}

// derivedMetrics emits the fixed set of standard metrics for a trace
// item, each carrying the contextual tags exclusively.
func derivedMetrics(item model.TraceItem, ctx accumulator.Tags, ts time.Time) []accumulator.Emission {
	return []accumulator.Emission{
		{Name: internalPrefix + "requests", Kind: accumulator.Count, Value: 1, Tags: ctx.Clone(), Timestamp: ts},
		{Name: internalPrefix + "outcome", Kind: accumulator.Count, Value: 1, Tags: ctx.Clone(), Timestamp: ts},
		{Name: internalPrefix + "cpu_time", Kind: accumulator.Count, Value: item.CPUTimeMs, Tags: ctx.Clone(), Timestamp: ts},
		{Name: internalPrefix + "wall_time", Kind: accumulator.Count, Value: item.WallTimeMs, Tags: ctx.Clone(), Timestamp: ts},
		{Name: internalPrefix + "duration", Kind: accumulator.Gauge, Value: item.WallTimeMs, Tags: ctx.Clone(), Timestamp: ts},
	}
}

func contextTags(item model.TraceItem) accumulator.Tags {
	tags := accumulator.Tags{}
	if item.ScriptName != "" {
		tags["script"] = item.ScriptName
	}
	if item.Entrypoint != "" {
		tags["entrypoint"] = item.Entrypoint
	}
	if item.ExecutionModel != "" {
		tags["execution_model"] = item.ExecutionModel
	}
	if item.Outcome != "" {
		tags["outcome"] = item.Outcome
	}
	if item.ScriptVersion.ID != "" {
		tags["version"] = item.ScriptVersion.ID
	}
	return tags
}
