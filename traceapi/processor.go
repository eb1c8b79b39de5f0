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

// Package traceapi receives trace batches pushed by the host runtime
// and feeds them into the buffering and aggregation core.
package traceapi

import (
	"context"
	"math"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/elastic/faas-telemetry-forwarder/extractor"
	"github.com/elastic/faas-telemetry-forwarder/flusher"
	"github.com/elastic/faas-telemetry-forwarder/traceapi/model"
	"go.uber.org/zap"
)

// Processor is the batch-processing entry point. For each delivered
// batch it appends raw items to the log stream, merges extracted
// metric emissions into the store in trace-item order, then runs each
// scheduler's flush decision once. The caller never observes flush
// errors: flush work runs detached on the background task group.
type Processor struct {
	store            *accumulator.Store
	traces           *accumulator.TraceBuffer
	extractor        *extractor.Extractor
	metricsScheduler *flusher.Scheduler
	logsScheduler    *flusher.Scheduler
	logger           *zap.SugaredLogger
}

// NewProcessor wires the batch entry point. Either scheduler may be
// nil when the corresponding stream is not configured.
func NewProcessor(
	store *accumulator.Store,
	traces *accumulator.TraceBuffer,
	ext *extractor.Extractor,
	metricsScheduler *flusher.Scheduler,
	logsScheduler *flusher.Scheduler,
	logger *zap.SugaredLogger,
) *Processor {
	return &Processor{
		store:            store,
		traces:           traces,
		extractor:        ext,
		metricsScheduler: metricsScheduler,
		logsScheduler:    logsScheduler,
		logger:           logger,
	}
}

// ProcessBatch consumes one ordered batch of trace items.
func (p *Processor) ProcessBatch(ctx context.Context, items []model.TraceItem) {
	for _, item := range items {
		if p.logsScheduler != nil {
			p.traces.Append(item.Raw)
		}
		if p.metricsScheduler != nil {
			for _, e := range p.extractor.Extract(item) {
				p.store.Merge(e)
			}
		}
	}
	if p.logsScheduler != nil {
		p.logsScheduler.Poke(ctx)
	}
	if p.metricsScheduler != nil {
		p.metricsScheduler.Poke(ctx)
	}
}

// OnEmission merges one in-process emission published on the
// diagnostics bus and runs the metrics flush decision. Bus emissions
// are validated the same way extracted ones are: an unknown kind or a
// non-finite value is dropped, never stored.
func (p *Processor) OnEmission(ctx context.Context, e accumulator.Emission) {
	if p.metricsScheduler == nil {
		return
	}
	if _, ok := accumulator.ParseKind(string(e.Kind)); !ok {
		p.logger.Debugf("Dropping bus emission %s with unknown kind %s", e.Name, e.Kind)
		return
	}
	if e.Name == "" || math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		p.logger.Debugf("Dropping malformed bus emission %s", e.Name)
		return
	}
	p.store.Merge(e)
	p.metricsScheduler.Poke(ctx)
}
