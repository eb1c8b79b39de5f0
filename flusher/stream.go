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

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
)

// MetricsStream binds the aggregation store to the metrics dispatcher.
// Collect serializes the snapshot into the normalized export form
// once; the dispatcher's sinks each encode their own wire format from
// it.
type MetricsStream struct {
	store      *accumulator.Store
	dispatcher *MetricsDispatcher
}

// NewMetricsStream creates the metrics stream for a scheduler to own.
func NewMetricsStream(store *accumulator.Store, dispatcher *MetricsDispatcher) *MetricsStream {
	return &MetricsStream{store: store, dispatcher: dispatcher}
}

func (m *MetricsStream) Count() int {
	return m.store.Count()
}

func (m *MetricsStream) Collect() func(ctx context.Context) {
	snapshot := m.store.SnapshotAndClear()
	if len(snapshot) == 0 {
		return nil
	}
	exported := accumulator.ExportForm(snapshot)
	return func(ctx context.Context) {
		m.dispatcher.Dispatch(ctx, exported)
	}
}

// LogsStream binds the trace buffer to the logs dispatcher.
type LogsStream struct {
	buffer     *accumulator.TraceBuffer
	dispatcher *LogsDispatcher
}

// NewLogsStream creates the log stream for a scheduler to own.
func NewLogsStream(buffer *accumulator.TraceBuffer, dispatcher *LogsDispatcher) *LogsStream {
	return &LogsStream{buffer: buffer, dispatcher: dispatcher}
}

func (l *LogsStream) Count() int {
	return l.buffer.Count()
}

func (l *LogsStream) Collect() func(ctx context.Context) {
	items := l.buffer.SnapshotAndClear()
	if len(items) == 0 {
		return nil
	}
	return func(ctx context.Context) {
		l.dispatcher.Dispatch(ctx, items)
	}
}
