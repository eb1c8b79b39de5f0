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

import "sync"

// TraceBuffer accumulates raw trace items awaiting flush for the log
// stream. Items are append-only between flushes and delivered to log
// sinks unmodified.
type TraceBuffer struct {
	mu    sync.RWMutex
	items [][]byte
}

// NewTraceBuffer creates an empty trace buffer.
func NewTraceBuffer() *TraceBuffer {
	return &TraceBuffer{}
}

// Append adds one raw trace item to the buffer.
func (b *TraceBuffer) Append(raw []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, raw)
}

// Count returns the number of buffered trace items.
func (b *TraceBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// SnapshotAndClear returns the buffered items in arrival order and
// atomically resets the buffer.
func (b *TraceBuffer) SnapshotAndClear() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}
