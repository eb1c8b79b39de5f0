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

// Package flusher decides when buffered telemetry is flushed and fans
// the flushed snapshots out to the configured sinks.
package flusher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxFlushDelay is the safety ceiling for the debounce duration. It
// bounds worst-case data staleness regardless of configuration.
const maxFlushDelay = 30 * time.Second

// Stream is the buffered state a Scheduler owns: the aggregation store
// for the metrics stream, the trace buffer for the log stream.
type Stream interface {
	// Count returns the number of buffered entries (distinct metric
	// identities, or trace items).
	Count() int
	// Collect snapshots and clears the buffered state and returns a
	// dispatch closure for the snapshot, or nil when it was empty.
	Collect() func(ctx context.Context)
}

// Scheduler decides, for each incoming batch, whether to flush
// immediately (size threshold) or schedule a debounced timed flush. At
// most one flush timer is live at a time; a monotonically increasing
// flush epoch invalidates timers superseded by a size-triggered flush.
type Scheduler struct {
	mu      sync.Mutex
	epoch   uint64
	armed   bool
	stream  Stream
	maxSize int
	maxAge  time.Duration
	tasks   *TaskGroup
	logger  *zap.SugaredLogger
}

// NewScheduler creates a Scheduler for one logical stream. maxAge is
// clamped to the safety ceiling.
func NewScheduler(stream Stream, maxSize int, maxAge time.Duration, tasks *TaskGroup, logger *zap.SugaredLogger) *Scheduler {
	if maxAge <= 0 || maxAge > maxFlushDelay {
		maxAge = maxFlushDelay
	}
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Scheduler{
		stream:  stream,
		maxSize: maxSize,
		maxAge:  maxAge,
		tasks:   tasks,
		logger:  logger,
	}
}

// Poke runs the flush decision after new data was buffered. Over the
// size threshold the stream flushes immediately, superseding any armed
// timer. Below it, a timer is armed unless one already is; the timer
// captures the current epoch and no-ops at wake when that epoch has
// been advanced by an intervening flush.
func (s *Scheduler) Poke(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.stream.Count()
	if n >= s.maxSize {
		s.logger.Debugf("Flushing stream on size threshold (%d buffered)", n)
		s.flushLocked(ctx)
		return
	}
	if s.armed || n == 0 {
		return
	}
	s.armed = true
	captured := s.epoch
	timer := time.NewTimer(s.maxAge)
	s.tasks.Go(func() {
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			// Equivalent to a missed flush; shutdown flushes explicitly.
			return
		}
		s.onTimer(ctx, captured)
	})
}

// Flush forces a synchronous flush, used on shutdown. Any armed timer
// is invalidated.
func (s *Scheduler) Flush(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	s.armed = false
	dispatch := s.stream.Collect()
	s.mu.Unlock()
	if dispatch != nil {
		dispatch(ctx)
	}
}

// Epoch returns the current flush epoch.
func (s *Scheduler) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *Scheduler) onTimer(ctx context.Context, captured uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if captured != s.epoch {
		// A size-triggered flush superseded this timer; that data was
		// already flushed.
		s.logger.Debug("Skipping stale timed flush")
		return
	}
	s.flushLocked(ctx)
}

// flushLocked requires s.mu to be held. It advances the epoch first so
// any armed timer observes a stale epoch, marks the scheduler idle,
// snapshots the stream, and hands a non-empty snapshot to the
// dispatcher on a background task.
func (s *Scheduler) flushLocked(ctx context.Context) {
	s.epoch++
	s.armed = false
	dispatch := s.stream.Collect()
	if dispatch == nil {
		return
	}
	s.tasks.Go(func() {
		dispatch(ctx)
	})
}
