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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStream counts dispatched flushes. Collect drains the buffered
// count the way the real streams snapshot-and-clear their state.
type fakeStream struct {
	count   atomic.Int64
	flushes atomic.Int64
}

func (f *fakeStream) Count() int { return int(f.count.Load()) }

func (f *fakeStream) Collect() func(ctx context.Context) {
	if f.count.Swap(0) == 0 {
		return nil
	}
	return func(ctx context.Context) { f.flushes.Add(1) }
}

func TestSizeThresholdFlush(t *testing.T) {
	stream := &fakeStream{}
	tasks := &TaskGroup{}
	s := NewScheduler(stream, 2, 20*time.Millisecond, tasks, zap.NewNop().Sugar())

	stream.count.Store(1)
	s.Poke(context.Background())
	assert.EqualValues(t, 0, stream.flushes.Load())

	stream.count.Store(2)
	s.Poke(context.Background())
	tasks.Wait()

	assert.EqualValues(t, 1, stream.flushes.Load())
	assert.EqualValues(t, 0, stream.count.Load())
}

func TestDebounceCoalescing(t *testing.T) {
	stream := &fakeStream{}
	tasks := &TaskGroup{}
	s := NewScheduler(stream, 100, 20*time.Millisecond, tasks, zap.NewNop().Sugar())

	// Repeated pokes below the size threshold arm a single timer.
	for i := 0; i < 3; i++ {
		stream.count.Store(int64(i + 1))
		s.Poke(context.Background())
	}
	tasks.Wait()

	assert.EqualValues(t, 1, stream.flushes.Load())
	assert.EqualValues(t, 1, s.Epoch())
}

func TestStaleTimerNoop(t *testing.T) {
	stream := &fakeStream{}
	tasks := &TaskGroup{}
	s := NewScheduler(stream, 5, 20*time.Millisecond, tasks, zap.NewNop().Sugar())

	// Arm a timer, then cross the size threshold before it fires.
	stream.count.Store(1)
	s.Poke(context.Background())
	stream.count.Store(5)
	s.Poke(context.Background())

	// The waking timer observes the advanced epoch and must not flush
	// again.
	tasks.Wait()
	assert.EqualValues(t, 1, stream.flushes.Load())
	assert.EqualValues(t, 1, s.Epoch())
}

func TestRearmAfterTimedFlush(t *testing.T) {
	stream := &fakeStream{}
	tasks := &TaskGroup{}
	s := NewScheduler(stream, 100, 10*time.Millisecond, tasks, zap.NewNop().Sugar())

	stream.count.Store(1)
	s.Poke(context.Background())
	require.Eventually(t, func() bool {
		return stream.flushes.Load() == 1
	}, time.Second, time.Millisecond)

	// The scheduler is idle again; new data arms a fresh timer.
	stream.count.Store(1)
	s.Poke(context.Background())
	tasks.Wait()

	assert.EqualValues(t, 2, stream.flushes.Load())
	assert.EqualValues(t, 2, s.Epoch())
}

func TestPokeEmptyStream(t *testing.T) {
	stream := &fakeStream{}
	tasks := &TaskGroup{}
	s := NewScheduler(stream, 100, 10*time.Millisecond, tasks, zap.NewNop().Sugar())

	// Nothing buffered: no timer, no flush.
	s.Poke(context.Background())
	tasks.Wait()
	assert.EqualValues(t, 0, stream.flushes.Load())
	assert.EqualValues(t, 0, s.Epoch())
}

func TestFlushEmptySkipsDispatch(t *testing.T) {
	stream := &fakeStream{}
	s := NewScheduler(stream, 100, time.Minute, &TaskGroup{}, zap.NewNop().Sugar())

	s.Flush(context.Background())
	assert.EqualValues(t, 0, stream.flushes.Load())
	// The epoch still advances so any armed timer is invalidated.
	assert.EqualValues(t, 1, s.Epoch())
}

func TestShutdownFlush(t *testing.T) {
	stream := &fakeStream{}
	tasks := &TaskGroup{}
	s := NewScheduler(stream, 100, time.Minute, tasks, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	stream.count.Store(3)
	s.Poke(ctx)

	// Cancelling releases the armed timer without flushing; the final
	// synchronous flush delivers what is still buffered.
	cancel()
	tasks.Wait()
	assert.EqualValues(t, 0, stream.flushes.Load())

	s.Flush(context.Background())
	assert.EqualValues(t, 1, stream.flushes.Load())
}

func TestMaxAgeClamped(t *testing.T) {
	s := NewScheduler(&fakeStream{}, 100, time.Hour, &TaskGroup{}, zap.NewNop().Sugar())
	assert.Equal(t, maxFlushDelay, s.maxAge)

	s = NewScheduler(&fakeStream{}, 100, 0, &TaskGroup{}, zap.NewNop().Sugar())
	assert.Equal(t, maxFlushDelay, s.maxAge)
}
