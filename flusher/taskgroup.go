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

import "sync"

// TaskGroup is the background-task facility flush work runs on: spawn
// without blocking the caller, but keep the process alive until every
// spawned task settles. Production code only calls Wait at shutdown;
// tests use it to settle detached flushes deterministically.
type TaskGroup struct {
	wg sync.WaitGroup
}

// Go runs fn in a detached goroutine tracked by the group.
func (g *TaskGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait blocks until all spawned tasks have finished.
func (g *TaskGroup) Wait() {
	g.wg.Wait()
}
