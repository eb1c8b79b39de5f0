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

// Store is the in-memory aggregation store. It merges raw metric
// emissions into summarized values keyed by metric identity and is
// cleared atomically at flush time. The store is exclusively owned by
// its scheduler; no other component mutates it directly.
type Store struct {
	mu sync.RWMutex
	// metrics holds one entry per distinct identity.
	metrics map[string]*Metric
	// order preserves first-emission order for stable snapshots.
	order []string
}

// NewStore creates an empty aggregation store.
func NewStore() *Store {
	return &Store{
		metrics: make(map[string]*Metric),
	}
}

// Merge folds an emission into the store. The first emission for an
// identity seeds a new entry; subsequent emissions mutate it in place
// per the kind rule: count adds, gauge replaces, histogram appends.
// LastUpdated is set from the incoming emission unconditionally.
func (s *Store) Merge(e Emission) {
	key := e.Identity()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[key]
	if !ok {
		m = &Metric{
			Name: e.Name,
			Kind: e.Kind,
			Tags: e.Tags.Clone(),
		}
		s.metrics[key] = m
		s.order = append(s.order, key)
	}
	switch e.Kind {
	case Count:
		m.Value += e.Value
	case Gauge:
		// Last write wins by arrival order, not by timestamp.
		m.Value = e.Value
	case Histogram:
		m.Samples = append(m.Samples, Sample{Value: e.Value, Time: e.Timestamp})
	}
	m.LastUpdated = e.Timestamp
}

// Count returns the number of distinct metric identities currently
// stored.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

// SnapshotAndClear returns every stored metric and atomically resets
// the store. A merge issued after the clear begins lands in the next
// snapshot, never in the one being taken.
func (s *Store) SnapshotAndClear() []*Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]*Metric, 0, len(s.order))
	for _, key := range s.order {
		snapshot = append(snapshot, s.metrics[key])
	}
	s.metrics = make(map[string]*Metric)
	s.order = nil
	return snapshot
}
