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
	"math"
	"time"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
)

// bucketSet is one side of an exponential histogram: counts for the
// contiguous bucket-index span starting at Offset.
type bucketSet struct {
	Offset int32
	Counts []uint64
}

// expoHistogram is a base-2 scale-0 exponential histogram summarizing
// one metric's accumulated sample sequence.
type expoHistogram struct {
	Count     uint64
	Sum       float64
	ZeroCount uint64
	Scale     int32
	Positive  bucketSet
	Negative  bucketSet
	// Start and End are the first and last sample's times in arrival
	// order, not sorted order.
	Start time.Time
	End   time.Time
}

// bucketize partitions samples into positive, zero and negative groups
// and buckets each signed group by floor(log2(|value|)). An empty
// sample sequence yields empty bucket sets with offset 0. Non-finite
// sample values are excluded entirely: log2 of an infinity has no
// bucket index, and one such value must not poison the whole flush.
func bucketize(samples []accumulator.Sample) expoHistogram {
	var h expoHistogram
	if len(samples) == 0 {
		return h
	}
	h.Start = samples[0].Time
	h.End = samples[len(samples)-1].Time

	var positive, negative []float64
	for _, s := range samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		h.Count++
		h.Sum += s.Value
		switch {
		case s.Value > 0:
			positive = append(positive, s.Value)
		case s.Value < 0:
			negative = append(negative, -s.Value)
		default:
			h.ZeroCount++
		}
	}
	h.Positive = bucketCounts(positive)
	h.Negative = bucketCounts(negative)
	return h
}

// bucketCounts counts strictly-positive values per base-2 bucket index
// and zero-fills unobserved indices within the observed span.
func bucketCounts(values []float64) bucketSet {
	if len(values) == 0 {
		return bucketSet{}
	}
	indices := make([]int, len(values))
	minIdx, maxIdx := math.MaxInt, math.MinInt
	for i, v := range values {
		idx := int(math.Floor(math.Log2(v)))
		indices[i] = idx
		if idx < minIdx {
			minIdx = idx
		}
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	counts := make([]uint64, maxIdx-minIdx+1)
	for _, idx := range indices {
		counts[idx-minIdx]++
	}
	return bucketSet{Offset: int32(minIdx), Counts: counts}
}
