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

package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TraceItem is one raw record describing a single invocation of the
// monitored function, as pushed by the host runtime. It carries the
// invocation's logs, exceptions and diagnostics-channel events.
type TraceItem struct {
	ScriptName     string             `json:"scriptName"`
	Entrypoint     string             `json:"entrypoint"`
	ExecutionModel string             `json:"executionModel"`
	Outcome        string             `json:"outcome"`
	ScriptVersion  ScriptVersion      `json:"scriptVersion"`
	EventTimestamp int64              `json:"eventTimestamp"`
	CPUTimeMs      float64            `json:"cpuTime"`
	WallTimeMs     float64            `json:"wallTime"`
	Diagnostics    []DiagnosticsEvent `json:"diagnosticsChannelEvents"`
	Logs           []json.RawMessage  `json:"logs"`
	Exceptions     []json.RawMessage  `json:"exceptions"`

	// Raw is the item exactly as received; log sinks ship it unmodified.
	Raw []byte `json:"-"`
}

// ScriptVersion identifies the deployed version of the script.
type ScriptVersion struct {
	ID string `json:"id"`
}

// DiagnosticsEvent is one message published on an in-process
// diagnostics channel during the invocation.
type DiagnosticsEvent struct {
	Channel   string          `json:"channel"`
	Timestamp int64           `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

// EventTime returns the trace item's event timestamp.
func (ti TraceItem) EventTime() time.Time {
	return time.UnixMilli(ti.EventTimestamp)
}

// Time returns the event's own timestamp, or the zero time when the
// host runtime did not attach one.
func (ev DiagnosticsEvent) Time() time.Time {
	if ev.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ev.Timestamp)
}

// DecodeBatch parses a JSON array of trace items, retaining the raw
// encoding of each item for unmodified log delivery.
func DecodeBatch(data []byte) ([]TraceItem, error) {
	var rawItems []json.RawMessage
	if err := json.Unmarshal(data, &rawItems); err != nil {
		return nil, fmt.Errorf("failed to decode trace batch: %w", err)
	}
	items := make([]TraceItem, 0, len(rawItems))
	for i, raw := range rawItems {
		var item TraceItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to decode trace item %d: %w", i, err)
		}
		item.Raw = raw
		items = append(items, item)
	}
	return items, nil
}
