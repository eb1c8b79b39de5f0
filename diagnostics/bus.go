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

// Package diagnostics is the in-process publish/subscribe channel for
// metric emissions. Any caller may publish without coupling to the
// aggregation core.
package diagnostics

import (
	"sync"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/google/uuid"
)

// Handler receives every emission published while its subscription is
// active. Delivery is synchronous at publish time.
type Handler func(accumulator.Emission)

// Bus is a broadcast registry of emission subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]Handler),
	}
}

// Subscribe registers a handler and returns its subscription token.
func (b *Bus) Subscribe(h Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := uuid.NewString()
	b.handlers[token] = h
	b.order = append(b.order, token)
	return token
}

// Unsubscribe removes the subscription with the given token. Unknown
// tokens are a no-op.
func (b *Bus) Unsubscribe(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[token]; !ok {
		return
	}
	delete(b.handlers, token)
	for i, t := range b.order {
		if t == token {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers the emission synchronously to every current
// subscriber in subscription order.
func (b *Bus) Publish(e accumulator.Emission) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, token := range b.order {
		handlers = append(handlers, b.handlers[token])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

var defaultBus = NewBus()

// Default returns the process-wide bus.
func Default() *Bus {
	return defaultBus
}
