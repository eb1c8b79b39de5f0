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

package traceapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/elastic/faas-telemetry-forwarder/traceapi/model"
	"go.uber.org/zap"
)

const defaultListenerAddr = "localhost:4318"

// Listener is the HTTP server the host runtime pushes trace batches
// to. Batches are processed synchronously but the push never observes
// flush outcomes.
type Listener struct {
	server    *http.Server
	addr      string
	processor *Processor
	logger    *zap.SugaredLogger

	// baseCtx outlives individual requests so detached flush work is
	// not canceled when a push request completes.
	baseCtx context.Context
}

type ListenerOption func(*Listener)

// WithListenerAddress sets the address the listener binds to.
func WithListenerAddress(addr string) ListenerOption {
	return func(l *Listener) {
		l.addr = addr
	}
}

// WithProcessor sets the batch processor.
func WithProcessor(p *Processor) ListenerOption {
	return func(l *Listener) {
		l.processor = p
	}
}

// WithLogger configures a custom zap logger to be used by the listener.
func WithLogger(logger *zap.SugaredLogger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a trace batch listener.
func NewListener(opts ...ListenerOption) (*Listener, error) {
	l := &Listener{
		addr: defaultListenerAddr,
		server: &http.Server{
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.processor == nil {
		return nil, errors.New("processor cannot be empty")
	}
	if l.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", l.handleTelemetry)
	l.server.Handler = mux
	return l, nil
}

// Start begins serving on the configured address and returns the bound
// address.
func (l *Listener) Start(ctx context.Context) (string, error) {
	l.baseCtx = ctx
	listener, err := net.Listen("tcp", l.addr)
	if err != nil {
		return "", err
	}
	addr := listener.Addr().String()

	go func() {
		l.logger.Infof("Listening for host telemetry pushes on %s", addr)
		if err := l.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Errorf("Error upon telemetry listener start: %v", err)
		}
	}()

	return addr, nil
}

// Shutdown gracefully stops the listener.
func (l *Listener) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

func (l *Listener) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		l.logger.Warnf("Failed to read trace batch body: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	items, err := model.DecodeBatch(body)
	if err != nil {
		l.logger.Warnf("Dropping undecodable trace batch: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	l.processor.ProcessBatch(l.baseCtx, items)
	w.WriteHeader(http.StatusAccepted)
}
