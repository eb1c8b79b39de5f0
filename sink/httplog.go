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
	"bytes"
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// HTTPLog ships the raw buffered trace item sequence to a log drain as
// newline-delimited JSON, unmodified.
type HTTPLog struct {
	*transport
	url    string
	token  string
	logger *zap.SugaredLogger
}

type HTTPLogOption func(*HTTPLog)

// WithHTTPLogURL sets the log drain endpoint URL.
func WithHTTPLogURL(url string) HTTPLogOption {
	return func(h *HTTPLog) {
		h.url = url
	}
}

// WithHTTPLogAuthToken sets the bearer token sent with every request.
func WithHTTPLogAuthToken(token string) HTTPLogOption {
	return func(h *HTTPLog) {
		h.token = token
	}
}

// WithHTTPLogLogger configures a custom zap logger to be used by the sink.
func WithHTTPLogLogger(logger *zap.SugaredLogger) HTTPLogOption {
	return func(h *HTTPLog) {
		h.logger = logger
	}
}

// WithHTTPLogVerifyCerts toggles server certificate verification.
func WithHTTPLogVerifyCerts(verify bool, rootCertsPem string) HTTPLogOption {
	return func(h *HTTPLog) {
		_ = h.configureTLS(verify, rootCertsPem)
	}
}

// NewHTTPLog creates an HTTP log drain sink.
func NewHTTPLog(opts ...HTTPLogOption) (*HTTPLog, error) {
	h := &HTTPLog{
		transport: newTransport(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.url == "" {
		return nil, errors.New("log drain URL cannot be empty")
	}
	if h.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}
	return h, nil
}

func (h *HTTPLog) Name() string { return "httplog" }

func (h *HTTPLog) SendLogs(ctx context.Context, items [][]byte) error {
	body := bytes.Join(items, []byte("\n"))
	header := http.Header{}
	if h.token != "" {
		header.Set("Authorization", "Bearer "+h.token)
	}
	return h.post(ctx, h.url, "application/x-ndjson", body, header)
}
