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

// Package sink implements the delivery targets a flush fans out to.
// Each sink converts the normalized export form into one vendor's wire
// format and ships it over HTTP. Delivery is strictly best-effort: a
// failed send is reported to the dispatcher as an error and the data is
// gone.
package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/elastic/faas-telemetry-forwarder/version"
)

// MetricSink delivers a flushed metric snapshot to one backend.
// Implementations are not assumed safe for concurrent sends with
// themselves; the dispatcher invokes each sink at most once per flush.
type MetricSink interface {
	Name() string
	SendMetrics(ctx context.Context, metrics []accumulator.ExportedMetric) error
}

// LogSink delivers the raw buffered trace item sequence to one backend.
type LogSink interface {
	Name() string
	SendLogs(ctx context.Context, items [][]byte) error
}

// transport is the HTTP plumbing shared by all sinks: pooled gzip
// buffers and a reusable client.
type transport struct {
	client     *http.Client
	bufferPool sync.Pool
}

func newTransport() *transport {
	return &transport{
		client: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		bufferPool: sync.Pool{New: func() any {
			return &bytes.Buffer{}
		}},
	}
}

// configureTLS applies root CA and verification overrides to the
// underlying HTTP transport.
func (t *transport) configureTLS(verifyCerts bool, rootCertsPem string) error {
	ht, ok := t.client.Transport.(*http.Transport)
	if !ok {
		return errors.New("transport does not support TLS configuration")
	}
	if ht.TLSClientConfig == nil {
		ht.TLSClientConfig = &tls.Config{} //nolint:gosec
	}
	ht.TLSClientConfig.InsecureSkipVerify = !verifyCerts //nolint:gosec
	if rootCertsPem != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(rootCertsPem)) {
			return errors.New("failed to parse root CA certificates")
		}
		ht.TLSClientConfig.RootCAs = pool
	}
	return nil
}

// post gzips body and sends it to url. Any response outside the 2xx
// range is an error; the response body is drained so the connection can
// be reused.
func (t *transport) post(ctx context.Context, url, contentType string, body []byte, header http.Header) error {
	buf := t.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		t.bufferPool.Put(buf)
	}()

	gw, err := gzip.NewWriterLevel(buf, gzip.BestSpeed)
	if err != nil {
		return err
	}
	if _, err := gw.Write(body); err != nil {
		return fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to write compressed payload to buffer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return fmt.Errorf("failed to create sink request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("User-Agent", version.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to sink: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("unexpected response status %s: %s", resp.Status, bytes.TrimSpace(b))
}
