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

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
	"github.com/elastic/faas-telemetry-forwarder/diagnostics"
	"github.com/elastic/faas-telemetry-forwarder/extractor"
	"github.com/elastic/faas-telemetry-forwarder/flusher"
	"github.com/elastic/faas-telemetry-forwarder/logger"
	"github.com/elastic/faas-telemetry-forwarder/sink"
	"github.com/elastic/faas-telemetry-forwarder/traceapi"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.elastic.co/ecszap"
	"go.uber.org/zap"
)

const (
	defaultMetricsMaxBufferSize = 100
	defaultLogsMaxBufferSize    = 50
	defaultMaxBufferDuration    = 5 * time.Second
)

// App is the main application.
type App struct {
	logger           *zap.SugaredLogger
	listener         *traceapi.Listener
	processor        *traceapi.Processor
	metricsScheduler *flusher.Scheduler
	logsScheduler    *flusher.Scheduler
	tasks            *flusher.TaskGroup
	bus              *diagnostics.Bus
	busToken         string
}

// New returns an App or an error if the creation failed.
func New(ctx context.Context, opts ...ConfigOption) (*App, error) {
	c := appConfig{}

	for _, opt := range opts {
		opt(&c)
	}

	if c.awsConfig == nil {
		c.awsConfig = func() (*aws.Config, error) {
			return nil, errors.New("AWS config is not available")
		}
	}

	app := &App{
		tasks: &flusher.TaskGroup{},
		bus:   diagnostics.Default(),
	}

	var err error
	if app.logger, err = buildLogger(c.logLevel); err != nil {
		return nil, err
	}

	verifyCerts, rootCerts, err := loadSinkTLSOptions(ctx, c.awsConfig, app.logger)
	if err != nil {
		return nil, err
	}
	datadogAPIKey, logDrainToken := loadAWSOptions(ctx, c.awsConfig, app.logger)

	store := accumulator.NewStore()
	traces := accumulator.NewTraceBuffer()

	if !c.disableMetricsStream {
		metricSinks, err := buildMetricSinks(datadogAPIKey, verifyCerts, rootCerts, app.logger)
		if err != nil {
			return nil, err
		}
		maxSize, maxAge, err := streamLimits("TELEMETRY_METRICS", defaultMetricsMaxBufferSize, app.logger)
		if err != nil {
			return nil, err
		}
		stream := flusher.NewMetricsStream(store, flusher.NewMetricsDispatcher(metricSinks, app.logger))
		app.metricsScheduler = flusher.NewScheduler(stream, maxSize, maxAge, app.tasks, app.logger)
	}

	if !c.disableLogsStream {
		logSinks, err := buildLogSinks(logDrainToken, verifyCerts, rootCerts, app.logger)
		if err != nil {
			return nil, err
		}
		maxSize, maxAge, err := streamLimits("TELEMETRY_LOGS", defaultLogsMaxBufferSize, app.logger)
		if err != nil {
			return nil, err
		}
		stream := flusher.NewLogsStream(traces, flusher.NewLogsDispatcher(logSinks, app.logger))
		app.logsScheduler = flusher.NewScheduler(stream, maxSize, maxAge, app.tasks, app.logger)
	}

	ext := extractor.New(c.metricsChannel, app.logger)
	app.processor = traceapi.NewProcessor(store, traces, ext, app.metricsScheduler, app.logsScheduler, app.logger)

	addr := os.Getenv("TELEMETRY_LISTENER_ADDR")
	if c.listenerAddr != "" {
		addr = c.listenerAddr
	}
	listenerOpts := []traceapi.ListenerOption{
		traceapi.WithProcessor(app.processor),
		traceapi.WithLogger(app.logger),
	}
	if addr != "" {
		listenerOpts = append(listenerOpts, traceapi.WithListenerAddress(addr))
	}
	if app.listener, err = traceapi.NewListener(listenerOpts...); err != nil {
		return nil, err
	}

	return app, nil
}

func buildMetricSinks(datadogAPIKey string, verifyCerts bool, rootCerts string, l *zap.SugaredLogger) ([]sink.MetricSink, error) {
	var sinks []sink.MetricSink

	if datadogAPIKey != "" {
		ddOpts := []sink.DatadogOption{
			sink.WithDatadogAPIKey(datadogAPIKey),
			sink.WithDatadogLogger(l),
			sink.WithDatadogVerifyCerts(verifyCerts, rootCerts),
		}
		if site := os.Getenv("TELEMETRY_DATADOG_SITE"); site != "" {
			ddOpts = append(ddOpts, sink.WithDatadogSite(site))
		}
		dd, err := sink.NewDatadog(ddOpts...)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, dd)
	}

	if url := os.Getenv("TELEMETRY_OTLP_METRICS_URL"); url != "" {
		otlpOpts := []sink.OTLPOption{
			sink.WithOTLPURL(url),
			sink.WithOTLPLogger(l),
			sink.WithOTLPVerifyCerts(verifyCerts, rootCerts),
		}
		if rawHeaders := os.Getenv("TELEMETRY_OTLP_HEADERS"); rawHeaders != "" {
			otlpOpts = append(otlpOpts, sink.WithOTLPHeaders(parseHeaders(rawHeaders)))
		}
		otlp, err := sink.NewOTLP(otlpOpts...)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, otlp)
	}

	if len(sinks) == 0 {
		l.Warnf("No metric sinks configured, aggregated metrics will be discarded at flush")
	}
	return sinks, nil
}

func buildLogSinks(logDrainToken string, verifyCerts bool, rootCerts string, l *zap.SugaredLogger) ([]sink.LogSink, error) {
	var sinks []sink.LogSink

	if url := os.Getenv("TELEMETRY_LOG_DRAIN_URL"); url != "" {
		drain, err := sink.NewHTTPLog(
			sink.WithHTTPLogURL(url),
			sink.WithHTTPLogAuthToken(logDrainToken),
			sink.WithHTTPLogLogger(l),
			sink.WithHTTPLogVerifyCerts(verifyCerts, rootCerts),
		)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, drain)
	}

	if len(sinks) == 0 {
		l.Warnf("No log sinks configured, buffered trace items will be discarded at flush")
	}
	return sinks, nil
}

// streamLimits reads the per-stream buffer configuration from the
// environment.
func streamLimits(prefix string, defaultMaxSize int, l *zap.SugaredLogger) (int, time.Duration, error) {
	maxSize := defaultMaxSize
	if raw := os.Getenv(prefix + "_MAX_BUFFER_SIZE"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to parse %s_MAX_BUFFER_SIZE: %w", prefix, err)
		}
		maxSize = size
	}

	maxAge := defaultMaxBufferDuration
	if d, ok, err := parseDurationTimeout(l, prefix+"_MAX_BUFFER_DURATION", prefix+"_MAX_BUFFER_DURATION_SECONDS"); err != nil || ok {
		if err != nil {
			return 0, 0, err
		}
		maxAge = d
	}
	return maxSize, maxAge, nil
}

// loadSinkTLSOptions resolves the sink TLS settings: certificate
// verification toggle and an optional root CA from the environment, a
// file, or AWS Certificate Manager.
func loadSinkTLSOptions(ctx context.Context, lazyCfg func() (*aws.Config, error), l *zap.SugaredLogger) (bool, string, error) {
	verifyCerts := true
	if raw := os.Getenv("TELEMETRY_SINK_VERIFY_SERVER_CERT"); raw != "" {
		verify, err := strconv.ParseBool(raw)
		if err != nil {
			return false, "", fmt.Errorf("failed to parse TELEMETRY_SINK_VERIFY_SERVER_CERT: %w", err)
		}
		if !verify {
			l.Infof("Ignoring sink server certificates.")
		}
		verifyCerts = verify
	}

	if encodedCertPem := os.Getenv("TELEMETRY_SINK_CA_CERT_PEM"); encodedCertPem != "" {
		l.Infof("Using CA certificates from environment variable.")
		return verifyCerts, strings.ReplaceAll(encodedCertPem, "\\n", "\n"), nil
	}

	if certFile := os.Getenv("TELEMETRY_SINK_CA_CERT_FILE"); certFile != "" {
		cert, err := os.ReadFile(certFile)
		if err != nil {
			return false, "", err
		}
		l.Infof("Using CA certificate loaded from file %s", certFile)
		return verifyCerts, string(cert), nil
	}

	if acmCertArn := os.Getenv("TELEMETRY_SINK_CA_CERT_ACM_ID"); acmCertArn != "" {
		cert, err := loadAcmCertificate(ctx, acmCertArn, lazyCfg)
		if err != nil {
			return false, "", err
		}
		l.Infof("Using CA certificate %s", acmCertArn)
		return verifyCerts, *cert, nil
	}

	return verifyCerts, "", nil
}

func parseDurationTimeout(l *zap.SugaredLogger, flag string, deprecatedFlag string) (time.Duration, bool, error) {
	if strValue, ok := os.LookupEnv(flag); ok {
		d, err := time.ParseDuration(strValue)
		if err != nil {
			return 0, false, fmt.Errorf("failed to parse %s: %w", flag, err)
		}

		return d, true, nil
	}

	if strValueSeconds, ok := os.LookupEnv(deprecatedFlag); ok {
		l.Warnf("%s is deprecated, please consider moving to %s", deprecatedFlag, flag)

		seconds, err := strconv.Atoi(strValueSeconds)
		if err != nil {
			return 0, false, fmt.Errorf("failed to parse %s: %w", deprecatedFlag, err)
		}

		return time.Duration(seconds) * time.Second, true, nil
	}

	return 0, false, nil
}

// parseHeaders parses "key1=value1,key2=value2" header lists.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers
}

func buildLogger(level string) (*zap.SugaredLogger, error) {
	if level == "" {
		level = "info"
	}

	l, err := logger.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}

	return logger.New(
		logger.WithEncoderConfig(ecszap.NewDefaultEncoderConfig().ToZapCoreEncoderConfig()),
		logger.WithLevel(l),
	)
}
