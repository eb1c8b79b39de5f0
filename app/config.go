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

import "github.com/aws/aws-sdk-go-v2/aws"

type appConfig struct {
	awsConfig            func() (*aws.Config, error)
	logLevel             string
	listenerAddr         string
	metricsChannel       string
	disableMetricsStream bool
	disableLogsStream    bool
}

// ConfigOption is used to configure the forwarder.
type ConfigOption func(*appConfig)

// WithLogLevel sets the log level.
func WithLogLevel(level string) ConfigOption {
	return func(c *appConfig) {
		c.logLevel = level
	}
}

// WithListenerAddress sets the address of the server listening for
// trace batches pushed by the host runtime.
func WithListenerAddress(addr string) ConfigOption {
	return func(c *appConfig) {
		c.listenerAddr = addr
	}
}

// WithMetricsChannel sets the diagnostics channel name carrying user
// metric emissions.
func WithMetricsChannel(channel string) ConfigOption {
	return func(c *appConfig) {
		c.metricsChannel = channel
	}
}

// WithoutMetricsStream disables metric extraction and export.
func WithoutMetricsStream() ConfigOption {
	return func(c *appConfig) {
		c.disableMetricsStream = true
	}
}

// WithoutLogsStream disables raw trace forwarding.
func WithoutLogsStream() ConfigOption {
	return func(c *appConfig) {
		c.disableLogsStream = true
	}
}

// WithAWSConfig sets the lazily-loaded AWS config used for secret and
// certificate lookups.
func WithAWSConfig(lazyCfg func() (*aws.Config, error)) ConfigOption {
	return func(c *appConfig) {
		c.awsConfig = lazyCfg
	}
}
