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
	"fmt"
	"time"

	"github.com/elastic/faas-telemetry-forwarder/accumulator"
)

// Run runs the forwarder until ctx is canceled, then flushes all
// buffered telemetry and waits for in-flight deliveries to settle.
func (app *App) Run(ctx context.Context) error {
	// In-process emissions published on the diagnostics bus feed the
	// same store and scheduler as extracted trace metrics.
	app.busToken = app.bus.Subscribe(func(e accumulator.Emission) {
		app.processor.OnEmission(ctx, e)
	})
	defer app.bus.Unsubscribe(app.busToken)

	addr, err := app.listener.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start the telemetry listener: %w", err)
	}
	app.logger.Infof("Telemetry forwarder ready on %s", addr)

	<-ctx.Done()

	if err := app.listener.Shutdown(); err != nil {
		app.logger.Warnf("Error while shutting down the telemetry listener: %v", err)
	}

	// Flush all data before shutting down.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if app.metricsScheduler != nil {
		app.metricsScheduler.Flush(flushCtx)
	}
	if app.logsScheduler != nil {
		app.logsScheduler.Flush(flushCtx)
	}
	app.tasks.Wait()

	app.logger.Info("Telemetry forwarder stopped")
	return nil
}
