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
	"encoding/base64"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

// loadAWSOptions resolves sink credentials, preferring AWS Secrets
// Manager over plain environment variables when a secret id is set.
func loadAWSOptions(ctx context.Context, lazyCfg func() (*aws.Config, error), logger *zap.SugaredLogger) (string, string) {
	var manager *secretsmanager.Client
	lazyManager := func() (*secretsmanager.Client, error) {
		if manager != nil {
			return manager, nil
		}

		cfg, err := lazyCfg()
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS default config: %w", err)
		}

		manager = secretsmanager.NewFromConfig(*cfg)
		return manager, nil
	}

	datadogAPIKey := os.Getenv("TELEMETRY_DATADOG_API_KEY")
	if secretID, ok := os.LookupEnv("TELEMETRY_SECRETS_MANAGER_DATADOG_API_KEY_ID"); ok {
		result, err := loadSecret(ctx, lazyManager, secretID)
		if err != nil {
			logger.Warnf("Could not load the Datadog API key from AWS Secrets Manager. Reporting metrics to Datadog will likely fail. Is 'TELEMETRY_SECRETS_MANAGER_DATADOG_API_KEY_ID=%s' correct? Error message: %v", secretID, err)
			datadogAPIKey = ""
		} else {
			logger.Infof("Using the Datadog API key retrieved from AWS Secrets Manager.")
			datadogAPIKey = result
		}
	}

	logDrainToken := os.Getenv("TELEMETRY_LOG_DRAIN_AUTH_TOKEN")
	if secretID, ok := os.LookupEnv("TELEMETRY_SECRETS_MANAGER_LOG_DRAIN_TOKEN_ID"); ok {
		result, err := loadSecret(ctx, lazyManager, secretID)
		if err != nil {
			logger.Warnf("Could not load the log drain token from AWS Secrets Manager. Forwarding logs will likely fail. Is 'TELEMETRY_SECRETS_MANAGER_LOG_DRAIN_TOKEN_ID=%s' correct? Error message: %v", secretID, err)
			logDrainToken = ""
		} else {
			logger.Infof("Using the log drain token retrieved from AWS Secrets Manager.")
			logDrainToken = result
		}
	}

	return datadogAPIKey, logDrainToken
}

func loadSecret(ctx context.Context, lazyManager func() (*secretsmanager.Client, error), secretID string) (string, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId:     ptrFromString(secretID),
		VersionStage: ptrFromString("AWSCURRENT"),
	}

	manager, err := lazyManager()
	if err != nil {
		return "", fmt.Errorf("failed to create manager: %w", err)
	}

	result, err := manager.GetSecretValue(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret value: %w", err)
	}

	if result.SecretString != nil {
		return *result.SecretString, nil
	}

	decodedBinarySecretBytes := make([]byte, base64.StdEncoding.DecodedLen(len(result.SecretBinary)))
	if _, err := base64.StdEncoding.Decode(decodedBinarySecretBytes, result.SecretBinary); err != nil {
		return "", fmt.Errorf("failed to decode base64 encoded secret: %w", err)
	}

	return string(decodedBinarySecretBytes), nil
}

func loadAcmCertificate(ctx context.Context, arn string, lazyCfg func() (*aws.Config, error)) (*string, error) {
	cfg, err := lazyCfg()
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS default config: %w", err)
	}
	acmClient := acm.NewFromConfig(*cfg)
	getCertificateInput := acm.GetCertificateInput{
		CertificateArn: &arn,
	}
	response, err := acmClient.GetCertificate(ctx, &getCertificateInput)
	if err != nil {
		return nil, err
	}

	return response.Certificate, nil
}

func ptrFromString(v string) *string {
	return &v
}
