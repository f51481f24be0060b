package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadEnv pulls secrets from AWS Secrets Manager (if configured) and then loads
// local .env files. Values already present in the environment win unless
// AWS_SECRETS_MANAGER_OVERWRITE is true.
func LoadEnv(ctx context.Context, defaultEnvPath string, log logrus.FieldLogger) {
	if err := loadAWSSecretsIntoEnv(ctx, log); err != nil {
		log.WithError(err).Warn("skipping AWS Secrets Manager load")
	}
	loadDotEnv(defaultEnvPath, log)
}

func loadDotEnv(defaultEnvPath string, log logrus.FieldLogger) {
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = defaultEnvPath
	}

	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil {
			// env is injected in K8s/Docker
			if os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
				log.Debugf(".env file not found at %s, using system environment variables", envFile)
			}
		}
	}
}

func loadAWSSecretsIntoEnv(ctx context.Context, log logrus.FieldLogger) error {
	secretID := os.Getenv("AWS_SECRETS_MANAGER_SECRET_ID")
	if secretID == "" {
		secretID = os.Getenv("AWS_SECRET_ID")
	}
	if secretID == "" {
		log.Debug("AWS Secrets Manager: no secret ID provided, skipping fetch")
		return nil
	}

	region := os.Getenv("AWS_SECRETS_MANAGER_REGION")
	versionStage := os.Getenv("AWS_SECRETS_MANAGER_VERSION_STAGE")
	if versionStage == "" {
		versionStage = "AWSCURRENT"
	}
	overwrite := strings.EqualFold(os.Getenv("AWS_SECRETS_MANAGER_OVERWRITE"), "true")

	cfg, err := loadAWSConfig(ctx, region)
	if err != nil {
		return err
	}

	client := secretsmanager.NewFromConfig(cfg)
	output, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(versionStage),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	var payload string
	switch {
	case output.SecretString != nil:
		payload = *output.SecretString
	case len(output.SecretBinary) > 0:
		payload = string(output.SecretBinary)
	default:
		return fmt.Errorf("secret %s has no payload", secretID)
	}

	applied, err := applySecretPayload(payload, overwrite)
	if err != nil {
		return fmt.Errorf("secret %s: %w", secretID, err)
	}
	log.WithFields(logrus.Fields{
		"secret":    secretID,
		"applied":   applied,
		"overwrite": overwrite,
	}).Info("loaded env vars from AWS Secrets Manager")
	return nil
}

// applySecretPayload sets every key of a flat JSON object as an environment variable.
func applySecretPayload(payload string, overwrite bool) (int, error) {
	var kv map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &kv); err != nil {
		return 0, fmt.Errorf("parsing secret as JSON: %w", err)
	}

	applied := 0
	for key, val := range kv {
		if !overwrite && os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return applied, fmt.Errorf("setting env %s from secret: %w", key, err)
		}
		applied++
	}
	return applied, nil
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	if region != "" {
		return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx)
}
