// Package secrets fills credentials into the loaded config from the
// environment or from a JSON secret in AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/config"
)

// Secret keys, as they appear in the Secrets Manager JSON document.
const (
	KeyAnthropic    = "anthropic_key"
	KeyToolsAPIKey  = "tools_api_key"
	KeyDatabaseURL  = "database_url"
	KeyJWTSecret    = "jwt_secret"
	KeyInfluxToken  = "influx_token"
	KeyMQTTPassword = "mqtt_password"
	KeyOpsWebhook   = "ops_webhook_url"
)

// Source yields secret values by key.
type Source interface {
	Lookup(ctx context.Context) (map[string]string, error)
}

// envNames maps secret keys to the conventional unprefixed variables that
// deployment platforms tend to inject.
var envNames = map[string]string{
	KeyAnthropic:    "ANTHROPIC_API_KEY",
	KeyToolsAPIKey:  "TOOLS_API_KEY",
	KeyDatabaseURL:  "DATABASE_URL",
	KeyJWTSecret:    "JWT_SECRET",
	KeyInfluxToken:  "INFLUX_TOKEN",
	KeyMQTTPassword: "MQTT_PASSWORD",
	KeyOpsWebhook:   "OPS_WEBHOOK_URL",
}

// EnvSource reads secrets from process environment variables.
type EnvSource struct {
	getenv func(string) string
}

// NewEnvSource creates an EnvSource backed by os.Getenv.
func NewEnvSource() *EnvSource {
	return &EnvSource{getenv: os.Getenv}
}

// Lookup returns every non-empty well-known variable.
func (s *EnvSource) Lookup(context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for key, name := range envNames {
		if v := s.getenv(name); v != "" {
			out[key] = v
		}
	}
	return out, nil
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSource reads one JSON object secret from Secrets Manager.
type AWSSource struct {
	client   secretsManagerAPI
	secretID string
}

// NewAWSSource creates an AWSSource for secretID.
func NewAWSSource(client secretsManagerAPI, secretID string) *AWSSource {
	return &AWSSource{client: client, secretID: secretID}
}

// Lookup fetches and decodes the secret.
func (s *AWSSource) Lookup(ctx context.Context) (map[string]string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "secrets: get secret %s", s.secretID)
	}
	if out.SecretString == nil {
		return nil, eris.Errorf("secrets: secret %s has no string value", s.secretID)
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return nil, eris.Wrapf(err, "secrets: decode secret %s", s.secretID)
	}
	return values, nil
}

// NewSource builds the Source selected by cfg.Provider.
func NewSource(ctx context.Context, cfg config.SecretsConfig) (Source, error) {
	switch cfg.Provider {
	case "", "env":
		return NewEnvSource(), nil
	case "aws":
		if cfg.SecretID == "" {
			return nil, eris.New("secrets: secrets.secret_id is required for the aws provider")
		}
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, eris.Wrap(err, "secrets: load aws config")
		}
		return NewAWSSource(secretsmanager.NewFromConfig(awsCfg), cfg.SecretID), nil
	default:
		return nil, eris.Errorf("secrets: provider %q is not supported", cfg.Provider)
	}
}

// Apply copies values into cfg fields that are still empty and returns the
// keys it used. Values set explicitly in config or FARMMON_* env vars win.
func Apply(cfg *config.Config, values map[string]string) []string {
	targets := map[string]*string{
		KeyAnthropic:    &cfg.Anthropic.Key,
		KeyToolsAPIKey:  &cfg.Tools.APIKey,
		KeyDatabaseURL:  &cfg.Store.DatabaseURL,
		KeyJWTSecret:    &cfg.Server.JWTSecret,
		KeyInfluxToken:  &cfg.Metrics.Influx.Token,
		KeyMQTTPassword: &cfg.Notify.MQTT.Password,
		KeyOpsWebhook:   &cfg.Ops.WebhookURL,
	}

	var applied []string
	for key, v := range values {
		dst, ok := targets[key]
		if !ok || v == "" || *dst != "" {
			continue
		}
		*dst = v
		applied = append(applied, key)
	}
	sort.Strings(applied)
	return applied
}

// Resolve looks up secrets from the configured provider and applies them.
func Resolve(ctx context.Context, cfg *config.Config) error {
	src, err := NewSource(ctx, cfg.Secrets)
	if err != nil {
		return err
	}
	values, err := src.Lookup(ctx)
	if err != nil {
		return err
	}
	applied := Apply(cfg, values)
	zap.L().Debug("secrets: resolved",
		zap.String("provider", cfg.Secrets.Provider),
		zap.Strings("keys", applied),
	)
	return nil
}
