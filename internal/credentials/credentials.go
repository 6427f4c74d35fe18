// Package credentials resolves the Places API key, either directly from the
// environment or from AWS Secrets Manager.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// ErrMissingCredential is returned when no API key could be resolved.
var ErrMissingCredential = errors.New("places API key is not configured: set PLACES_API_KEY or PLACES_API_KEY_SECRET_ID")

// secretKeyFields are the JSON fields accepted when the secret holds a JSON object.
var secretKeyFields = []string{"api_key", "PLACES_API_KEY", "key"}

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Source describes where the key should come from.
type Source struct {
	APIKey   string
	SecretID string
	Region   string
}

// Resolver loads the API key for a Source.
type Resolver struct {
	secrets SecretsAPI
}

// ResolverOption configures Resolver.
type ResolverOption func(*Resolver)

// WithSecretsClient injects the Secrets Manager client. Without one, a client is built
// from the default AWS configuration the first time a secret is needed.
func WithSecretsClient(c SecretsAPI) ResolverOption {
	return func(r *Resolver) {
		r.secrets = c
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the API key. A key set directly wins over a secret ID.
func (r *Resolver) Resolve(ctx context.Context, src Source) (string, error) {
	if key := strings.TrimSpace(src.APIKey); key != "" {
		return key, nil
	}
	if strings.TrimSpace(src.SecretID) == "" {
		return "", ErrMissingCredential
	}

	client := r.secrets
	if client == nil {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(src.Region))
		if err != nil {
			return "", fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		client = secretsmanager.NewFromConfig(awsCfg)
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(src.SecretID),
	})
	if err != nil {
		return "", describeAWSError(src.SecretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%w: secret %s has no string value", ErrMissingCredential, src.SecretID)
	}

	key, err := parseSecret(*out.SecretString)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", src.SecretID, err)
	}
	return key, nil
}

// parseSecret accepts either the bare key or a JSON object holding it.
func parseSecret(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrMissingCredential
	}
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return "", fmt.Errorf("failed to parse secret JSON: %w", err)
	}
	for _, name := range secretKeyFields {
		if v, ok := fields[name].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", fmt.Errorf("%w: secret JSON has none of the fields %s", ErrMissingCredential, strings.Join(secretKeyFields, ", "))
}

func describeAWSError(secretID string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			return fmt.Errorf("%w: secret %s does not exist", ErrMissingCredential, secretID)
		case "AccessDeniedException":
			return fmt.Errorf("access denied reading secret %s: %w", secretID, err)
		}
	}
	return fmt.Errorf("failed to read secret %s: %w", secretID, err)
}
