// ABOUTME: AWS Secrets Manager secret provider
// ABOUTME: Reads a JSON secret string and extracts the API key field with gjson

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tidwall/gjson"

	"github.com/2389/chatroom-gateway/internal/lazy"
)

// DefaultKey is the JSON field holding the API key inside the secret string
const DefaultKey = "OPENAI_API_KEY"

// SecretsManagerAPI is the subset of the Secrets Manager client used here
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManager resolves secrets stored in AWS Secrets Manager.
type SecretsManager struct {
	client *lazy.Value[SecretsManagerAPI]
	key    string
}

// NewSecretsManager creates a provider whose client is built on first use.
// key names the JSON field to read; empty means DefaultKey.
func NewSecretsManager(key string, newClient lazy.InitFunc[SecretsManagerAPI]) *SecretsManager {
	if key == "" {
		key = DefaultKey
	}
	return &SecretsManager{client: lazy.New(newClient), key: key}
}

// Resolve implements Provider.
func (s *SecretsManager) Resolve(ctx context.Context, name string) (*Credential, error) {
	client, err := s.client.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating secrets manager client: %w", err)
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("getting secret %q: %w", name, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value", name)
	}

	apiKey, err := extractKey(*out.SecretString, s.key)
	if err != nil {
		return nil, fmt.Errorf("secret %q: %w", name, err)
	}
	return &Credential{APIKey: apiKey}, nil
}

// extractKey reads key from a JSON secret, or uses a plain-text secret as is.
func extractKey(secret, key string) (string, error) {
	trimmed := strings.TrimSpace(secret)
	if !strings.HasPrefix(trimmed, "{") {
		if trimmed == "" {
			return "", ErrEmptySecret
		}
		return trimmed, nil
	}
	if !gjson.Valid(trimmed) {
		return "", errors.New("secret string is not valid JSON")
	}

	field := gjson.Get(trimmed, gjson.Escape(key))
	if !field.Exists() {
		return "", fmt.Errorf("field %s not found in secret", key)
	}
	if strings.TrimSpace(field.String()) == "" {
		return "", ErrEmptySecret
	}
	return field.String(), nil
}
