// Package secrets loads billing credentials from AWS Secrets Manager, with a
// TTL cache so key rotation is picked up without hammering the API.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// BillingCredentials is the JSON shape stored under the billing secret.
type BillingCredentials struct {
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint,omitempty"`
}

type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetSecretJSON(ctx context.Context, name string, v any) error
}

// LoadBillingCredentials fetches and decodes the billing secret.
func LoadBillingCredentials(ctx context.Context, store SecretStore, name string) (*BillingCredentials, error) {
	var creds BillingCredentials
	if err := store.GetSecretJSON(ctx, name, &creds); err != nil {
		return nil, fmt.Errorf("load billing credentials: %w", err)
	}
	if creds.APIKey == "" {
		return nil, fmt.Errorf("billing secret %s has no api_key", name)
	}
	return &creds, nil
}

// AWSSecretsManager caches secret values with a TTL.
type AWSSecretsManager struct {
	client *secretsmanager.Client
	cache  map[string]*cachedSecret
	mu     sync.RWMutex
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSSecretsManager(ctx context.Context, region string) (*AWSSecretsManager, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &AWSSecretsManager{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*cachedSecret),
		ttl:    5 * time.Minute,
	}, nil
}

func NewAWSSecretsManagerWithConfig(cfg aws.Config) *AWSSecretsManager {
	return &AWSSecretsManager{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*cachedSecret),
		ttl:    5 * time.Minute,
	}
}

func (s *AWSSecretsManager) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if cached, ok := s.cache[name]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.value, nil
	}
	s.mu.RUnlock()

	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	}

	result, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := ""
	if result.SecretString != nil {
		value = *result.SecretString
	}

	s.mu.Lock()
	s.cache[name] = &cachedSecret{
		value:     value,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return value, nil
}

func (s *AWSSecretsManager) GetSecretJSON(ctx context.Context, name string, v any) error {
	secret, err := s.GetSecret(ctx, name)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(secret), v)
}

func (s *AWSSecretsManager) SetCacheTTL(ttl time.Duration) {
	s.ttl = ttl
}

// InMemorySecretStore holds secrets in a map. Used in tests.
type InMemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewInMemorySecretStore() *InMemorySecretStore {
	return &InMemorySecretStore{
		secrets: make(map[string]string),
	}
}

func (s *InMemorySecretStore) SetSecret(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

func (s *InMemorySecretStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return value, nil
}

func (s *InMemorySecretStore) GetSecretJSON(ctx context.Context, name string, v any) error {
	secret, err := s.GetSecret(ctx, name)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(secret), v)
}
