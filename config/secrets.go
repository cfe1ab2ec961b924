package config

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrSecretNotFound is returned when a secret has no value.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from process environment variables.
type EnvironmentSecretStore struct {
	lookup func(string) (string, bool)
}

func NewEnvironmentSecretStore() *EnvironmentSecretStore {
	return &EnvironmentSecretStore{lookup: os.LookupEnv}
}

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}
	return v, nil
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadSecretsFromEnv fills credentials from store. Production requires the
// database DSN when the SQL adapter is selected.
func (c *Config) LoadSecretsFromEnv(ctx context.Context, store SecretStore) error {
	c.Storage.Redis.Password = store.GetWithDefault(ctx, "PROGRESSKIT_REDIS_PASSWORD", c.Storage.Redis.Password)

	dsn, err := store.Get(ctx, "PROGRESSKIT_SQL_DSN")
	switch {
	case err == nil:
		c.Storage.SQL.DSN = dsn
	case c.Environment == EnvProduction && c.Storage.Adapter == AdapterSQL:
		return fmt.Errorf("production sql storage: %w", err)
	}
	return nil
}
