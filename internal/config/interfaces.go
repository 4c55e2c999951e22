package config

import "context"

// SecretProvider resolves secret references (SSM parameter paths) to
// plaintext values. Keys it cannot resolve are omitted from the result.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
