// Package secrets stores service credentials (AI service API keys,
// notification tokens) encrypted at rest. Values are decrypted in-memory
// only and never written to logs or the audit trail.
package secrets

import "context"

// Well-known credential keys.
const (
	KeyAIAPIKey = "ai_api_key"
)

// Vault resolves named credentials at runtime.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// CredentialStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store; values arrive already encrypted.
type CredentialStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// ResolveString resolves a credential as a string, or "" when absent.
func ResolveString(ctx context.Context, v Vault, key string) (string, error) {
	b, err := v.Resolve(ctx, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
