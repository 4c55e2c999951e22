package external

import (
	"context"
	"time"

	"sandboxnotify/internal/types"
)

// SandboxAPI is the read side of the sandbox platform's REST API. Enrichment
// goes through this interface only; the platform's storage is never read
// directly.
type SandboxAPI interface {
	GetLease(ctx context.Context, key LeaseKey) (*Lease, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}

// EmailSender delivers one templated email and returns the provider's
// notification id.
type EmailSender interface {
	Send(ctx context.Context, email types.TemplateEmail) (string, error)
}

// TemplateSchemaSource returns the live field list of a provider template.
type TemplateSchemaSource interface {
	GetTemplateSchema(ctx context.Context, templateID string) (*types.TemplateSchema, error)
}

// SecretStore reads secrets together with their last rotation time.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (*Secret, error)
}

// Secret is a stored credential and its metadata.
type Secret struct {
	Name         string
	Value        types.SecretString
	LastModified time.Time
}
