package external

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"sandboxnotify/internal/types"
)

// StubEmailSender logs sends instead of delivering them. Used when
// APP_ENV=local so the pipeline runs without provider credentials.
type StubEmailSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []types.TemplateEmail
}

// NewStubEmailSender creates a StubEmailSender.
func NewStubEmailSender(logger *slog.Logger) *StubEmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, email types.TemplateEmail) (string, error) {
	s.mu.Lock()
	s.sent = append(s.sent, email)
	n := len(s.sent)
	s.mu.Unlock()

	keys := make([]string, 0, len(email.Personalisation))
	for k := range email.Personalisation {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.logger.InfoContext(ctx, "stub: email send",
		"template_id", email.TemplateID,
		"recipient", email.Recipient,
		"fields", keys,
		"reference", email.Reference,
	)
	return fmt.Sprintf("stub-%d", n), nil
}

// Sent returns a copy of everything sent so far.
func (s *StubEmailSender) Sent() []types.TemplateEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TemplateEmail(nil), s.sent...)
}

// StubTemplateSource serves fixed schemas in local mode.
type StubTemplateSource struct {
	Schemas map[string]*types.TemplateSchema
}

func (s *StubTemplateSource) GetTemplateSchema(_ context.Context, templateID string) (*types.TemplateSchema, error) {
	schema, ok := s.Schemas[templateID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeContractTemplateFetch,
			fmt.Sprintf("stub: template %q not seeded", templateID), nil)
	}
	return schema, nil
}

var (
	_ EmailSender          = (*StubEmailSender)(nil)
	_ TemplateSchemaSource = (*StubTemplateSource)(nil)
)
