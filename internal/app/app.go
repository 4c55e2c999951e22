// Package app wires configuration into the concrete clients shared by the
// Lambda entry points.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/external"
	"sandboxnotify/internal/notifications/chat"
	"sandboxnotify/internal/notifications/email"
	"sandboxnotify/internal/types"
)

// slogAdapter wraps *slog.Logger so With returns types.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

// NewLogger returns a JSON logger at the named level and its types.Logger
// view.
func NewLogger(w io.Writer, level string) (*slog.Logger, types.Logger) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	return l, &slogAdapter{logger: l}
}

// AdaptLogger exposes an existing *slog.Logger as types.Logger.
func AdaptLogger(l *slog.Logger) types.Logger {
	return &slogAdapter{logger: l}
}

// LoadAWS loads the default AWS config with the region and LocalStack
// endpoint from cfg.
func LoadAWS(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}
	return awsCfg, nil
}

// UserAgent identifies outbound HTTP calls.
func UserAgent(cfg *config.Config) string {
	return cfg.Build.UserAgent(cfg.Service)
}

const providerTimeout = 10 * time.Second

// EmailProvider is the selected provider's send and schema sides.
type EmailProvider struct {
	Name    string
	Sender  external.EmailSender
	Schemas email.SchemaSource
}

// NewEmailProvider builds the configured provider. Sends go through a client
// without transport retries; the supervisor owns redelivery. Schema reads
// happen once at cold start and get a short retry budget.
func NewEmailProvider(awsCfg aws.Config, cfg *config.Config, contracts *email.Contracts, logger *slog.Logger) (*EmailProvider, error) {
	switch cfg.Email.Provider {
	case config.EmailProviderNotify:
		notifyCfg := external.NotifyClientConfig{
			APIKey:  cfg.Email.NotifyAPIKey,
			BaseURL: cfg.Email.NotifyBaseURL,
		}
		httpClient := &http.Client{Timeout: providerTimeout}
		sender, err := external.NewNotifyClient(
			external.NewBaseClient(httpClient, "notify-send", external.NoRetry(), UserAgent(cfg)), notifyCfg)
		if err != nil {
			return nil, fmt.Errorf("notify client: %w", err)
		}
		schemas, err := external.NewNotifyClient(
			external.NewBaseClient(httpClient, "notify-schema", external.StartupRetryPolicy(), UserAgent(cfg)), notifyCfg)
		if err != nil {
			return nil, fmt.Errorf("notify client: %w", err)
		}
		return &EmailProvider{Name: config.EmailProviderNotify, Sender: sender, Schemas: schemas}, nil

	case config.EmailProviderSES:
		client := external.NewSESTemplateClient(awsCfg, external.SESClientConfig{
			FromAddress:   cfg.Email.SESFromAddress,
			ConfigSetName: cfg.Email.SESConfigSet,
		})
		return &EmailProvider{Name: config.EmailProviderSES, Sender: client, Schemas: client}, nil

	case config.EmailProviderStub:
		return &EmailProvider{
			Name:    config.EmailProviderStub,
			Sender:  external.NewStubEmailSender(logger),
			Schemas: StubSchemas(contracts),
		}, nil
	}
	return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
}

// StubSchemas seeds a template source that matches every contract exactly.
func StubSchemas(contracts *email.Contracts) *external.StubTemplateSource {
	src := &external.StubTemplateSource{Schemas: map[string]*types.TemplateSchema{}}
	for _, tc := range contracts.All() {
		src.Schemas[tc.TemplateIDRef] = &types.TemplateSchema{
			TemplateID: tc.TemplateIDRef,
			Version:    tc.LastKnownVersion,
			Fields:     tc.Fields(),
		}
	}
	return src
}

// NewChatPublisher publishes to the chat webhook when one is configured and
// to the chat topic otherwise.
func NewChatPublisher(awsCfg aws.Config, cfg *config.Config, logger types.Logger) chat.Publisher {
	if cfg.AWS.ChatWebhookURL != "" {
		return chat.NewWebhookPublisher(&http.Client{Timeout: providerTimeout}, cfg.AWS.ChatWebhookURL, logger)
	}
	return chat.NewSNSPublisher(sns.NewFromConfig(awsCfg), cfg.AWS.ChatTopicARN, logger)
}

// NewSandboxAPI builds the enrichment client for the event path.
func NewSandboxAPI(cfg *config.Config) *external.ISBClient {
	base := external.NewBaseClient(&http.Client{Timeout: cfg.ISB.Timeout}, "isb", external.NoRetry(), UserAgent(cfg))
	return external.NewISBClient(base, external.ISBClientConfig{
		BaseURL:       cfg.ISB.APIBaseURL,
		SigningSecret: cfg.ISB.JWTSecret,
		ServiceEmail:  cfg.ISB.ServiceEmail,
	})
}
