// Package config defines the process configuration for the notification
// pipeline. Configuration is loaded once at cold start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"sandboxnotify/internal/types"
)

// SecretString is an alias for types.SecretString so secrets never reach logs.
type SecretString = types.SecretString

// Email provider names.
const (
	EmailProviderNotify = "notify"
	EmailProviderSES    = "ses"
	EmailProviderStub   = "stub"
)

// Config is the top-level configuration. Sub-components receive only the
// section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sandbox-notify"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	ISB           ISBConfig
	Email         EmailConfig
	AWS           AWSConfig
	Retry         RetryConfig
	Digest        DigestConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ISBConfig points at the sandbox platform's API and the account that emits
// its events.
type ISBConfig struct {
	APIBaseURL      string        `envconfig:"ISB_API_BASE_URL" validate:"required,url"`
	JWTSecret       SecretString  `envconfig:"ISB_JWT_SECRET" validate:"required"`
	JWTSecretParam  string        `envconfig:"ISB_JWT_SECRET_SSM_PARAM"`
	ServiceEmail    string        `envconfig:"ISB_SERVICE_EMAIL" default:"notifications@sandbox.internal" validate:"email"`
	SourceAccountID string        `envconfig:"ISB_SOURCE_ACCOUNT_ID" validate:"required,numeric,len=12"`
	PortalURL       string        `envconfig:"ISB_PORTAL_URL" validate:"omitempty,url"`
	Timeout         time.Duration `envconfig:"ISB_TIMEOUT" default:"5s"`
}

// EmailConfig selects and configures the email provider.
type EmailConfig struct {
	Provider          string       `envconfig:"EMAIL_PROVIDER" default:"notify" validate:"oneof=notify ses stub"`
	NotifyAPIKey      SecretString `envconfig:"NOTIFY_API_KEY" validate:"required_if=Provider notify"`
	NotifyAPIKeyParam string       `envconfig:"NOTIFY_API_KEY_SSM_PARAM"`
	NotifyBaseURL     string       `envconfig:"NOTIFY_BASE_URL" default:"https://api.notifications.service.gov.uk" validate:"url"`
	SESFromAddress    string       `envconfig:"SES_FROM_ADDRESS" validate:"required_if=Provider ses"`
	SESConfigSet      string       `envconfig:"SES_CONFIGURATION_SET"`

	// ContractPath overrides the embedded template contract file.
	ContractPath          string `envconfig:"EMAIL_TEMPLATE_CONTRACT_PATH"`
	AllowContractMismatch bool   `envconfig:"ALLOW_TEMPLATE_CONTRACT_MISMATCH" default:"false"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"eu-west-2"`
	EventQueueURL   string `envconfig:"SQS_EVENT_QUEUE" validate:"omitempty,url"`
	FailureQueueURL string `envconfig:"SQS_FAILURE_QUEUE" validate:"required,url"`
	ChatTopicARN    string `envconfig:"CHAT_TOPIC_ARN" validate:"required_without=ChatWebhookURL"`
	ChatWebhookURL  string `envconfig:"CHAT_WEBHOOK_URL" validate:"omitempty,url"`

	// LocalStack support. Empty in deployed environments.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// RetryConfig bounds the supervisor's retry budget.
type RetryConfig struct {
	MaxRetries     int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"2" validate:"gte=0,lte=10"`
	MaxEventAge    time.Duration `envconfig:"RETRY_MAX_EVENT_AGE" default:"1h"`
	HandlerTimeout time.Duration `envconfig:"HANDLER_TIMEOUT" default:"30s"`
}

// DigestConfig tunes the failure digest.
type DigestConfig struct {
	MaxMessages int           `envconfig:"DIGEST_MAX_MESSAGES" default:"50" validate:"gte=1,lte=500"`
	HoldFor     time.Duration `envconfig:"DIGEST_HOLD_FOR" default:"60s"`
}

// ObservabilityConfig holds metric and alarm settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SandboxNotifications"`
	RunbookBaseURL  string `envconfig:"RUNBOOK_BASE_URL" default:"https://runbooks.sandbox.internal/notifications" validate:"url"`
	AlarmTopicARN   string `envconfig:"ALARM_TOPIC_ARN"`
	AlarmPrefix     string `envconfig:"ALARM_PREFIX" default:"sandbox-notify"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// TrackedSecrets returns the SSM paths of secrets whose rotation age is
// monitored. Only secrets loaded through SSM have a path.
func (c *Config) TrackedSecrets() []string {
	var out []string
	for _, p := range []string{c.ISB.JWTSecretParam, c.Email.NotifyAPIKeyParam} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsLocal reports whether the process runs outside AWS.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates env values could not be parsed into their types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
