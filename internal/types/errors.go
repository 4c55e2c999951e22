package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing pipeline errors.
type ErrorCode string

// Error code constants. Callers MUST use these instead of hardcoded strings.
const (
	// Malformed or unacceptable inbound events.
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationEnvelope     ErrorCode = "validation_invalid_envelope"
	ErrCodeValidationRecipient    ErrorCode = "validation_invalid_recipient"
	ErrCodeIngressRejected        ErrorCode = "validation_ingress_rejected"

	// Credential problems against the provisioning platform or a provider.
	ErrCodeAuthUpstreamRejected  ErrorCode = "auth_upstream_rejected"
	ErrCodeAuthSecretUnavailable ErrorCode = "auth_secret_unavailable"

	// Lookups against the provisioning platform.
	ErrCodeNotFoundLease   ErrorCode = "not_found_lease"
	ErrCodeNotFoundAccount ErrorCode = "not_found_account"

	// Template contract (cold start).
	ErrCodeContractMissingRequired ErrorCode = "contract_missing_required_field"
	ErrCodeContractTemplateFetch   ErrorCode = "contract_template_fetch_failed"
	ErrCodeContractInvalidConfig   ErrorCode = "contract_invalid_config"

	// Internal/Upstream
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalPayload       ErrorCode = "internal_invalid_payload"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamChat          ErrorCode = "upstream_chat_unavailable"
	ErrCodeUpstreamSandboxAPI    ErrorCode = "upstream_sandbox_api_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeEmailRejected         ErrorCode = "email_rejected"
)

// AppError is the standard error type used throughout the pipeline. Codes let
// the supervisor, metrics and alarms categorize failures without string
// matching on messages.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf returns the ErrorCode of the first AppError in err's chain, or the
// empty string if there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsAuthFailure reports whether err belongs to the authentication category.
// Auth failures are alarmed immediately rather than treated as transient.
func IsAuthFailure(err error) bool {
	switch CodeOf(err) {
	case ErrCodeAuthUpstreamRejected, ErrCodeAuthSecretUnavailable:
		return true
	}
	return false
}
