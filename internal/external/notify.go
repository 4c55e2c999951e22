package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"sandboxnotify/internal/types"
)

const notifyAPIBase = "https://api.notifications.service.gov.uk"

// NotifyClientConfig configures NotifyClient.
type NotifyClientConfig struct {
	// APIKey has the form "{key_name}-{service_id}-{secret_key}" where both
	// ids are 36-character UUIDs.
	APIKey  types.SecretString
	BaseURL string
	Clock   types.Clock
}

// NotifyClient sends templated email through the GOV.UK Notify REST API and
// reads template schemas for the startup contract check.
type NotifyClient struct {
	base      *BaseClient
	baseURL   string
	serviceID string
	secret    types.SecretString
	clock     types.Clock
}

// NewNotifyClient parses the API key and returns a client.
func NewNotifyClient(base *BaseClient, cfg NotifyClientConfig) (*NotifyClient, error) {
	serviceID, secret, err := parseNotifyAPIKey(cfg.APIKey.Unmask())
	if err != nil {
		return nil, err
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = notifyAPIBase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &NotifyClient{
		base:      base,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		serviceID: serviceID,
		secret:    types.SecretString(secret),
		clock:     clock,
	}, nil
}

func parseNotifyAPIKey(key string) (serviceID, secret string, err error) {
	const uuidLen = 36
	// secret (36) + "-" + service id (36) + "-" + at least one name char
	if len(key) < 2*uuidLen+2 {
		return "", "", types.NewAppError(types.ErrCodeAuthSecretUnavailable, "notify API key is malformed", nil)
	}
	secret = key[len(key)-uuidLen:]
	serviceID = key[len(key)-2*uuidLen-1 : len(key)-uuidLen-1]
	if key[len(key)-uuidLen-1] != '-' || key[len(key)-2*uuidLen-2] != '-' {
		return "", "", types.NewAppError(types.ErrCodeAuthSecretUnavailable, "notify API key is malformed", nil)
	}
	return serviceID, secret, nil
}

// token returns the per-request HS256 JWT Notify expects: iss is the service
// id and iat the current time.
func (c *NotifyClient) token() (string, error) {
	claims := jwt.MapClaims{
		"iss": c.serviceID,
		"iat": c.clock.Now().Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secret.Unmask()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeAuthSecretUnavailable, "failed to sign notify token", err)
	}
	return signed, nil
}

type notifySendRequest struct {
	EmailAddress    string            `json:"email_address"`
	TemplateID      string            `json:"template_id"`
	Personalisation map[string]string `json:"personalisation,omitempty"`
	Reference       string            `json:"reference,omitempty"`
}

type notifySendResponse struct {
	ID string `json:"id"`
}

type notifyErrorResponse struct {
	StatusCode int `json:"status_code"`
	Errors     []struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send posts to /v2/notifications/email.
//
// Error mapping:
//   - 400 -> ErrCodeEmailRejected (bad personalisation, unknown template)
//   - 403 -> ErrCodeUpstreamEmailProvider (key revoked or clock skew)
//   - 429/5xx -> handled by BaseClient
func (c *NotifyClient) Send(ctx context.Context, email types.TemplateEmail) (string, error) {
	body, err := json.Marshal(notifySendRequest{
		EmailAddress:    email.Recipient,
		TemplateID:      email.TemplateID,
		Personalisation: email.Personalisation,
		Reference:       email.Reference,
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal notify request", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v2/notifications/email", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", c.handleErrorResponse(resp, "Send")
	}

	var out notifySendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "notify returned malformed response", err)
	}
	return out.ID, nil
}

type notifyTemplateResponse struct {
	ID              string                     `json:"id"`
	Version         int                        `json:"version"`
	Personalisation map[string]json.RawMessage `json:"personalisation"`
}

// GetTemplateSchema reads /v2/template/{id}. The schema's fields are the keys
// of the template's personalisation map.
func (c *NotifyClient) GetTemplateSchema(ctx context.Context, templateID string) (*types.TemplateSchema, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v2/template/"+url.PathEscape(templateID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, "GetTemplateSchema")
	}

	var out notifyTemplateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeContractTemplateFetch, "notify returned malformed template", err)
	}

	fields := make([]string, 0, len(out.Personalisation))
	for name := range out.Personalisation {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	return &types.TemplateSchema{
		TemplateID: templateID,
		Version:    out.Version,
		Fields:     fields,
	}, nil
}

func (c *NotifyClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create notify request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notify %s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *NotifyClient) handleErrorResponse(resp *http.Response, operation string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var parsed notifyErrorResponse
	msg := truncateBody(raw)
	if json.Unmarshal(raw, &parsed) == nil && len(parsed.Errors) > 0 {
		parts := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			parts = append(parts, e.Error+": "+e.Message)
		}
		msg = strings.Join(parts, "; ")
	}
	details := map[string]any{"operation": operation, "status": resp.StatusCode}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return types.NewAppErrorWithDetails(types.ErrCodeEmailRejected,
			fmt.Sprintf("notify rejected request: %s", msg), nil, details)
	case http.StatusNotFound:
		return types.NewAppErrorWithDetails(types.ErrCodeContractTemplateFetch,
			fmt.Sprintf("notify resource not found: %s", msg), nil, details)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("notify returned %d: %s", resp.StatusCode, msg), nil, details)
	}
}

var (
	_ EmailSender          = (*NotifyClient)(nil)
	_ TemplateSchemaSource = (*NotifyClient)(nil)
)
