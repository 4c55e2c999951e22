package external

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sandboxnotify/internal/types"
)

// LeaseKey identifies a lease. The API addresses leases by the URL-safe
// base64 encoding of the JSON form of this key.
type LeaseKey struct {
	UserEmail string `json:"userEmail"`
	UUID      string `json:"uuid"`
}

// Encode returns the lease id as used in API paths.
func (k LeaseKey) Encode() string {
	raw, _ := json.Marshal(k)
	return base64.URLEncoding.EncodeToString(raw)
}

// Lease is the subset of the lease resource used to personalise emails.
type Lease struct {
	UserEmail                 string   `json:"userEmail"`
	UUID                      string   `json:"uuid"`
	Status                    string   `json:"status"`
	OriginalLeaseTemplateName string   `json:"originalLeaseTemplateName"`
	AWSAccountID              string   `json:"awsAccountId"`
	ApprovedBy                string   `json:"approvedBy"`
	StartDate                 string   `json:"startDate"`
	ExpirationDate            string   `json:"expirationDate"`
	MaxSpend                  *float64 `json:"maxSpend"`
	TotalCostAccrued          *float64 `json:"totalCostAccrued"`
	Comments                  string   `json:"comments"`
}

// Account is the subset of the sandbox account resource used for enrichment.
type Account struct {
	AWSAccountID string `json:"awsAccountId"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Status       string `json:"status"`
}

// jsendEnvelope is the response wrapper used by every sandbox API endpoint.
type jsendEnvelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// ISBClientConfig configures ISBClient.
type ISBClientConfig struct {
	BaseURL string
	// SigningSecret signs the bearer token presented to the API.
	SigningSecret types.SecretString
	// ServiceEmail is the identity claimed in the token.
	ServiceEmail string
	TokenTTL     time.Duration
	Clock        types.Clock
}

// ISBClient implements SandboxAPI over HTTP through BaseClient.
type ISBClient struct {
	base    *BaseClient
	baseURL string
	secret  types.SecretString
	email   string
	ttl     time.Duration
	clock   types.Clock
}

// NewISBClient creates an ISBClient. Callers on the event path pass a base
// built with NoRetry.
func NewISBClient(base *BaseClient, cfg ISBClientConfig) *ISBClient {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	email := cfg.ServiceEmail
	if email == "" {
		email = "notifications@sandbox.local"
	}
	return &ISBClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		secret:  cfg.SigningSecret,
		email:   email,
		ttl:     ttl,
		clock:   clock,
	}
}

type isbClaims struct {
	User isbUser `json:"user"`
	jwt.RegisteredClaims
}

type isbUser struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// token signs a short-lived HS256 bearer token carrying the admin role.
func (c *ISBClient) token() (string, error) {
	if c.secret.Empty() {
		return "", types.NewAppError(types.ErrCodeAuthSecretUnavailable, "sandbox API signing secret is empty", nil)
	}
	now := c.clock.Now()
	claims := isbClaims{
		User: isbUser{Email: c.email, Roles: []string{"Admin"}},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secret.Unmask()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeAuthSecretUnavailable, "failed to sign sandbox API token", err)
	}
	return signed, nil
}

// GetLease fetches a lease by key.
func (c *ISBClient) GetLease(ctx context.Context, key LeaseKey) (*Lease, error) {
	var lease Lease
	if err := c.get(ctx, "/leases/"+url.PathEscape(key.Encode()), types.ErrCodeNotFoundLease, &lease); err != nil {
		return nil, err
	}
	return &lease, nil
}

// GetAccount fetches a sandbox account by AWS account id.
func (c *ISBClient) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	if err := c.get(ctx, "/accounts/"+url.PathEscape(accountID), types.ErrCodeNotFoundAccount, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// get performs an authenticated GET and decodes the JSend data member.
//
// Error mapping:
//   - 401/403 -> ErrCodeAuthUpstreamRejected
//   - 404 -> notFound
//   - 429/5xx -> handled by BaseClient
//   - other non-2xx or a non-success envelope -> ErrCodeUpstreamSandboxAPI
func (c *ISBClient) get(ctx context.Context, path string, notFound types.ErrorCode, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create sandbox API request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox API GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamSandboxAPI, "failed to read sandbox API response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAppErrorWithDetails(types.ErrCodeAuthUpstreamRejected,
			fmt.Sprintf("sandbox API rejected credentials (%d)", resp.StatusCode), nil,
			map[string]any{"path": path, "status": resp.StatusCode})
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppErrorWithDetails(notFound, "sandbox API resource not found", nil,
			map[string]any{"path": path})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamSandboxAPI,
			fmt.Sprintf("sandbox API returned %d", resp.StatusCode), nil,
			map[string]any{"path": path, "body": truncateBody(body)})
	}

	var env jsendEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamSandboxAPI, "sandbox API returned malformed JSON", err)
	}
	if env.Status != "success" {
		msg := env.Message
		if msg == "" {
			msg = string(env.Data)
		}
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamSandboxAPI,
			fmt.Sprintf("sandbox API status %q", env.Status), nil,
			map[string]any{"path": path, "message": msg})
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamSandboxAPI, "sandbox API data does not match resource shape", err)
	}
	return nil
}

// truncateBody keeps at most 512 bytes of an error body for logs and error
// details, cutting on a character boundary.
func truncateBody(b []byte) string {
	const limit = 512
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	if len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var _ SandboxAPI = (*ISBClient)(nil)
