package external

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

const isbTestSecret = "isb-signing-secret"

func newTestISBClient(t *testing.T, url string) *ISBClient {
	t.Helper()
	return NewISBClient(newTestClient(t, NoRetry()), ISBClientConfig{
		BaseURL:       url,
		SigningSecret: types.SecretString(isbTestSecret),
		ServiceEmail:  "notifier@example.gov.uk",
		Clock:         fixedClock{time.Now()},
	})
}

func TestLeaseKey_Encode(t *testing.T) {
	key := LeaseKey{UserEmail: "user@example.com", UUID: "abc-123"}
	raw, err := base64.URLEncoding.DecodeString(key.Encode())
	require.NoError(t, err)
	assert.JSONEq(t, `{"userEmail":"user@example.com","uuid":"abc-123"}`, string(raw))
}

func TestISBClient_GetLease(t *testing.T) {
	key := LeaseKey{UserEmail: "user@example.com", UUID: "abc-123"}
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"userEmail":"user@example.com","uuid":"abc-123",
			"status":"Active","originalLeaseTemplateName":"Standard","awsAccountId":"111122223333",
			"expirationDate":"2026-11-01T00:00:00Z","maxSpend":50}}`))
	}))
	defer server.Close()

	lease, err := newTestISBClient(t, server.URL).GetLease(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, "/leases/"+key.Encode(), gotPath)
	assert.Equal(t, "Standard", lease.OriginalLeaseTemplateName)
	assert.Equal(t, "111122223333", lease.AWSAccountID)
	require.NotNil(t, lease.MaxSpend)
	assert.InDelta(t, 50.0, *lease.MaxSpend, 0.001)
	assert.Nil(t, lease.TotalCostAccrued)

	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	claims := &isbClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimPrefix(gotAuth, "Bearer "), claims, func(*jwt.Token) (any, error) {
		return []byte(isbTestSecret), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "notifier@example.gov.uk", claims.User.Email)
	assert.Equal(t, []string{"Admin"}, claims.User.Roles)
	assert.NotEmpty(t, claims.ID)
}

func TestISBClient_GetAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/111122223333", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"awsAccountId": "111122223333", "name": "pool-7", "status": "Active"},
		})
	}))
	defer server.Close()

	account, err := newTestISBClient(t, server.URL).GetAccount(context.Background(), "111122223333")
	require.NoError(t, err)
	assert.Equal(t, "pool-7", account.Name)
}

func TestISBClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode types.ErrorCode
		wantAuth bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, types.ErrCodeAuthUpstreamRejected, true},
		{"forbidden", http.StatusForbidden, `{}`, types.ErrCodeAuthUpstreamRejected, true},
		{"not found", http.StatusNotFound, `{"status":"fail"}`, types.ErrCodeNotFoundAccount, false},
		{"bad request", http.StatusBadRequest, `{"status":"fail"}`, types.ErrCodeUpstreamSandboxAPI, false},
		{"server error", http.StatusInternalServerError, `{}`, types.ErrCodeUpstreamUnavailable, false},
		{"jsend fail", http.StatusOK, `{"status":"fail","data":{"errors":[{"message":"nope"}]}}`, types.ErrCodeUpstreamSandboxAPI, false},
		{"jsend error", http.StatusOK, `{"status":"error","message":"boom"}`, types.ErrCodeUpstreamSandboxAPI, false},
		{"malformed json", http.StatusOK, `not json`, types.ErrCodeUpstreamSandboxAPI, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestISBClient(t, server.URL).GetAccount(context.Background(), "111122223333")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.CodeOf(err))
			assert.Equal(t, tt.wantAuth, types.IsAuthFailure(err))
		})
	}
}

func TestISBClient_EmptySecretIsAuthFailure(t *testing.T) {
	client := NewISBClient(newTestClient(t, NoRetry()), ISBClientConfig{BaseURL: "http://unused.invalid"})
	_, err := client.GetAccount(context.Background(), "111122223333")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeAuthSecretUnavailable, types.CodeOf(err))
	assert.True(t, types.IsAuthFailure(err))
}

func TestTruncateBody_CutsOnCharacterBoundary(t *testing.T) {
	body := []byte(strings.Repeat("a", 511) + "ü and more")

	got := truncateBody(body)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 511), got)
	assert.Equal(t, "short", truncateBody([]byte("short")))
}
