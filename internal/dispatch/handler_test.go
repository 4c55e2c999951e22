package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/external"
	"sandboxnotify/internal/notifications/chat"
	"sandboxnotify/internal/notifications/email"
	"sandboxnotify/internal/routing"
	"sandboxnotify/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

type fakeSandbox struct {
	lease      *external.Lease
	account    *external.Account
	err        error
	leaseKeys  []external.LeaseKey
	accountIDs []string
}

func (f *fakeSandbox) GetLease(_ context.Context, key external.LeaseKey) (*external.Lease, error) {
	f.leaseKeys = append(f.leaseKeys, key)
	if f.err != nil {
		return nil, f.err
	}
	return f.lease, nil
}

func (f *fakeSandbox) GetAccount(_ context.Context, id string) (*external.Account, error) {
	f.accountIDs = append(f.accountIDs, id)
	if f.err != nil {
		return nil, f.err
	}
	if f.account == nil {
		return &external.Account{AWSAccountID: id}, nil
	}
	return f.account, nil
}

type fakeSender struct {
	sent []types.TemplateEmail
	err  error
}

func (f *fakeSender) Send(_ context.Context, e types.TemplateEmail) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, e)
	return "notify-1", nil
}

type fakePublisher struct {
	msgs []*chat.Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, m *chat.Message) error {
	if err := chat.Validate(m); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

type fakeMetrics struct {
	mu            sync.Mutex
	invocations   int
	errors        []types.ErrorCode
	notifications map[string]int
	authFailures  int
	rejected      []string
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{notifications: map[string]int{}}
}

func (m *fakeMetrics) RecordInvocation(context.Context, types.DetailType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations++
}

func (m *fakeMetrics) RecordError(_ context.Context, _ types.DetailType, code types.ErrorCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, code)
}

func (m *fakeMetrics) RecordNotification(_ context.Context, _ types.DetailType, ch types.Destination, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := "failure"
	if ok {
		result = "success"
	}
	m.notifications[string(ch)+"/"+result]++
}

func (m *fakeMetrics) RecordAuthFailure(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFailures++
}

func (m *fakeMetrics) RecordIngressRejected(_ context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

func (m *fakeMetrics) RecordLatency(context.Context, time.Duration) {}

type harness struct {
	handler *Handler
	sandbox *fakeSandbox
	sender  *fakeSender
	chat    *fakePublisher
	metrics *fakeMetrics
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	contracts, err := email.LoadContracts("")
	require.NoError(t, err)

	h := &harness{
		sandbox: &fakeSandbox{},
		sender:  &fakeSender{},
		chat:    &fakePublisher{},
		metrics: newFakeMetrics(),
	}
	cfg := Config{
		Contracts: contracts,
		Sandbox:   h.sandbox,
		Email:     h.sender,
		Chat:      h.chat,
		Metrics:   h.metrics,
		Logger:    &mockLogger{},
		PortalURL: "https://sandbox.example.gov.uk/portal",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.handler = NewHandler(cfg)
	return h
}

func event(detailType types.DetailType, detail map[string]any) types.InboundEvent {
	return types.InboundEvent{
		EventID:    "evt-1",
		AccountID:  "111122223333",
		DetailType: detailType,
		Source:     "isb",
		Detail:     detail,
	}
}

func TestHandle_AccountQuarantinedGoesToChatOnly(t *testing.T) {
	h := newHarness(t)

	err := h.handler.Handle(context.Background(), event(types.EventAccountQuarantined, map[string]any{
		"reason": "Budget exceeded by 50%",
	}))
	require.NoError(t, err)

	assert.Empty(t, h.sender.sent)
	require.Len(t, h.chat.msgs, 1)

	msg := h.chat.msgs[0]
	require.NotEmpty(t, msg.Attachments)
	assert.Equal(t, "#D93025", msg.Attachments[0].Color)

	blocks := msg.Attachments[0].Blocks
	assert.Equal(t, chat.BlockHeader, blocks[0].Type)
	assert.Contains(t, blocks[0].Text.Text, "CRITICAL")
	assert.Contains(t, blocks[0].Text.Text, "Account Quarantined")

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "evt-1")
	assert.Contains(t, string(raw), "Budget exceeded by 50%")

	var actions int
	for _, b := range blocks {
		if b.Type == chat.BlockActions {
			actions++
		}
	}
	assert.Equal(t, 1, actions)

	assert.Equal(t, 1, h.metrics.invocations)
	assert.Equal(t, 1, h.metrics.notifications["ops_chat/success"])
}

func TestHandle_LeaseApprovedSendsEmailWithEnrichment(t *testing.T) {
	h := newHarness(t)
	maxSpend := 50.0
	h.sandbox.lease = &external.Lease{
		UserEmail:                 "jane.doe@example.gov.uk",
		AWSAccountID:              "444455556666",
		OriginalLeaseTemplateName: "Standard Sandbox",
		ExpirationDate:            "2026-11-01T12:00:00Z",
		MaxSpend:                  &maxSpend,
	}
	h.sandbox.account = &external.Account{AWSAccountID: "444455556666", Name: "pool-042"}

	err := h.handler.Handle(context.Background(), event(types.EventLeaseApproved, map[string]any{
		"leaseId":    map[string]any{"userEmail": "jane.doe@example.gov.uk", "uuid": "u-1"},
		"approvedBy": "admin@example.gov.uk",
	}))
	require.NoError(t, err)

	require.Len(t, h.sandbox.leaseKeys, 1)
	assert.Equal(t, external.LeaseKey{UserEmail: "jane.doe@example.gov.uk", UUID: "u-1"}, h.sandbox.leaseKeys[0])
	assert.Equal(t, []string{"444455556666"}, h.sandbox.accountIDs)

	require.Len(t, h.sender.sent, 1)
	sent := h.sender.sent[0]
	assert.Equal(t, "sandbox-lease-approved", sent.TemplateID)
	assert.Equal(t, "jane.doe@example.gov.uk", sent.Recipient)
	assert.Equal(t, "evt-1", sent.Reference)
	assert.Equal(t, map[string]string{
		"userName":          "Jane Doe",
		"accountId":         "444455556666",
		"accountName":       "pool-042",
		"leaseTemplateName": "Standard Sandbox",
		"expiryDate":        "2026-11-01",
		"maxSpend":          "$50.00",
		"portalUrl":         "https://sandbox.example.gov.uk/portal",
	}, sent.Personalisation)

	assert.Empty(t, h.chat.msgs, "LeaseApproved is user-only")
}

func TestHandle_NoEnrichmentWhenDetailIsComplete(t *testing.T) {
	h := newHarness(t)

	err := h.handler.Handle(context.Background(), event(types.EventLeaseFrozen, map[string]any{
		"leaseId":   map[string]any{"userEmail": "sam@example.gov.uk", "uuid": "u-2"},
		"accountId": "777788889999",
		"reason":    map[string]any{"type": "BudgetExceeded"},
	}))
	require.NoError(t, err)

	assert.Empty(t, h.sandbox.leaseKeys)
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, "BudgetExceeded", h.sender.sent[0].Personalisation["reason"])
	assert.Equal(t, "Sam", h.sender.sent[0].Personalisation["userName"])
	require.Len(t, h.chat.msgs, 1, "LeaseFrozen also goes to ops")
}

func TestHandle_OptionalFieldsGetPlaceholder(t *testing.T) {
	h := newHarness(t)

	err := h.handler.Handle(context.Background(), event(types.EventLeaseTerminated, map[string]any{
		"userEmail": "sam@example.gov.uk",
		"accountId": "777788889999",
	}))
	require.NoError(t, err)

	require.Len(t, h.sender.sent, 1)
	p := h.sender.sent[0].Personalisation
	assert.Equal(t, email.Placeholder, p["reason"])
	assert.Equal(t, email.Placeholder, p["totalCost"])
}

func TestHandle_UnknownTypeGoesToOpsAsRoutine(t *testing.T) {
	h := newHarness(t)

	err := h.handler.Handle(context.Background(), event("SomethingNew", map[string]any{"x": 1.0}))
	require.NoError(t, err)

	assert.Empty(t, h.sender.sent)
	require.Len(t, h.chat.msgs, 1)
	assert.Equal(t, chat.ColorRoutine, h.chat.msgs[0].Attachments[0].Color)
	assert.Contains(t, h.chat.msgs[0].Attachments[0].Blocks[0].Text.Text, "SomethingNew")
}

func TestHandle_ErrorsPropagate(t *testing.T) {
	t.Run("email send failure", func(t *testing.T) {
		h := newHarness(t)
		h.sender.err = types.NewAppError(types.ErrCodeUpstreamEmailProvider, "down", nil)

		err := h.handler.Handle(context.Background(), event(types.EventLeaseDenied, map[string]any{
			"userEmail": "a@example.com", "leaseTemplateName": "Standard",
		}))
		require.Error(t, err)
		assert.Equal(t, types.ErrCodeUpstreamEmailProvider, types.CodeOf(err))
		assert.Empty(t, h.chat.msgs, "chat is not attempted after a failed email")
		assert.Equal(t, []types.ErrorCode{types.ErrCodeUpstreamEmailProvider}, h.metrics.errors)
		assert.Equal(t, 1, h.metrics.notifications["user_email/failure"])
	})

	t.Run("chat publish failure", func(t *testing.T) {
		h := newHarness(t)
		h.chat.err = errors.New("sns unavailable")

		err := h.handler.Handle(context.Background(), event(types.EventAccountCleanupFailure, nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sns unavailable")
		assert.Equal(t, []types.ErrorCode{types.ErrCodeInternalUnexpected}, h.metrics.errors)
	})

	t.Run("auth failure counted", func(t *testing.T) {
		h := newHarness(t)
		h.sandbox.err = types.NewAppError(types.ErrCodeAuthUpstreamRejected, "401", nil)

		err := h.handler.Handle(context.Background(), event(types.EventLeaseApproved, map[string]any{
			"leaseId": map[string]any{"userEmail": "a@example.com", "uuid": "u"},
		}))
		require.Error(t, err)
		assert.True(t, types.IsAuthFailure(err))
		assert.Equal(t, 1, h.metrics.authFailures)
		assert.Empty(t, h.sender.sent)
	})

	t.Run("missing recipient", func(t *testing.T) {
		h := newHarness(t)
		err := h.handler.Handle(context.Background(), event(types.EventLeaseExpired, map[string]any{"accountId": "1"}))
		assert.Equal(t, types.ErrCodeValidationRecipient, types.CodeOf(err))
	})

	t.Run("required field unavailable", func(t *testing.T) {
		h := newHarness(t)
		err := h.handler.Handle(context.Background(), event(types.EventLeaseExpired, map[string]any{"userEmail": "a@example.com"}))
		assert.Equal(t, types.ErrCodeValidationMissingField, types.CodeOf(err))
	})
}

func TestHandle_IngressFilterDropsForeignEvents(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Ingress = routing.NewIngressFilter("111122223333")
	})

	evt := event(types.EventAccountQuarantined, nil)
	evt.AccountID = "999999999999"
	require.NoError(t, h.handler.Handle(context.Background(), evt))

	assert.Empty(t, h.chat.msgs)
	assert.Equal(t, []string{"account"}, h.metrics.rejected)
	assert.Zero(t, h.metrics.invocations)

	require.NoError(t, h.handler.Handle(context.Background(), event(types.EventAccountQuarantined, nil)))
	assert.Len(t, h.chat.msgs, 1)
}

func TestHandle_ContentIsDeterministic(t *testing.T) {
	h := newHarness(t)
	evt := event(types.EventLeaseDenied, map[string]any{
		"userEmail": "a@example.com", "leaseTemplateName": "Standard", "deniedBy": "ops@example.com",
	})

	require.NoError(t, h.handler.Handle(context.Background(), evt))
	require.NoError(t, h.handler.Handle(context.Background(), evt))

	require.Len(t, h.sender.sent, 2)
	assert.Equal(t, h.sender.sent[0], h.sender.sent[1])

	require.Len(t, h.chat.msgs, 2)
	first, _ := json.Marshal(h.chat.msgs[0])
	second, _ := json.Marshal(h.chat.msgs[1])
	assert.JSONEq(t, string(first), string(second))
}

func TestLeaseKeyFrom(t *testing.T) {
	key := external.LeaseKey{UserEmail: "a@example.com", UUID: "u-9"}

	got, ok := leaseKeyFrom(event(types.EventLeaseExpired, map[string]any{"leaseId": key.Encode()}))
	require.True(t, ok)
	assert.Equal(t, key, got)

	got, ok = leaseKeyFrom(event(types.EventLeaseExpired, map[string]any{"userEmail": "a@example.com", "uuid": "u-9"}))
	require.True(t, ok)
	assert.Equal(t, key, got)

	_, ok = leaseKeyFrom(event(types.EventLeaseExpired, map[string]any{"leaseId": "not-base64!"}))
	assert.False(t, ok)
}

func TestNameFromAddress(t *testing.T) {
	assert.Equal(t, "Jane Doe", nameFromAddress("jane.doe@example.gov.uk"))
	assert.Equal(t, "Sam", nameFromAddress("sam42@example.com"))
	assert.Equal(t, "X Y Z", nameFromAddress("x_y-z@example.com"))
	assert.True(t, strings.HasPrefix(nameFromAddress("___@x"), "___"))
}
