// Package dispatch is the per-event entry point of the pipeline: it
// classifies an inbound sandbox event, enriches and sends the user email,
// and builds and publishes the ops chat alert.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sandboxnotify/internal/external"
	"sandboxnotify/internal/notifications/chat"
	"sandboxnotify/internal/notifications/email"
	"sandboxnotify/internal/routing"
	"sandboxnotify/internal/types"
)

// Metrics is the telemetry the handler emits.
type Metrics interface {
	RecordInvocation(ctx context.Context, detailType types.DetailType)
	RecordError(ctx context.Context, detailType types.DetailType, code types.ErrorCode)
	RecordNotification(ctx context.Context, detailType types.DetailType, channel types.Destination, ok bool)
	RecordAuthFailure(ctx context.Context)
	RecordIngressRejected(ctx context.Context, reason string)
	RecordLatency(ctx context.Context, d time.Duration)
}

// Config holds the handler's collaborators.
type Config struct {
	Contracts *email.Contracts
	Sandbox   external.SandboxAPI
	Email     external.EmailSender
	Chat      chat.Publisher
	Metrics   Metrics
	Logger    types.Logger
	// Ingress, when set, drops events that fail the source account or
	// allow-list check.
	Ingress *routing.IngressFilter
	// PortalURL is offered as an action button and the portalUrl email field.
	PortalURL string
	Clock     types.Clock
}

// Handler processes one event per call. It holds no per-event state, so a
// single Handler serves concurrent invocations.
type Handler struct {
	cfg Config
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	return &Handler{cfg: cfg}
}

// Handle dispatches evt to every destination its classification names. The
// email is sent before the chat alert. Any failure is returned unchanged in
// category so the caller's retry policy sees it; nothing is swallowed.
//
// Rebuilding the same event yields the same email personalisation and the
// same chat payload, so redelivery is safe at the content level.
func (h *Handler) Handle(ctx context.Context, evt types.InboundEvent) (err error) {
	ctx = types.WithRequestID(ctx, evt.EventID)
	log := h.cfg.Logger.With(
		"event_id", evt.EventID,
		"detail_type", evt.DetailType,
		"account_id", evt.AccountID,
	)

	if h.cfg.Ingress != nil {
		if rejectErr := h.cfg.Ingress.Admit(evt); rejectErr != nil {
			reason := "unknown"
			var appErr *types.AppError
			if errors.As(rejectErr, &appErr) {
				if r, ok := appErr.Details["reason"].(string); ok {
					reason = r
				}
			}
			log.Warn("event rejected by ingress filter", "reason", reason, "error", rejectErr)
			h.cfg.Metrics.RecordIngressRejected(ctx, reason)
			return nil
		}
	}

	start := h.cfg.Clock.Now()
	h.cfg.Metrics.RecordInvocation(ctx, evt.DetailType)
	defer func() {
		h.cfg.Metrics.RecordLatency(ctx, h.cfg.Clock.Now().Sub(start))
		if err != nil {
			code := types.CodeOf(err)
			if code == "" {
				code = types.ErrCodeInternalUnexpected
			}
			h.cfg.Metrics.RecordError(ctx, evt.DetailType, code)
			if types.IsAuthFailure(err) {
				h.cfg.Metrics.RecordAuthFailure(ctx)
			}
			log.Error("event dispatch failed", "error", err, "code", code)
		}
	}()

	cls := routing.Classify(evt.DetailType)
	log = log.With("priority", cls.Priority)

	if cls.Has(types.DestinationUserEmail) {
		id, sendErr := h.sendEmail(ctx, evt, log)
		h.cfg.Metrics.RecordNotification(ctx, evt.DetailType, types.DestinationUserEmail, sendErr == nil)
		if sendErr != nil {
			return fmt.Errorf("email for %s: %w", evt.EventID, sendErr)
		}
		log.Info("email sent", "notification_id", id)
	}

	if cls.Has(types.DestinationOpsChat) {
		pubErr := h.cfg.Chat.Publish(ctx, h.BuildAlert(evt, cls))
		h.cfg.Metrics.RecordNotification(ctx, evt.DetailType, types.DestinationOpsChat, pubErr == nil)
		if pubErr != nil {
			return fmt.Errorf("chat alert for %s: %w", evt.EventID, pubErr)
		}
		log.Info("chat alert published")
	}

	return nil
}

// BuildAlert renders the ops chat message for evt.
func (h *Handler) BuildAlert(evt types.InboundEvent, cls routing.Classification) *chat.Message {
	var links []chat.Link
	if h.cfg.PortalURL != "" {
		links = append(links, chat.Link{Label: "Open Sandbox Portal", URL: h.cfg.PortalURL})
	}
	return chat.Build(chat.Alert{
		Type:      string(evt.DetailType),
		AccountID: evt.AccountID,
		Priority:  cls.Priority,
		Details:   evt.Detail,
		EventID:   evt.EventID,
		Links:     links,
	})
}

// sendEmail resolves the contract, enriches missing fields through the
// sandbox API and sends the templated email.
func (h *Handler) sendEmail(ctx context.Context, evt types.InboundEvent, log types.Logger) (string, error) {
	tc, ok := h.cfg.Contracts.For(evt.DetailType)
	if !ok {
		return "", types.NewAppErrorWithDetails(types.ErrCodeContractInvalidConfig,
			"no template contract for email-routed event", nil,
			map[string]any{"detail_type": evt.DetailType})
	}

	recipient := recipientFrom(evt)
	sources := []email.FieldSource{detailSource(evt)}
	if h.cfg.PortalURL != "" {
		sources = append(sources, email.MapSource{"portalUrl": h.cfg.PortalURL})
	}

	if recipient == "" {
		return "", types.NewAppError(types.ErrCodeValidationRecipient, "event carries no recipient address", nil)
	}

	if missing := email.Unresolved(tc, append(sources, derivedSource(recipient))...); len(missing) > 0 {
		log.Info("enriching event from sandbox API", "fields", missing)
		extra, err := h.enrich(ctx, evt, missing, sources)
		if err != nil {
			return "", err
		}
		sources = append(sources, extra...)
	}
	sources = append(sources, derivedSource(recipient))

	personalisation, err := email.Populate(tc, sources...)
	if err != nil {
		return "", err
	}

	log.Info("sending email",
		"template_id", tc.TemplateIDRef,
		"recipient", email.RedactAddress(recipient),
	)
	return h.cfg.Email.Send(ctx, types.TemplateEmail{
		TemplateID:      tc.TemplateIDRef,
		Recipient:       recipient,
		Personalisation: personalisation,
		Reference:       evt.EventID,
	})
}

// enrich fetches the lease, and the account when fields remain that only
// the account can supply. Enrichment goes through the API only.
func (h *Handler) enrich(ctx context.Context, evt types.InboundEvent, missing []string, sources []email.FieldSource) ([]email.FieldSource, error) {
	var extra []email.FieldSource

	if key, ok := leaseKeyFrom(evt); ok && needsAny(missing, leaseFields) {
		lease, err := h.cfg.Sandbox.GetLease(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("fetching lease: %w", err)
		}
		extra = append(extra, leaseSource(lease))
	}

	if needsAny(missing, accountFields) {
		all := append(append([]email.FieldSource(nil), sources...), extra...)
		if id := resolveOne("accountId", all); id != "" {
			a, err := h.cfg.Sandbox.GetAccount(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("fetching account: %w", err)
			}
			extra = append(extra, accountSource(a))
		}
	}
	return extra, nil
}

var (
	leaseFields   = []string{"userName", "accountId", "leaseTemplateName", "expiryDate", "maxSpend", "totalCost", "comments"}
	accountFields = []string{"accountName"}
)

func needsAny(missing, fields []string) bool {
	for _, m := range missing {
		for _, f := range fields {
			if m == f {
				return true
			}
		}
	}
	return false
}

func resolveOne(name string, sources []email.FieldSource) string {
	for _, src := range sources {
		if v, ok := src.Field(name); ok {
			return v
		}
	}
	return ""
}
