package routing

import (
	"encoding/json"
	"fmt"

	"sandboxnotify/internal/types"
)

// Rule is an EventBridge rule definition for one destination category.
type Rule struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	EventPattern EventPattern `json:"eventPattern"`
	Target       string       `json:"target"`
	// InputTemplate and InputPaths are set for the direct-to-chat rule only.
	InputTemplate string            `json:"inputTemplate,omitempty"`
	InputPaths    map[string]string `json:"inputPaths,omitempty"`
}

// EventPattern is the subset of the EventBridge pattern grammar the rules use.
// Both fields are mandatory: account pinning blocks cross-account injection.
type EventPattern struct {
	Account    []string `json:"account"`
	DetailType []string `json:"detail-type"`
}

// Rule targets.
const (
	TargetHandlerQueue = "handler-queue"
	TargetChatTopic    = "chat-topic"
)

// Rules returns the two sibling rules: one delivering email and critical
// events to the handler queue and one publishing routine ops-only events
// straight to the chat topic through an input transformer. Every known
// detail-type lands in exactly one rule.
func Rules(sourceAccountID string) []Rule {
	return []Rule{
		{
			Name:        "sandbox-notifications-handler",
			Description: "Sandbox events that need enrichment or critical alert formatting",
			EventPattern: EventPattern{
				Account:    []string{sourceAccountID},
				DetailType: typeStrings(HandlerTypes()),
			},
			Target: TargetHandlerQueue,
		},
		{
			Name:        "sandbox-notifications-ops-chat",
			Description: "Routine operational sandbox events published directly to ops chat",
			EventPattern: EventPattern{
				Account:    []string{sourceAccountID},
				DetailType: typeStrings(DirectChatTypes()),
			},
			Target:        TargetChatTopic,
			InputPaths:    DirectChatInputPaths,
			InputTemplate: DirectChatInputTemplate,
		},
	}
}

// PatternJSON renders the rule's event pattern as EventBridge expects it.
func (r Rule) PatternJSON() (string, error) {
	b, err := json.Marshal(r.EventPattern)
	if err != nil {
		return "", fmt.Errorf("marshal event pattern for %s: %w", r.Name, err)
	}
	return string(b), nil
}

// DirectChatInputPaths maps envelope fields to input-transformer variables.
var DirectChatInputPaths = map[string]string{
	"detailType": "$.detail-type",
	"account":    "$.account",
	"eventId":    "$.id",
	"time":       "$.time",
}

// DirectChatInputTemplate is the minimal chat payload emitted by the
// direct-to-chat rule. It must remain a structurally valid chat message, and
// its routine colour is only correct because critical types never match that
// rule.
const DirectChatInputTemplate = `{"text":"Sandbox event <detailType>","attachments":[{"color":"#F4B400","blocks":[` +
	`{"type":"header","text":{"type":"plain_text","text":"🟡 ROUTINE: <detailType>"}},` +
	`{"type":"section","fields":[{"type":"mrkdwn","text":"*Account*\n<account>"},{"type":"mrkdwn","text":"*Time*\n<time>"}]},` +
	`{"type":"context","elements":[{"type":"mrkdwn","text":"Event ID: <eventId> | Format: v1"}]}]}]}`

// IngressFilter re-applies the rule patterns in process. The bus rules are the
// primary control; this guards against a misconfigured or widened rule.
type IngressFilter struct {
	SourceAccountID string
	allowed         map[types.DetailType]bool
}

// NewIngressFilter builds a filter pinned to sourceAccountID that admits the
// given detail-types. With no explicit list, every routed type is admitted.
func NewIngressFilter(sourceAccountID string, allowed ...types.DetailType) *IngressFilter {
	if len(allowed) == 0 {
		allowed = KnownTypes()
	}
	set := make(map[types.DetailType]bool, len(allowed))
	for _, dt := range allowed {
		set[dt] = true
	}
	return &IngressFilter{SourceAccountID: sourceAccountID, allowed: set}
}

// Admit returns nil if evt may be processed, or a validation AppError naming
// the reason it was rejected.
func (f *IngressFilter) Admit(evt types.InboundEvent) error {
	if f.SourceAccountID == "" || evt.AccountID != f.SourceAccountID {
		return types.NewAppErrorWithDetails(types.ErrCodeIngressRejected,
			"event account does not match the configured source account", nil,
			map[string]any{"reason": "account", "account_id": evt.AccountID})
	}
	if !f.allowed[evt.DetailType] {
		return types.NewAppErrorWithDetails(types.ErrCodeIngressRejected,
			fmt.Sprintf("detail-type %q is not allow-listed", evt.DetailType), nil,
			map[string]any{"reason": "detail_type", "detail_type": string(evt.DetailType)})
	}
	return nil
}

func typeStrings(dts []types.DetailType) []string {
	out := make([]string, len(dts))
	for i, dt := range dts {
		out[i] = string(dt)
	}
	return out
}
