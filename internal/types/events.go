package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// InboundEvent is a lifecycle event delivered by the sandbox platform's event
// bus. It is immutable once parsed; the handler never writes back to it.
type InboundEvent struct {
	EventID    string         `json:"eventId"`
	AccountID  string         `json:"accountId"`
	DetailType DetailType     `json:"detailType"`
	Source     string         `json:"source,omitempty"`
	Time       time.Time      `json:"time"`
	Detail     map[string]any `json:"detail"`
}

// ParseEnvelope decodes a raw EventBridge envelope into an InboundEvent.
// The envelope must carry an id, a detail-type and an account; a missing or
// non-object detail is treated as empty.
func ParseEnvelope(raw []byte) (InboundEvent, error) {
	var env events.CloudWatchEvent
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundEvent{}, NewAppError(ErrCodeValidationEnvelope, "event envelope is not valid JSON", err)
	}

	var missing []string
	if env.ID == "" {
		missing = append(missing, "id")
	}
	if env.DetailType == "" {
		missing = append(missing, "detail-type")
	}
	if env.AccountID == "" {
		missing = append(missing, "account")
	}
	if len(missing) > 0 {
		return InboundEvent{}, NewAppError(ErrCodeValidationEnvelope,
			fmt.Sprintf("event envelope missing %s", strings.Join(missing, ", ")), nil)
	}

	detail := map[string]any{}
	if len(env.Detail) > 0 && string(env.Detail) != "null" {
		if err := json.Unmarshal(env.Detail, &detail); err != nil {
			return InboundEvent{}, NewAppError(ErrCodeValidationEnvelope, "event detail is not a JSON object", err)
		}
	}

	return InboundEvent{
		EventID:    env.ID,
		AccountID:  env.AccountID,
		DetailType: DetailType(env.DetailType),
		Source:     env.Source,
		Time:       env.Time.UTC(),
		Detail:     detail,
	}, nil
}

// DetailValue resolves a dotted path (e.g. "leaseId.userEmail") inside the
// event detail.
func (e InboundEvent) DetailValue(path string) (any, bool) {
	var cur any = e.Detail
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// DetailString returns the value at path rendered as a string. Numbers and
// booleans are formatted; objects and arrays are not considered strings.
func (e InboundEvent) DetailString(path string) (string, bool) {
	v, ok := e.DetailValue(path)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, strings.TrimSpace(val) != ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}
