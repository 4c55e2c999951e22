package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"sandboxnotify/internal/external"
	"sandboxnotify/internal/notifications/email"
	"sandboxnotify/internal/types"
)

// detailPaths lists, per personalisation field, the event detail paths that
// may carry it. The first present path wins.
var detailPaths = map[string][]string{
	"userName":          {"userName", "user.name"},
	"accountId":         {"accountId", "awsAccountId"},
	"accountName":       {"accountName"},
	"leaseTemplateName": {"leaseTemplateName", "originalLeaseTemplateName"},
	"expiryDate":        {"expirationDate", "expiryDate"},
	"maxSpend":          {"maxSpend"},
	"totalCost":         {"totalCostAccrued", "totalCost"},
	"reason":            {"reason.type", "reason"},
	"comments":          {"comments"},
	"deniedBy":          {"deniedBy"},
	"budgetThreshold":   {"triggeredBudgetThreshold", "budgetThreshold"},
	"hoursRemaining":    {"triggeredDurationThreshold", "hoursRemaining"},
}

// detailSource resolves fields from the event itself.
func detailSource(evt types.InboundEvent) email.FieldSource {
	return email.FieldSourceFunc(func(name string) (string, bool) {
		for _, path := range detailPaths[name] {
			if v, ok := evt.DetailString(path); ok {
				return formatField(name, v), true
			}
		}
		return "", false
	})
}

// leaseSource resolves fields from a lease fetched from the sandbox API.
func leaseSource(l *external.Lease) email.FieldSource {
	return email.FieldSourceFunc(func(name string) (string, bool) {
		switch name {
		case "userName":
			return nameFromAddress(l.UserEmail), l.UserEmail != ""
		case "accountId":
			return l.AWSAccountID, l.AWSAccountID != ""
		case "leaseTemplateName":
			return l.OriginalLeaseTemplateName, l.OriginalLeaseTemplateName != ""
		case "expiryDate":
			return formatField(name, l.ExpirationDate), l.ExpirationDate != ""
		case "maxSpend":
			return money(l.MaxSpend)
		case "totalCost":
			return money(l.TotalCostAccrued)
		case "comments":
			return l.Comments, l.Comments != ""
		}
		return "", false
	})
}

// accountSource resolves fields from a sandbox account.
func accountSource(a *external.Account) email.FieldSource {
	return email.FieldSourceFunc(func(name string) (string, bool) {
		switch name {
		case "accountId":
			return a.AWSAccountID, a.AWSAccountID != ""
		case "accountName":
			return a.Name, a.Name != ""
		}
		return "", false
	})
}

// derivedSource fills fields that can be computed from others already known,
// currently the display name from the recipient address.
func derivedSource(recipient string) email.FieldSource {
	return email.FieldSourceFunc(func(name string) (string, bool) {
		if name == "userName" && recipient != "" {
			return nameFromAddress(recipient), true
		}
		return "", false
	})
}

// leaseKeyFrom extracts the lease identifier from the event. The platform
// sends it either as an object or as its encoded string form.
func leaseKeyFrom(evt types.InboundEvent) (external.LeaseKey, bool) {
	if v, ok := evt.DetailValue("leaseId"); ok {
		switch id := v.(type) {
		case map[string]any:
			key := external.LeaseKey{}
			key.UserEmail, _ = id["userEmail"].(string)
			key.UUID, _ = id["uuid"].(string)
			if key.UserEmail != "" && key.UUID != "" {
				return key, true
			}
		case string:
			if key, ok := decodeLeaseID(id); ok {
				return key, true
			}
		}
	}
	userEmail, okEmail := evt.DetailString("userEmail")
	uuid, okUUID := evt.DetailString("uuid")
	if okEmail && okUUID {
		return external.LeaseKey{UserEmail: userEmail, UUID: uuid}, true
	}
	return external.LeaseKey{}, false
}

func decodeLeaseID(s string) (external.LeaseKey, bool) {
	var key external.LeaseKey
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(s); err != nil {
			return key, false
		}
	}
	if json.Unmarshal(raw, &key) != nil || key.UserEmail == "" || key.UUID == "" {
		return key, false
	}
	return key, true
}

// recipientFrom finds the lease holder's address in the event.
func recipientFrom(evt types.InboundEvent) string {
	for _, path := range []string{"userEmail", "leaseId.userEmail"} {
		if v, ok := evt.DetailString(path); ok {
			return strings.TrimSpace(v)
		}
	}
	if key, ok := leaseKeyFrom(evt); ok {
		return key.UserEmail
	}
	return ""
}

// nameFromAddress turns "jane.doe@example.gov.uk" into "Jane Doe".
func nameFromAddress(addr string) string {
	local, _, _ := strings.Cut(addr, "@")
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+' || unicode.IsDigit(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return local
	}
	return strings.Join(words, " ")
}

func money(v *float64) (string, bool) {
	if v == nil {
		return "", false
	}
	return fmt.Sprintf("$%.2f", *v), true
}

// formatField normalises values whose raw form reads badly in an email.
func formatField(name, v string) string {
	switch name {
	case "maxSpend", "totalCost":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return fmt.Sprintf("$%.2f", f)
		}
	case "expiryDate":
		if date, _, ok := strings.Cut(v, "T"); ok {
			return date
		}
	}
	return v
}
