package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Length caps, chosen below the renderer's hard 3000-character limit.
const (
	MaxTextLength   = 2500
	MaxHeaderLength = 150
	MaxButtonLength = 75
)

// Ellipsis marks truncated text.
const Ellipsis = "..."

// Placeholder replaces absent or blank field values.
const Placeholder = "N/A"

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Escape replaces the markup control characters &, < and > with entities.
// Strings without those characters are returned unchanged.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Truncate caps s at n runes. Longer input is cut and ends with Ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	marker := []rune(Ellipsis)
	if n <= len(marker) {
		return string(marker[:n])
	}
	return string(runes[:n-len(marker)]) + Ellipsis
}

// safeText escapes then truncates s, dropping an entity the cut would split.
func safeText(s string, n int) string {
	escaped := Escape(s)
	out := Truncate(escaped, n)
	if out == escaped || !strings.HasSuffix(out, Ellipsis) {
		return out
	}
	body := strings.TrimSuffix(out, Ellipsis)
	if amp := strings.LastIndexByte(body, '&'); amp >= 0 && !strings.Contains(body[amp:], ";") {
		body = body[:amp]
	}
	return body + Ellipsis
}

// FormatFieldValue renders a detail value for display. nil, empty and
// whitespace-only values render as Placeholder.
func FormatFieldValue(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return Placeholder
	case string:
		s = val
	case *string:
		if val == nil {
			return Placeholder
		}
		s = *val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case bool:
		s = strconv.FormatBool(val)
	case []string:
		s = strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if p := FormatFieldValue(item); p != Placeholder {
				parts = append(parts, p)
			}
		}
		s = strings.Join(parts, ", ")
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return Placeholder
		}
		s = string(b)
	default:
		s = fmt.Sprint(val)
	}
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

// Humanize splits a CamelCase or snake_case identifier into words:
// "AccountQuarantined" -> "Account Quarantined", "max_spend" -> "Max Spend".
func Humanize(s string) string {
	var words []string
	var cur []rune
	runes := []rune(s)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && len(cur) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
