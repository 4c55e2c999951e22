package email

import (
	"strings"

	"sandboxnotify/internal/types"
)

// Placeholder is sent for optional fields that have no value, so templates
// never render an empty gap.
const Placeholder = "N/A"

// FieldSource resolves personalisation fields by name. ok is false when the
// source has nothing for the field.
type FieldSource interface {
	Field(name string) (value string, ok bool)
}

// FieldSourceFunc adapts a function to FieldSource.
type FieldSourceFunc func(name string) (string, bool)

func (f FieldSourceFunc) Field(name string) (string, bool) { return f(name) }

// MapSource resolves fields from a fixed map.
type MapSource map[string]string

func (m MapSource) Field(name string) (string, bool) {
	v, ok := m[name]
	return v, ok && strings.TrimSpace(v) != ""
}

// Unresolved returns the contract fields none of the sources can supply.
func Unresolved(tc TemplateConfig, sources ...FieldSource) []string {
	var out []string
	for _, name := range tc.Fields() {
		if _, ok := resolve(name, sources); !ok {
			out = append(out, name)
		}
	}
	return out
}

// Populate builds the personalisation map for tc. Sources are consulted in
// order and the first non-blank value wins. A required field with no value
// is an error; optional fields fall back to Placeholder.
func Populate(tc TemplateConfig, sources ...FieldSource) (map[string]string, error) {
	out := make(map[string]string, len(tc.RequiredFields)+len(tc.OptionalFields))

	var missing []string
	for _, name := range tc.RequiredFields {
		v, ok := resolve(name, sources)
		if !ok || v == Placeholder {
			missing = append(missing, name)
			continue
		}
		out[name] = v
	}
	if len(missing) > 0 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"required personalisation fields unavailable", nil,
			map[string]any{"event_type": tc.EventType, "template_id": tc.TemplateIDRef, "fields": missing})
	}

	for _, name := range tc.OptionalFields {
		if v, ok := resolve(name, sources); ok {
			out[name] = v
		} else {
			out[name] = Placeholder
		}
	}
	return out, nil
}

func resolve(name string, sources []FieldSource) (string, bool) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if v, ok := src.Field(name); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		}
	}
	return "", false
}
