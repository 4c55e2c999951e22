package chat

import (
	"fmt"
	"regexp"
	"strings"

	"sandboxnotify/internal/types"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Validate checks the structure of a chat payload and returns a descriptive
// error for the first violation found. Build never produces an invalid
// payload; Validate exists to catch programming errors in tests and before
// hand-written payloads leave the process.
func Validate(m *Message) error {
	if m == nil {
		return invalid("payload is nil")
	}
	if strings.TrimSpace(m.Text) == "" {
		return invalid("text is required")
	}
	if len(m.Attachments) == 0 {
		return invalid("at least one attachment is required")
	}
	for i, att := range m.Attachments {
		if att.Color == "" {
			return invalid("attachments[%d]: color is required", i)
		}
		if !colorPattern.MatchString(att.Color) {
			return invalid("attachments[%d]: color %q is not #RRGGBB", i, att.Color)
		}
		if len(att.Blocks) == 0 {
			return invalid("attachments[%d]: at least one block is required", i)
		}
		for j, b := range att.Blocks {
			if err := validateBlock(b); err != nil {
				return invalid("attachments[%d].blocks[%d] (%s): %s", i, j, b.Type, err.Error())
			}
		}
	}
	return nil
}

func validateBlock(b Block) error {
	switch b.Type {
	case BlockHeader:
		if b.Text == nil || strings.TrimSpace(b.Text.Text) == "" {
			return fmt.Errorf("header must have text")
		}
		if n := len([]rune(b.Text.Text)); n > MaxHeaderLength {
			return fmt.Errorf("header text is %d characters, limit %d", n, MaxHeaderLength)
		}
	case BlockSection:
		hasText := b.Text != nil && strings.TrimSpace(b.Text.Text) != ""
		if !hasText && len(b.Fields) == 0 {
			return fmt.Errorf("section must have text or fields")
		}
		if hasText && len([]rune(b.Text.Text)) > MaxTextLength {
			return fmt.Errorf("section text exceeds %d characters", MaxTextLength)
		}
		for k, f := range b.Fields {
			if f == nil || strings.TrimSpace(f.Text) == "" {
				return fmt.Errorf("fields[%d] is empty", k)
			}
		}
	case BlockContext:
		if len(b.Elements) == 0 {
			return fmt.Errorf("context must have at least one element")
		}
	case BlockActions:
		if len(b.Elements) == 0 {
			return fmt.Errorf("actions must have at least one element")
		}
		for k, e := range b.Elements {
			if e.Type != ElementButton {
				return fmt.Errorf("elements[%d] is %q, want button", k, e.Type)
			}
			if strings.TrimSpace(e.Text) == "" || len([]rune(e.Text)) > MaxButtonLength {
				return fmt.Errorf("elements[%d] label must be 1-%d characters", k, MaxButtonLength)
			}
			if !isHTTPS(e.URL) {
				return fmt.Errorf("elements[%d] url must be absolute https", k)
			}
		}
	case BlockDivider:
	default:
		return fmt.Errorf("unknown block type")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return types.NewAppError(types.ErrCodeInternalPayload, "chat payload: "+fmt.Sprintf(format, args...), nil)
}
