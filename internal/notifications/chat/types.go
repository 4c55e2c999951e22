// Package chat builds and delivers operator-facing chat alerts.
//
// Messages use a block layout (header, section, context, divider, actions)
// wrapped in a single colored attachment. The wire shape is a contract with
// the chat-delivery subscriber's renderer:
//
//	{ "text": "...", "attachments": [{ "color": "#RRGGBB", "blocks": [...] }] }
package chat

import (
	"encoding/json"
	"fmt"
)

// Attachment colors. These exact values are part of the renderer contract.
const (
	ColorCritical = "#D93025"
	ColorRoutine  = "#F4B400"
)

// FormatVersion is stamped into every context block so downstream tooling can
// detect layout changes.
const FormatVersion = "v1"

// Block types.
const (
	BlockHeader  = "header"
	BlockSection = "section"
	BlockContext = "context"
	BlockDivider = "divider"
	BlockActions = "actions"
)

// Text object types.
const (
	TextPlain     = "plain_text"
	TextMarkdown  = "mrkdwn"
	ElementButton = "button"
)

// Message is the top-level chat payload.
type Message struct {
	Text        string       `json:"text"` // Fallback for notifications and clients without block support
	Attachments []Attachment `json:"attachments"`
}

// Attachment carries the priority color and the block layout.
type Attachment struct {
	Color  string  `json:"color"`
	Blocks []Block `json:"blocks"`
}

// Block is one layout element. Which fields are populated depends on Type.
type Block struct {
	Type     string        `json:"type"`
	Text     *TextObject   `json:"text,omitempty"`
	Fields   []*TextObject `json:"fields,omitempty"`
	Elements []Element     `json:"elements,omitempty"`
}

// TextObject is a text composition object.
type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Element is a context text element or an actions button.
// Buttons serialize their label as a nested plain_text object.
type Element struct {
	Type     string
	Text     string
	URL      string
	ActionID string
}

type buttonJSON struct {
	Type     string     `json:"type"`
	Text     TextObject `json:"text"`
	URL      string     `json:"url"`
	ActionID string     `json:"action_id"`
}

type textElementJSON struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MarshalJSON implements json.Marshaler.
func (e Element) MarshalJSON() ([]byte, error) {
	if e.Type == ElementButton {
		return json.Marshal(buttonJSON{
			Type:     ElementButton,
			Text:     TextObject{Type: TextPlain, Text: e.Text},
			URL:      e.URL,
			ActionID: e.ActionID,
		})
	}
	return json.Marshal(textElementJSON{Type: e.Type, Text: e.Text})
}

// UnmarshalJSON implements json.Unmarshaler for both element shapes.
func (e *Element) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string          `json:"type"`
		Text     json.RawMessage `json:"text"`
		URL      string          `json:"url"`
		ActionID string          `json:"action_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Type, e.URL, e.ActionID = raw.Type, raw.URL, raw.ActionID
	e.Text = ""
	if len(raw.Text) == 0 {
		return nil
	}
	if raw.Text[0] == '"' {
		return json.Unmarshal(raw.Text, &e.Text)
	}
	var obj TextObject
	if err := json.Unmarshal(raw.Text, &obj); err != nil {
		return fmt.Errorf("element text: %w", err)
	}
	e.Text = obj.Text
	return nil
}

// Link is a candidate action button.
type Link struct {
	Label string
	URL   string
}
