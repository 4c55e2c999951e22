package types

// TemplateEmail is one outbound templated email: the provider template, the
// recipient and the fully populated personalisation map.
type TemplateEmail struct {
	TemplateID      string
	Recipient       string
	Personalisation map[string]string
	// Reference is echoed back by the provider for correlation. The event id
	// is used so redeliveries of the same event carry the same reference.
	Reference string
}

// TemplateSchema is the live field list of a provider template.
type TemplateSchema struct {
	TemplateID string
	Version    int
	Fields     []string
}
