// Package email owns the user-facing email side of the pipeline: the
// template contracts (which provider template serves which event and the
// personalisation fields it takes), the cold-start contract check against
// the provider, and personalisation population.
package email

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"sandboxnotify/internal/types"
)

//go:embed templates.yaml
var defaultContracts []byte

// TemplateConfig is the contract for one outbound email type.
type TemplateConfig struct {
	EventType      types.DetailType `yaml:"event_type" validate:"required"`
	TemplateIDRef  string           `yaml:"template_id" validate:"required"`
	RequiredFields []string         `yaml:"required_fields" validate:"dive,required"`
	OptionalFields []string         `yaml:"optional_fields" validate:"dive,required"`
	// LastKnownVersion is the template version the contract was last
	// reviewed against. Zero means unknown.
	LastKnownVersion int `yaml:"last_known_version" validate:"gte=0"`
}

// Fields returns required then optional field names.
func (c TemplateConfig) Fields() []string {
	out := make([]string, 0, len(c.RequiredFields)+len(c.OptionalFields))
	out = append(out, c.RequiredFields...)
	return append(out, c.OptionalFields...)
}

type contractFile struct {
	Templates []TemplateConfig `yaml:"templates" validate:"required,min=1,dive"`
}

// Contracts is the immutable set of template contracts keyed by event type.
type Contracts struct {
	list   []TemplateConfig
	byType map[types.DetailType]TemplateConfig
}

// LoadContracts reads the contract file at path, or the embedded default
// when path is empty.
func LoadContracts(path string) (*Contracts, error) {
	data := defaultContracts
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeContractInvalidConfig,
				fmt.Sprintf("reading template contracts %s", path), err)
		}
		data = raw
	}
	return ParseContracts(data)
}

// ParseContracts decodes and validates a YAML contract document.
// ${VAR} and ${VAR:-default} references are expanded from the environment
// first, so template ids can differ per deployment.
func ParseContracts(data []byte) (*Contracts, error) {
	expanded := os.Expand(string(data), expandWithDefault)

	var file contractFile
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, types.NewAppError(types.ErrCodeContractInvalidConfig, "decoding template contracts", err)
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, types.NewAppError(types.ErrCodeContractInvalidConfig, "invalid template contracts", err)
	}

	c := &Contracts{
		list:   file.Templates,
		byType: make(map[types.DetailType]TemplateConfig, len(file.Templates)),
	}
	for _, tc := range file.Templates {
		if _, dup := c.byType[tc.EventType]; dup {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeContractInvalidConfig,
				"duplicate template contract", nil, map[string]any{"event_type": tc.EventType})
		}
		if overlap := intersect(tc.RequiredFields, tc.OptionalFields); len(overlap) > 0 {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeContractInvalidConfig,
				"field listed as both required and optional", nil,
				map[string]any{"event_type": tc.EventType, "fields": overlap})
		}
		c.byType[tc.EventType] = tc
	}
	return c, nil
}

// For returns the contract for an event type.
func (c *Contracts) For(detailType types.DetailType) (TemplateConfig, bool) {
	tc, ok := c.byType[detailType]
	return tc, ok
}

// All returns the contracts in file order.
func (c *Contracts) All() []TemplateConfig {
	return append([]TemplateConfig(nil), c.list...)
}

// Uncovered returns the event types in want that have no contract.
func (c *Contracts) Uncovered(want []types.DetailType) []types.DetailType {
	var out []types.DetailType
	for _, dt := range want {
		if _, ok := c.byType[dt]; !ok {
			out = append(out, dt)
		}
	}
	return out
}

func expandWithDefault(name string) string {
	key, def, hasDefault := strings.Cut(name, ":-")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range b {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
