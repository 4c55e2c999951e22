package email

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"sandboxnotify/internal/types"
)

// SchemaSource returns the live field list of a provider template.
type SchemaSource interface {
	GetTemplateSchema(ctx context.Context, templateID string) (*types.TemplateSchema, error)
}

// TemplateValidationResult is the diff between one contract and the live
// template.
type TemplateValidationResult struct {
	EventType       types.DetailType
	TemplateIDRef   string
	MissingRequired []string
	MissingOptional []string
	// Unexpected lists live template fields the contract does not mention.
	Unexpected     []string
	CurrentVersion int
	// PreviousVersion is the contract's last known version, zero if unknown.
	PreviousVersion int
	FetchError      error
}

// VersionChanged reports whether the live version differs from the last
// reviewed one.
func (r TemplateValidationResult) VersionChanged() bool {
	return r.PreviousVersion != 0 && r.FetchError == nil && r.CurrentVersion != r.PreviousVersion
}

// Fatal reports whether this result blocks startup.
func (r TemplateValidationResult) Fatal() bool {
	return r.FetchError != nil || len(r.MissingRequired) > 0
}

// ValidationReport is the outcome of one startup check.
type ValidationReport struct {
	Results []TemplateValidationResult
	// Uncovered lists email-routed event types with no contract at all.
	Uncovered []types.DetailType
	// Overridden is set when fatal findings were downgraded to warnings.
	Overridden bool
}

// Fatal reports whether any finding blocks startup.
func (r ValidationReport) Fatal() bool {
	if len(r.Uncovered) > 0 {
		return true
	}
	for _, res := range r.Results {
		if res.Fatal() {
			return true
		}
	}
	return false
}

// Summary renders the fatal findings on one line.
func (r ValidationReport) Summary() string {
	var parts []string
	for _, res := range r.Results {
		switch {
		case res.FetchError != nil:
			parts = append(parts, fmt.Sprintf("%s: fetch failed: %v", res.EventType, res.FetchError))
		case len(res.MissingRequired) > 0:
			parts = append(parts, fmt.Sprintf("%s: missing required %s", res.EventType, strings.Join(res.MissingRequired, ",")))
		}
	}
	for _, dt := range r.Uncovered {
		parts = append(parts, fmt.Sprintf("%s: no template contract", dt))
	}
	return strings.Join(parts, "; ")
}

// CheckerConfig configures a Checker.
type CheckerConfig struct {
	// AllowMismatch downgrades fatal findings to critical log lines.
	AllowMismatch bool
	// RequiredEventTypes must each have a contract.
	RequiredEventTypes []types.DetailType
	// Concurrency bounds parallel schema fetches. Defaults to 4.
	Concurrency int
}

// Checker compares template contracts with the provider's live templates.
// It runs once per process before any event is accepted.
type Checker struct {
	source SchemaSource
	logger types.Logger
	cfg    CheckerConfig
}

// NewChecker creates a Checker.
func NewChecker(source SchemaSource, logger types.Logger, cfg CheckerConfig) *Checker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Checker{source: source, logger: logger, cfg: cfg}
}

// ValidateTemplates fetches every template's schema and diffs it against the
// contract. The returned error is non-nil when the report is fatal and the
// override is off; callers must not start consuming events in that case.
func (c *Checker) ValidateTemplates(ctx context.Context, configs []TemplateConfig) (ValidationReport, error) {
	results := make([]TemplateValidationResult, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, tc := range configs {
		g.Go(func() error {
			results[i] = c.check(gctx, tc)
			return nil
		})
	}
	_ = g.Wait()

	report := ValidationReport{Results: results}
	if len(c.cfg.RequiredEventTypes) > 0 {
		have := make(map[types.DetailType]struct{}, len(configs))
		for _, tc := range configs {
			have[tc.EventType] = struct{}{}
		}
		for _, dt := range c.cfg.RequiredEventTypes {
			if _, ok := have[dt]; !ok {
				report.Uncovered = append(report.Uncovered, dt)
			}
		}
	}

	for _, res := range report.Results {
		c.logResult(res)
	}

	if !report.Fatal() {
		c.logger.Info("template contracts verified", "templates", len(configs))
		return report, nil
	}

	if c.cfg.AllowMismatch {
		report.Overridden = true
		c.logger.Error("CRITICAL: template contract mismatch overridden, affected emails will fail to send",
			"findings", report.Summary(),
		)
		return report, nil
	}

	return report, types.NewAppErrorWithDetails(types.ErrCodeContractMissingRequired,
		"template contract check failed", nil, map[string]any{"findings": report.Summary()})
}

func (c *Checker) check(ctx context.Context, tc TemplateConfig) TemplateValidationResult {
	res := TemplateValidationResult{
		EventType:       tc.EventType,
		TemplateIDRef:   tc.TemplateIDRef,
		PreviousVersion: tc.LastKnownVersion,
	}

	schema, err := c.source.GetTemplateSchema(ctx, tc.TemplateIDRef)
	if err != nil {
		res.FetchError = err
		return res
	}
	res.CurrentVersion = schema.Version

	live := make(map[string]struct{}, len(schema.Fields))
	for _, f := range schema.Fields {
		live[f] = struct{}{}
	}
	res.MissingRequired = missingFrom(live, tc.RequiredFields)
	res.MissingOptional = missingFrom(live, tc.OptionalFields)

	known := make(map[string]struct{}, len(tc.RequiredFields)+len(tc.OptionalFields))
	for _, f := range tc.Fields() {
		known[f] = struct{}{}
	}
	res.Unexpected = missingFrom(known, schema.Fields)
	return res
}

func (c *Checker) logResult(res TemplateValidationResult) {
	log := c.logger.With("event_type", res.EventType, "template_id", res.TemplateIDRef)

	if res.FetchError != nil {
		log.Error("template schema fetch failed", "error", res.FetchError)
		return
	}
	if len(res.MissingRequired) > 0 {
		log.Error("template is missing required fields", "fields", res.MissingRequired)
	}
	if len(res.MissingOptional) > 0 {
		log.Warn("template is missing optional fields", "fields", res.MissingOptional)
	}
	if len(res.Unexpected) > 0 {
		log.Warn("template has fields not in contract", "fields", res.Unexpected)
	}
	if res.VersionChanged() {
		log.Info("template version changed",
			"previous_version", res.PreviousVersion,
			"current_version", res.CurrentVersion,
		)
	}
}

// missingFrom returns the members of want absent from have, sorted.
func missingFrom(have map[string]struct{}, want []string) []string {
	var out []string
	for _, f := range want {
		if _, ok := have[f]; !ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
