package chat

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"sandboxnotify/internal/types"
)

// maxFieldsPerSection is the renderer's limit on fields in one section block.
const maxFieldsPerSection = 10

// maxButtons bounds the actions block.
const maxButtons = 5

// Alert is everything Build needs to render one chat message.
type Alert struct {
	Type      string
	AccountID string
	Priority  types.Priority
	// Details render as key/value fields in key order.
	Details map[string]any
	// Summary is optional free text shown above the fields.
	Summary string
	EventID string
	Links   []Link
}

// displayNames are the human-readable titles for known alert types. Types not
// listed here are shown verbatim.
var displayNames = map[string]string{
	string(types.EventLeaseRequested):                  "Lease Requested",
	string(types.EventLeaseApproved):                   "Lease Approved",
	string(types.EventLeaseDenied):                     "Lease Denied",
	string(types.EventLeaseTerminated):                 "Lease Terminated",
	string(types.EventLeaseFrozen):                     "Lease Frozen",
	string(types.EventLeaseUnfrozen):                   "Lease Unfrozen",
	string(types.EventLeaseExpired):                    "Lease Expired",
	string(types.EventLeaseBudgetExceeded):             "Lease Budget Exceeded",
	string(types.EventLeaseBudgetThresholdAlert):       "Lease Budget Threshold Reached",
	string(types.EventLeaseDurationThresholdAlert):     "Lease Duration Threshold Reached",
	string(types.EventLeaseFreezingThresholdAlert):     "Lease Freezing Threshold Reached",
	string(types.EventAccountQuarantined):              "Account Quarantined",
	string(types.EventAccountCleanupFailure):           "Account Cleanup Failure",
	string(types.EventAccountCleanupSucceeded):         "Account Cleanup Succeeded",
	string(types.EventAccountDriftDetected):            "Account Drift Detected",
	string(types.EventCleanAccountRequest):             "Clean Account Request",
	string(types.EventGroupCostReportGenerated):        "Group Cost Report Generated",
	string(types.EventGroupCostReportGeneratedFailure): "Group Cost Report Generation Failed",
	AlertTypeFailureDigest:                             "Failed Notification Digest",
}

// AlertTypeFailureDigest is the alert type of the daily failure-queue digest.
const AlertTypeFailureDigest = "FailureDigest"

// DisplayName returns the human-readable title for an alert type, or the raw
// type string if it is not known.
func DisplayName(alertType string) string {
	if name, ok := displayNames[alertType]; ok {
		return name
	}
	return alertType
}

// Title renders "{glyph} {LABEL}: {DisplayName}".
func Title(priority types.Priority, alertType string) string {
	return fmt.Sprintf("%s %s: %s", glyph(priority), label(priority), DisplayName(alertType))
}

// Color returns the attachment color for a priority. Anything that is not
// critical renders as routine.
func Color(priority types.Priority) string {
	if priority == types.PriorityCritical {
		return ColorCritical
	}
	return ColorRoutine
}

func glyph(priority types.Priority) string {
	if priority == types.PriorityCritical {
		return "🔴"
	}
	return "🟡"
}

func label(priority types.Priority) string {
	if priority == types.PriorityCritical {
		return "CRITICAL"
	}
	return "ROUTINE"
}

// Build renders an alert as a chat message. The output depends only on the
// input, so rebuilding the same event yields identical content.
func Build(a Alert) *Message {
	title := safeText(Title(a.Priority, a.Type), MaxHeaderLength)

	blocks := []Block{
		{
			Type: BlockHeader,
			Text: &TextObject{Type: TextPlain, Text: title},
		},
	}

	if strings.TrimSpace(a.Summary) != "" {
		blocks = append(blocks, Block{
			Type: BlockSection,
			Text: &TextObject{Type: TextMarkdown, Text: safeText(a.Summary, MaxTextLength)},
		})
	}

	fields := []*TextObject{field("Account", a.AccountID), field("Priority", label(a.Priority))}
	for _, key := range sortedKeys(a.Details) {
		fields = append(fields, field(Humanize(key), a.Details[key]))
	}
	for start := 0; start < len(fields); start += maxFieldsPerSection {
		end := start + maxFieldsPerSection
		if end > len(fields) {
			end = len(fields)
		}
		blocks = append(blocks, Block{Type: BlockSection, Fields: fields[start:end]})
	}

	blocks = append(blocks, Block{Type: BlockDivider}, contextBlock(a.EventID))

	if actions := BuildActionsBlock(a.Links); actions != nil {
		blocks = append(blocks, *actions)
	}

	fallback := fmt.Sprintf("%s: %s (account %s)", label(a.Priority), DisplayName(a.Type), FormatFieldValue(a.AccountID))

	return &Message{
		Text: safeText(fallback, MaxTextLength),
		Attachments: []Attachment{
			{
				Color:  Color(a.Priority),
				Blocks: blocks,
			},
		},
	}
}

// BuildActionsBlock returns an actions block holding a button for each link
// whose URL is an absolute HTTPS URL, or nil if none qualify. Invalid links
// are dropped silently.
func BuildActionsBlock(links []Link) *Block {
	var elements []Element
	for _, l := range links {
		if len(elements) == maxButtons {
			break
		}
		link := strings.TrimSpace(l.URL)
		if !isHTTPS(link) {
			continue
		}
		text := l.Label
		if strings.TrimSpace(text) == "" {
			text = "Open"
		}
		elements = append(elements, Element{
			Type:     ElementButton,
			Text:     safeText(text, MaxButtonLength),
			URL:      link,
			ActionID: fmt.Sprintf("action_%d", len(elements)),
		})
	}
	if len(elements) == 0 {
		return nil
	}
	return &Block{Type: BlockActions, Elements: elements}
}

func contextBlock(eventID string) Block {
	return Block{
		Type: BlockContext,
		Elements: []Element{
			{
				Type: TextMarkdown,
				Text: safeText(fmt.Sprintf("Event ID: %s | Format: %s", FormatFieldValue(eventID), FormatVersion), MaxTextLength),
			},
		},
	}
}

func field(name string, value any) *TextObject {
	return &TextObject{
		Type: TextMarkdown,
		Text: safeText(fmt.Sprintf("*%s*\n%s", name, FormatFieldValue(value)), MaxTextLength),
	}
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Scheme == "https" && u.Host != ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
