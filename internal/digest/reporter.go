// Package digest summarises the failure queue into one ops chat message per
// run. It only peeks: messages are received, counted and released again.
// Deleting a failed event is an operator action, never this job's.
package digest

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"sandboxnotify/internal/deadletter"
	"sandboxnotify/internal/notifications/chat"
	"sandboxnotify/internal/types"
)

// DefaultMaxMessages caps one digest run.
const DefaultMaxMessages = 50

// sqsBatch is the SQS per-call message limit.
const sqsBatch = 10

// receiveWaitSeconds long-polls each receive; a short poll can return empty
// while messages are queued.
const receiveWaitSeconds = 1

// SQSAPI is the subset of the SQS client the reporter needs. It has no
// DeleteMessage on purpose.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config configures a Reporter.
type Config struct {
	QueueURL    string
	MaxMessages int
	// HoldFor is how long peeked messages stay hidden while the run counts
	// them. They are released as soon as the run ends.
	HoldFor time.Duration
	Region  string
}

// Reporter builds and publishes the failure digest.
type Reporter struct {
	sqs       SQSAPI
	publisher chat.Publisher
	cfg       Config
	logger    types.Logger
	clock     types.Clock
}

// NewReporter creates a Reporter.
func NewReporter(client SQSAPI, publisher chat.Publisher, cfg Config, logger types.Logger, clock types.Clock) *Reporter {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.HoldFor <= 0 {
		cfg.HoldFor = 60 * time.Second
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Reporter{sqs: client, publisher: publisher, cfg: cfg, logger: logger, clock: clock}
}

// failure is one peeked failure queue message.
type failure struct {
	eventID       string
	detailType    string
	firstFailedAt time.Time
	errorCode     string
}

// Summary is the aggregated content of one run.
type Summary struct {
	Total     int
	Peeked    int
	Truncated bool
	ByType    map[string]TypeSummary
}

// TypeSummary aggregates failures of one detail-type.
type TypeSummary struct {
	Count      int
	Oldest     time.Time
	ErrorCodes map[string]int
	SampleIDs  []string
}

// RunDigest peeks the failure queue and publishes one summary message. An
// empty queue publishes nothing.
func (r *Reporter) RunDigest(ctx context.Context) error {
	summary, err := r.Collect(ctx)
	if err != nil {
		return err
	}
	if summary.Peeked == 0 {
		r.logger.Info("failure queue is empty, no digest published", "queue_url", r.cfg.QueueURL)
		return nil
	}

	msg := r.Build(summary)
	if err := r.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publishing failure digest: %w", err)
	}
	r.logger.Info("failure digest published",
		"peeked", summary.Peeked,
		"total", summary.Total,
		"truncated", summary.Truncated,
		"types", len(summary.ByType),
	)
	return nil
}

// Collect peeks up to MaxMessages messages and groups them by detail-type.
func (r *Reporter) Collect(ctx context.Context) (Summary, error) {
	total, err := r.depth(ctx)
	if err != nil {
		return Summary{}, err
	}

	var handles []string
	defer func() {
		// Release with a fresh context so a cancelled run still unhides
		// what it peeked.
		r.release(context.WithoutCancel(ctx), handles)
	}()

	var failures []failure
	seen := make(map[string]struct{})
	for len(failures) < r.cfg.MaxMessages {
		want := min(sqsBatch, r.cfg.MaxMessages-len(failures))
		out, err := r.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(r.cfg.QueueURL),
			MaxNumberOfMessages:         int32(want),
			VisibilityTimeout:           int32(r.cfg.HoldFor / time.Second),
			WaitTimeSeconds:             receiveWaitSeconds,
			MessageAttributeNames:       []string{"All"},
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameSentTimestamp},
		})
		if err != nil {
			return Summary{}, types.NewAppError(types.ErrCodeUpstreamUnavailable, "peeking failure queue", err)
		}
		if len(out.Messages) == 0 {
			break
		}
		for _, m := range out.Messages {
			handles = append(handles, aws.ToString(m.ReceiptHandle))
			id := aws.ToString(m.MessageId)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			failures = append(failures, toFailure(m))
		}
	}

	if total < len(failures) {
		total = len(failures)
	}
	return summarise(failures, total), nil
}

func (r *Reporter) depth(ctx context.Context) (int, error) {
	out, err := r.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(r.cfg.QueueURL),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamUnavailable, "reading failure queue depth", err)
	}
	visible, _ := strconv.Atoi(out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)])
	hidden, _ := strconv.Atoi(out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible)])
	return visible + hidden, nil
}

// release makes peeked messages visible again immediately.
func (r *Reporter) release(ctx context.Context, handles []string) {
	for start := 0; start < len(handles); start += sqsBatch {
		end := min(start+sqsBatch, len(handles))
		entries := make([]sqstypes.ChangeMessageVisibilityBatchRequestEntry, 0, end-start)
		for i, h := range handles[start:end] {
			entries = append(entries, sqstypes.ChangeMessageVisibilityBatchRequestEntry{
				Id:                aws.String(strconv.Itoa(start + i)),
				ReceiptHandle:     aws.String(h),
				VisibilityTimeout: 0,
			})
		}
		out, err := r.sqs.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
			QueueUrl: aws.String(r.cfg.QueueURL),
			Entries:  entries,
		})
		if err != nil {
			r.logger.Warn("failed to release peeked messages, they reappear after the hold expires",
				"error", err, "count", len(entries))
			continue
		}
		if len(out.Failed) > 0 {
			r.logger.Warn("some peeked messages were not released", "failed", len(out.Failed))
		}
	}
}

func toFailure(m sqstypes.Message) failure {
	f := failure{eventID: aws.ToString(m.MessageId)}

	attr := func(name string) string {
		if v, ok := m.MessageAttributes[name]; ok {
			return aws.ToString(v.StringValue)
		}
		return ""
	}
	if v := attr(deadletter.AttrEventID); v != "" {
		f.eventID = v
	}
	f.detailType = attr(deadletter.AttrDetailType)
	f.errorCode = attr(deadletter.AttrErrorCode)
	if t, err := time.Parse(time.RFC3339, attr(deadletter.AttrFirstFailedAt)); err == nil {
		f.firstFailedAt = t.UTC()
	}

	if f.detailType == "" {
		if evt, err := types.ParseEnvelope([]byte(aws.ToString(m.Body))); err == nil {
			f.detailType = string(evt.DetailType)
			f.eventID = evt.EventID
		} else {
			f.detailType = "Unparseable"
		}
	}
	if f.firstFailedAt.IsZero() {
		if ms, err := strconv.ParseInt(m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
			f.firstFailedAt = time.UnixMilli(ms).UTC()
		}
	}
	return f
}

const maxSampleIDs = 3

func summarise(failures []failure, total int) Summary {
	s := Summary{
		Total:     total,
		Peeked:    len(failures),
		Truncated: total > len(failures),
		ByType:    make(map[string]TypeSummary),
	}
	for _, f := range failures {
		ts := s.ByType[f.detailType]
		ts.Count++
		if ts.ErrorCodes == nil {
			ts.ErrorCodes = make(map[string]int)
		}
		if f.errorCode != "" {
			ts.ErrorCodes[f.errorCode]++
		}
		if !f.firstFailedAt.IsZero() && (ts.Oldest.IsZero() || f.firstFailedAt.Before(ts.Oldest)) {
			ts.Oldest = f.firstFailedAt
		}
		if len(ts.SampleIDs) < maxSampleIDs {
			ts.SampleIDs = append(ts.SampleIDs, f.eventID)
		}
		s.ByType[f.detailType] = ts
	}
	return s
}

// Build renders the digest chat message.
func (r *Reporter) Build(s Summary) *chat.Message {
	details := make(map[string]any, len(s.ByType))
	for dt, ts := range s.ByType {
		line := fmt.Sprintf("%d failed", ts.Count)
		if !ts.Oldest.IsZero() {
			line += fmt.Sprintf(", oldest %s", ts.Oldest.Format("2006-01-02 15:04 UTC"))
		}
		if codes := topCodes(ts.ErrorCodes); codes != "" {
			line += "\n" + codes
		}
		details[chat.DisplayName(dt)] = line
	}

	summary := fmt.Sprintf("%d events are in the failure queue.", s.Total)
	if s.Truncated {
		summary += fmt.Sprintf(" Showing the first %d; the remaining %d are not included in this digest.", s.Peeked, s.Total-s.Peeked)
	}

	var links []chat.Link
	if u := consoleURL(r.cfg.Region, r.cfg.QueueURL); u != "" {
		links = append(links, chat.Link{Label: "Open failure queue", URL: u})
	}

	return chat.Build(chat.Alert{
		Type:      chat.AlertTypeFailureDigest,
		AccountID: accountFromQueueURL(r.cfg.QueueURL),
		Priority:  types.PriorityRoutine,
		Details:   details,
		Summary:   summary,
		EventID:   "digest-" + uuid.NewString(),
		Links:     links,
	})
}

func topCodes(codes map[string]int) string {
	if len(codes) == 0 {
		return ""
	}
	keys := make([]string, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if codes[keys[i]] != codes[keys[j]] {
			return codes[keys[i]] > codes[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s x%d", k, codes[k])
	}
	return strings.Join(parts, ", ")
}

// accountFromQueueURL extracts the account id from
// https://sqs.{region}.amazonaws.com/{account}/{name}.
func accountFromQueueURL(queueURL string) string {
	u, err := url.Parse(queueURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 2 {
		return parts[0]
	}
	return ""
}

func consoleURL(region, queueURL string) string {
	if region == "" || queueURL == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.console.aws.amazon.com/sqs/v3/home?region=%s#/queues/%s",
		region, region, url.QueryEscape(queueURL))
}
