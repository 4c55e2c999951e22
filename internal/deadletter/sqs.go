package deadletter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"sandboxnotify/internal/types"
)

// Failure queue message attribute names.
const (
	AttrFirstFailedAt = "firstFailedAt"
	AttrAttemptCount  = "attemptCount"
	AttrEventID       = "eventId"
	AttrDetailType    = "detailType"
	AttrErrorCode     = "errorCode"
	AttrLastError     = "lastError"
)

const maxAttrErrorLen = 1024

// SQSAPI is the subset of the SQS client the sink needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink writes records to the failure queue. The message body is the
// original envelope; metadata travels as message attributes.
type SQSSink struct {
	client   SQSAPI
	queueURL string
}

// NewSQSSink creates a sink for queueURL.
func NewSQSSink(client SQSAPI, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

func (s *SQSSink) DeadLetter(ctx context.Context, rec Record) error {
	attrs := map[string]sqstypes.MessageAttributeValue{
		AttrFirstFailedAt: stringAttr(rec.FirstFailedAt.Format(time.RFC3339)),
		AttrAttemptCount: {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.Itoa(rec.AttemptCount)),
		},
	}
	if rec.EventID != "" {
		attrs[AttrEventID] = stringAttr(rec.EventID)
	}
	if rec.DetailType != "" {
		attrs[AttrDetailType] = stringAttr(rec.DetailType)
	}
	if rec.ErrorCode != "" {
		attrs[AttrErrorCode] = stringAttr(string(rec.ErrorCode))
	}
	if rec.LastError != "" {
		attrs[AttrLastError] = stringAttr(clipUTF8(rec.LastError, maxAttrErrorLen))
	}

	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(rec.Body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("failed to send to failure queue %s", s.queueURL), err)
	}
	return nil
}

func stringAttr(v string) sqstypes.MessageAttributeValue {
	return sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

// MemorySink keeps records in memory. Used in local mode.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemorySink) DeadLetter(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of the stored records.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// HandleSQSEvent is the Lambda entry point for the event queue. Messages
// that should be retried are reported as batch item failures; everything
// else, including dead-lettered messages, is acknowledged.
func (s *Supervisor) HandleSQSEvent(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, msg := range event.Records {
		d := Delivery{
			Body:           []byte(msg.Body),
			Attempt:        attrInt(msg.Attributes, "ApproximateReceiveCount", 1),
			FirstAttemptAt: attrMillis(msg.Attributes, "ApproximateFirstReceiveTimestamp"),
			EnqueuedAt:     attrMillis(msg.Attributes, "SentTimestamp"),
		}
		if outcome, _ := s.Process(ctx, d); outcome == OutcomeRetrying {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: msg.MessageId,
			})
		}
	}
	return resp, nil
}

// clipUTF8 returns at most n bytes of s without splitting a character.
// Invalid sequences are replaced, since SQS rejects them in attributes.
func clipUTF8(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func attrInt(attrs map[string]string, key string, def int) int {
	if v, err := strconv.Atoi(attrs[key]); err == nil && v > 0 {
		return v
	}
	return def
}

func attrMillis(attrs map[string]string, key string) time.Time {
	ms, err := strconv.ParseInt(attrs[key], 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
