package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"sandboxnotify/internal/types"
)

// Publisher delivers a chat message to the ops channel.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// SNSAPI abstracts the SNS Publish operation for testability.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes chat messages to the chat-delivery topic. The topic's
// subscriber renders the payload into the ops channel.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
	logger   types.Logger
}

// NewSNSPublisher creates a publisher targeting topicARN.
func NewSNSPublisher(client SNSAPI, topicARN string, logger types.Logger) *SNSPublisher {
	return &SNSPublisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
	}
}

// Publish validates msg, serializes it and publishes it to the topic. The
// attachment color is copied into a Priority message attribute so
// subscriptions can filter critical alerts.
func (p *SNSPublisher) Publish(ctx context.Context, msg *Message) error {
	if err := Validate(msg); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sns publisher: failed to marshal message: %w", err)
	}

	priority := string(types.PriorityRoutine)
	if msg.Attachments[0].Color == ColorCritical {
		priority = string(types.PriorityCritical)
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Priority": {
				DataType:    aws.String("String"),
				StringValue: aws.String(priority),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamChat,
			fmt.Sprintf("failed to publish chat message to %s", p.topicARN), err)
	}

	p.logger.Info("chat message published",
		"topic_arn", p.topicARN,
		"priority", priority,
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}

var _ Publisher = (*SNSPublisher)(nil)
