// Package deadletter hands off reprocess jobs that exhausted their attempts so
// an operator can inspect and replay them.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/models"
)

// Publisher receives jobs that will not be retried again.
type Publisher interface {
	Publish(ctx context.Context, job *models.Job, reason string) error
}

// Message is the body sent to the dead-letter queue.
type Message struct {
	JobID       int64        `json:"job_id"`
	JobType     string       `json:"job_type"`
	EventID     string       `json:"event_id,omitempty"`
	Attempts    int          `json:"attempts"`
	Reason      string       `json:"reason"`
	Payload     models.JSONB `json:"payload"`
	ExhaustedAt time.Time    `json:"exhausted_at"`
}

func newMessage(job *models.Job, reason string) Message {
	return Message{
		JobID:       job.ID,
		JobType:     job.JobType,
		EventID:     job.Payload.String("event_id"),
		Attempts:    job.Attempts,
		Reason:      reason,
		Payload:     job.Payload,
		ExhaustedAt: time.Now().UTC(),
	}
}

// SQSAPI is the subset of the SQS client used by SQSPublisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends dead-lettered jobs to an SQS queue.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
	logger   *zap.Logger
}

// NewSQSPublisher wraps an existing SQS client.
func NewSQSPublisher(client SQSAPI, queueURL string, logger *zap.Logger) (*SQSPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("sqs client is required")
	}
	if queueURL == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQSPublisher{client: client, queueURL: queueURL, logger: logger}, nil
}

// NewSQSPublisherFromEnv builds an SQS client from the default AWS credential chain.
func NewSQSPublisherFromEnv(ctx context.Context, queueURL string, logger *zap.Logger) (*SQSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSPublisher(sqs.NewFromConfig(cfg), queueURL, logger)
}

func (p *SQSPublisher) Publish(ctx context.Context, job *models.Job, reason string) error {
	msg := newMessage(job, reason)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dead-letter message: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"JobType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.JobType),
		},
	}
	if msg.EventID != "" {
		attrs["EventID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.EventID),
		}
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("send dead-letter message: %w", err)
	}

	p.logger.Warn("job dead-lettered",
		zap.Int64("job_id", job.ID),
		zap.String("event_id", msg.EventID),
		zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// LogPublisher records dead-lettered jobs in the service log only.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, job *models.Job, reason string) error {
	msg := newMessage(job, reason)
	p.logger.Error("job dead-lettered",
		zap.Int64("job_id", msg.JobID),
		zap.String("job_type", msg.JobType),
		zap.String("event_id", msg.EventID),
		zap.Int("attempts", msg.Attempts),
		zap.String("reason", msg.Reason))
	return nil
}
