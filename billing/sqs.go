package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSDispatcher sends meter events to an SQS queue instead of calling the
// ingestion API directly. An ingestion worker on the other side of the queue
// owns delivery; this keeps the dispatch path local and cheap.
type SQSDispatcher struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSDispatcher(ctx context.Context, region, queueURL string) (*SQSDispatcher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSDispatcher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

func NewSQSDispatcherWithConfig(cfg aws.Config, queueURL string) *SQSDispatcher {
	return &SQSDispatcher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, event MeterEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal meter event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"EventName": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.EventName),
			},
			"CustomerID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Payload.CustomerID),
			},
		},
	}
	if event.Payload.TokenType != "" {
		input.MessageAttributes["TokenType"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(string(event.Payload.TokenType)),
		}
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send meter event: %w", err)
	}

	return nil
}
