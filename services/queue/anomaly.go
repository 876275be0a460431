// Package queuesvc publishes checkout anomalies for manual follow-up.
package queuesvc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/checkout"
)

// SQSAPI is the part of the SQS client the reporter needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSReporter sends anomalies as JSON messages to the reconciliation queue. A failed send is
// logged with the anomaly so that nothing is lost silently.
type SQSReporter struct {
	client   SQSAPI
	queueURL string
	logger   core.Logger
}

var _ checkout.AnomalyReporter = (*SQSReporter)(nil) // interface compliance check

func NewSQSReporter(client SQSAPI, queueURL string, logger core.Logger) *SQSReporter {
	return &SQSReporter{client: client, queueURL: queueURL, logger: logger}
}

func (r *SQSReporter) Report(ctx context.Context, a checkout.Anomaly) {
	if err := r.send(ctx, a); err != nil {
		r.logger.Error(fmt.Sprintf("publishing %s anomaly of event %s: %v", a.Kind, a.EventID, err), err, anomalyFields(a))
	}
}

func (r *SQSReporter) send(ctx context.Context, a checkout.Anomaly) error {
	body, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encoding anomaly")
	}
	_, err = r.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(r.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(string(a.Kind))},
		},
	})
	return errors.Wrap(err, "sending message")
}

// LogReporter only logs anomalies. It is used when no queue is configured.
type LogReporter struct {
	logger core.Logger
}

var _ checkout.AnomalyReporter = (*LogReporter)(nil) // interface compliance check

func NewLogReporter(logger core.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(_ context.Context, a checkout.Anomaly) {
	r.logger.Warn(fmt.Sprintf("checkout anomaly %s for event %s", a.Kind, a.EventID), anomalyFields(a))
}

func anomalyFields(a checkout.Anomaly) map[string]interface{} {
	return map[string]interface{}{
		"kind":           string(a.Kind),
		"event_id":       a.EventID,
		"transaction_id": a.TransactionID,
		"purchase_id":    a.PurchaseID,
		"email":          a.Email,
		"detail":         a.Detail,
	}
}

// NewReporter returns the SQS reporter when a queue URL is configured, else the log reporter.
func NewReporter(ctx context.Context, conf *core.Config, logger core.Logger) (checkout.AnomalyReporter, error) {
	if conf.AWS.AnomalyQueueURL == "" {
		return NewLogReporter(logger), nil
	}
	awsConf, err := config.LoadDefaultConfig(ctx, config.WithRegion(conf.AWS.Region))
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS config")
	}
	return NewSQSReporter(sqs.NewFromConfig(awsConf), conf.AWS.AnomalyQueueURL, logger), nil
}
