package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// maxSubjectLen is the SNS limit on email subjects.
const maxSubjectLen = 100

// SNSAPI is the subset of *sns.Client used here.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes the notification to a topic. Subscribers can filter
// on the status message attribute.
type SNSNotifier struct {
	client   SNSAPI
	topicARN string
}

func NewSNSNotifier(client SNSAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (s *SNSNotifier) Name() string { return "sns" }

func (s *SNSNotifier) Send(ctx context.Context, n Notification, body []byte) error {
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(Subject(n)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"status": {DataType: aws.String("String"), StringValue: aws.String(string(n.Status))},
			"job_id": {DataType: aws.String("String"), StringValue: aws.String(n.JobID)},
		},
	})
	if err != nil {
		return fmt.Errorf("SNS Publish: %w", err)
	}
	return nil
}

// Subject is the one-line email subject for n.
func Subject(n Notification) string {
	subject := fmt.Sprintf("Untrunc batch %s: %s (%d/%d repaired)", n.Status, n.JobID, n.SuccessCount, n.TotalFiles)
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}
	return subject
}
