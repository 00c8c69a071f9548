package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

const (
	// EventSource is the EventBridge source of completion events.
	EventSource = "untrunc-batch"
	// EventDetailType is the EventBridge detail-type of completion events.
	EventDetailType = "UntruncBatchJobCompleted"
)

// EventBridgeAPI is the subset of *eventbridge.Client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeNotifier puts the notification on an event bus.
type EventBridgeNotifier struct {
	client  EventBridgeAPI
	busName string
}

// NewEventBridgeNotifier targets busName ("" means the default bus).
func NewEventBridgeNotifier(client EventBridgeAPI, busName string) *EventBridgeNotifier {
	return &EventBridgeNotifier{client: client, busName: busName}
}

func (e *EventBridgeNotifier) Name() string { return "eventbridge" }

func (e *EventBridgeNotifier) Send(ctx context.Context, n Notification, body []byte) error {
	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(EventSource),
		DetailType: aws.String(EventDetailType),
		Detail:     aws.String(string(body)),
	}
	if e.busName != "" {
		entry.EventBusName = aws.String(e.busName)
	}

	out, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}
	if out.FailedEntryCount > 0 {
		for i, entry := range out.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}
	return nil
}
