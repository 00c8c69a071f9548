// Package notify publishes the one completion message a job produces.
//
// The payload is built once from the job and its result and encoded once;
// every channel (event bus, topic, webhook) receives the same JSON document.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// Notification is the completion payload.
type Notification struct {
	JobID         string          `json:"job_id"`
	Status        batch.JobStatus `json:"status"`
	Message       string          `json:"message"`
	InputBucket   string          `json:"input_bucket"`
	InputPrefix   string          `json:"input_prefix"`
	OutputBucket  string          `json:"output_bucket"`
	OutputPrefix  string          `json:"output_prefix"`
	ReferenceFile string          `json:"reference_file"`
	TotalFiles    int             `json:"total_files"`
	SuccessCount  int             `json:"success_count"`
	FailureCount  int             `json:"failure_count"`
	SuccessFiles  []string        `json:"success_files"`
	FailedFiles   []string        `json:"failed_files"`
	Timestamp     string          `json:"timestamp"`
}

// Build derives the notification for a finished job.
func Build(job *batch.Job, result *batch.Result, now time.Time) Notification {
	t := result.Totals()
	return Notification{
		JobID:         job.ID,
		Status:        result.Status(),
		Message:       result.Message(),
		InputBucket:   job.InputBucket,
		InputPrefix:   job.InputPrefix,
		OutputBucket:  job.OutputBucket,
		OutputPrefix:  job.OutputPrefix,
		ReferenceFile: job.Reference.Key,
		TotalFiles:    t.Total,
		SuccessCount:  t.Success,
		FailureCount:  t.Failure,
		SuccessFiles:  result.SucceededKeys(),
		FailedFiles:   result.FailedKeys(),
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
}

// Notifier delivers an encoded notification to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n Notification, body []byte) error
}

// Publisher encodes a notification and fans it out to every channel. A
// failing channel does not stop the others.
type Publisher struct {
	channels []Notifier
}

// NewPublisher returns a publisher over the given channels. Nil channels are
// skipped so callers can pass optional ones unconditionally.
func NewPublisher(channels ...Notifier) *Publisher {
	p := &Publisher{}
	for _, c := range channels {
		if c != nil {
			p.channels = append(p.channels, c)
		}
	}
	return p
}

// Channels returns the names of the configured channels.
func (p *Publisher) Channels() []string {
	names := make([]string, 0, len(p.channels))
	for _, c := range p.channels {
		names = append(names, c.Name())
	}
	return names
}

// Publish sends n to all channels and joins their errors.
func (p *Publisher) Publish(ctx context.Context, n Notification) error {
	if len(p.channels) == 0 {
		log.Warn().Str("jobId", n.JobID).Msg("No notification channels configured")
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range p.channels {
		if err := c.Send(ctx, n, body); err != nil {
			log.Error().Err(err).Str("jobId", n.JobID).Str("channel", c.Name()).Msg("Notification delivery failed")
			errs = append(errs, err)
			continue
		}
		log.Info().Str("jobId", n.JobID).Str("channel", c.Name()).Str("status", string(n.Status)).Msg("Notification sent")
	}
	return errors.Join(errs...)
}
