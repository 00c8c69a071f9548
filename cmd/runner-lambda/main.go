// Package main runs small repair jobs on Lambda.
//
// The dispatcher's lambda backend invokes this function asynchronously with
// the job as the payload; the Step Functions backend passes the same JSON
// as task input. Work happens under /tmp, so the function's ephemeral
// storage bounds the largest batch it can take.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/config"
	"github.com/fpang/untrunc-batch/internal/lambdaboot"
	"github.com/fpang/untrunc-batch/internal/logging"
)

var coldStart = true

type jobRunner interface {
	Run(ctx context.Context, job *batch.Job) (*batch.Result, error)
}

// runResult is returned to the caller; Step Functions branches on status.
type runResult struct {
	JobID        string          `json:"job_id"`
	Status       batch.JobStatus `json:"status"`
	Message      string          `json:"message"`
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
}

func main() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	clients := lambdaboot.InitAWS()
	objects := lambdaboot.InitObjectStore(clients.Config, cfg.ObjectStore)
	r, binary := lambdaboot.InitRunner(clients.Config, cfg, objects)

	lambdaboot.StartupLog("runner-lambda", initStart).
		DynamoTable("jobs", cfg.JobsTable).
		EventBus("notify", cfg.Notify.EventBusName).
		Topic("notify", cfg.Notify.TopicARN).
		Feature("webhook", cfg.Notify.WebhookURL != "").
		Feature("report", cfg.Runner.WriteReport).
		Feature("quarantine", cfg.Runner.Quarantine).
		Config("untrunc", binary).
		Config("workDir", cfg.Runner.WorkDir).
		Log()

	lambda.Start(handler(r))
}

func handler(r jobRunner) func(context.Context, batch.Job) (runResult, error) {
	return func(ctx context.Context, job batch.Job) (runResult, error) {
		if coldStart {
			coldStart = false
			log.Info().Str("function", "runner-lambda").Msg("Cold start, first invocation")
		}
		if job.ID == "" || job.Reference.Key == "" || job.InputBucket == "" || job.OutputBucket == "" {
			return runResult{}, fmt.Errorf("invalid job payload: job_id, reference, input_bucket and output_bucket are required")
		}

		result, err := r.Run(ctx, &job)
		if err != nil {
			return runResult{JobID: job.ID}, fmt.Errorf("job %s interrupted: %w", job.ID, err)
		}
		t := result.Totals()
		return runResult{
			JobID:        job.ID,
			Status:       result.Status(),
			Message:      result.Message(),
			SuccessCount: t.Success,
			FailureCount: t.Failure,
		}, nil
	}
}
