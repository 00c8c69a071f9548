// Package main provides the ready-marker trigger.
//
// Uploading an object named _READY into a prefix declares the prefix
// complete. S3 invokes this Lambda on ObjectCreated, and it submits the
// marker's prefix through the same dispatcher as POST /submit-batch, with
// the marker's bucket as the input bucket.
package main

import (
	"context"
	"errors"
	"net/url"
	"path"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/config"
	"github.com/fpang/untrunc-batch/internal/dispatch"
	"github.com/fpang/untrunc-batch/internal/lambdaboot"
	"github.com/fpang/untrunc-batch/internal/logging"
	"github.com/fpang/untrunc-batch/internal/metrics"
)

// ReadyMarker is the object name that triggers a submission.
const ReadyMarker = "_READY"

type submitter interface {
	Submit(ctx context.Context, req dispatch.Request) (*dispatch.Submission, error)
}

type trigger struct {
	submitter submitter
}

// triggerResult summarises one S3 event.
type triggerResult struct {
	Submitted []string `json:"submitted"`
	Rejected  []string `json:"rejected,omitempty"`
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
	queue := lambdaboot.InitQueue(clients.Config, cfg.Queue)

	var recorder dispatch.Recorder
	if st := lambdaboot.InitDynamoOptional(clients.Config, cfg.JobsTable); st != nil {
		recorder = st
	}
	t := &trigger{submitter: dispatch.New(objects, queue, recorder, dispatch.Defaults{OutputBucket: cfg.OutputBucket})}

	lambdaboot.StartupLog("trigger-lambda", initStart).
		Bucket("defaultOutput", cfg.OutputBucket).
		DynamoTable("jobs", cfg.JobsTable).
		Queue(queue.Name(), cfg.Queue.Backend).
		Config("readyMarker", ReadyMarker).
		Log()

	lambda.Start(t.handle)
}

// handle submits the prefix of every ready marker in the event. Rejected
// prefixes are logged and skipped; any other failure is returned so that
// Lambda retries the invocation.
func (t *trigger) handle(ctx context.Context, event events.S3Event) (triggerResult, error) {
	var result triggerResult
	var errs []error

	for _, rec := range event.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			key = rec.S3.Object.Key
		}
		if path.Base(key) != ReadyMarker {
			log.Debug().Str("key", key).Msg("Ignoring non-marker object")
			continue
		}
		bucket := rec.S3.Bucket.Name
		prefix := path.Dir(key)
		if prefix == "." {
			prefix = ""
		}

		logger := log.With().Str("bucket", bucket).Str("inputPrefix", prefix).Logger()
		sub, err := t.submitter.Submit(ctx, dispatch.Request{InputBucket: bucket, InputPrefix: prefix})
		switch {
		case err == nil:
			logger.Info().Str("jobId", sub.JobID).Int("fileCount", sub.FileCount).Msg("Ready prefix submitted")
			result.Submitted = append(result.Submitted, sub.JobID)
			metrics.New(metrics.Namespace).
				Dimension("Backend", sub.Backend).
				Count(metrics.JobsSubmitted).
				Property("jobId", sub.JobID).
				Property("trigger", "ready-marker").
				Flush()
		case batch.KindOf(err).IsInput():
			logger.Warn().Err(err).Msg("Ready prefix rejected")
			result.Rejected = append(result.Rejected, prefix)
		default:
			logger.Error().Err(err).Msg("Failed to submit ready prefix")
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}
