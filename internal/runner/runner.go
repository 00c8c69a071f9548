// Package runner executes one repair job inside its compute unit.
//
// Files are processed strictly in job order, one at a time. Each file walks
//
//	PENDING -> DOWNLOADING -> REPAIRING -> VERIFYING -> UPLOADING -> DONE
//
// and any step may end in FAILED instead. A failed file is recorded and the
// loop moves on; only a failed reference download aborts the job. Local
// artifacts of a file are removed before the next file starts, so peak disk
// use is the reference plus one input plus one output.
//
// Every run that is not cancelled ends with exactly one notification.
package runner

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/metrics"
	"github.com/fpang/untrunc-batch/internal/notify"
	"github.com/fpang/untrunc-batch/internal/untrunc"
)

const (
	// DefaultMinFreeBytes is the free local disk required before a download.
	DefaultMinFreeBytes uint64 = 1 << 30
	// DefaultMinOutputBytes is the smallest repaired file accepted as real.
	DefaultMinOutputBytes int64 = 1024
)

// Store is the object store subset the runner needs.
type Store interface {
	Download(ctx context.Context, bucket, key, localPath string) (int64, error)
	Upload(ctx context.Context, bucket, key, localPath string) error
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
}

// Repairer runs the repair tool once.
type Repairer interface {
	Run(ctx context.Context, reference, input, dst string) (string, error)
}

// Publisher delivers the completion notification.
type Publisher interface {
	Publish(ctx context.Context, n notify.Notification) error
}

// DiskProbe reports free bytes on the filesystem holding path.
type DiskProbe interface {
	FreeBytes(path string) (uint64, error)
}

// JobRecorder persists the terminal job record. Optional.
type JobRecorder interface {
	CompleteJob(ctx context.Context, job *batch.Job, result *batch.Result) error
}

// Config tunes a Runner. Zero values take the defaults.
type Config struct {
	WorkDir        string
	MinFreeBytes   uint64
	MinOutputBytes int64
	CopyReference  bool
	WriteReport    bool

	// QuarantineFailed uploads the downloaded input of each failed file to
	// <output_prefix>/_quarantine/.
	QuarantineFailed bool
}

// Runner executes repair jobs.
type Runner struct {
	store     Store
	repairer  Repairer
	publisher Publisher
	disk      DiskProbe
	recorder  JobRecorder
	policy    untrunc.OutputPolicy
	cfg       Config
	metricsTo io.Writer
	now       func() time.Time
}

// New returns a Runner. recorder may be nil.
func New(cfg Config, store Store, repairer Repairer, publisher Publisher, disk DiskProbe, recorder JobRecorder) *Runner {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.MinFreeBytes == 0 {
		cfg.MinFreeBytes = DefaultMinFreeBytes
	}
	if cfg.MinOutputBytes == 0 {
		cfg.MinOutputBytes = DefaultMinOutputBytes
	}
	return &Runner{
		store:     store,
		repairer:  repairer,
		publisher: publisher,
		disk:      disk,
		recorder:  recorder,
		cfg:       cfg,
		metricsTo: os.Stdout,
		now:       time.Now,
	}
}

// Run processes every file of job and publishes the result. It returns an
// error only when ctx is cancelled, in which case nothing is published.
func (r *Runner) Run(ctx context.Context, job *batch.Job) (*batch.Result, error) {
	result := &batch.Result{JobID: job.ID, StartedAt: r.now().UTC()}
	logger := log.With().Str("jobId", job.ID).Logger()

	logger.Info().
		Str("inputBucket", job.InputBucket).
		Str("inputPrefix", job.InputPrefix).
		Str("outputBucket", job.OutputBucket).
		Str("outputPrefix", job.OutputPrefix).
		Str("reference", job.Reference.Key).
		Int("fileCount", len(job.Files)).
		Msg("Repair job started")

	jobDir := filepath.Join(r.cfg.WorkDir, job.ID)
	defer os.RemoveAll(jobDir)

	if len(job.Files) > 0 {
		refPath, err := r.prepareReference(ctx, job, jobDir)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logger.Error().Err(err).Msg("Reference download failed, aborting job")
			result.Abort(err, job.Files)
		} else {
			for i, f := range job.Files {
				if ctx.Err() != nil {
					logger.Warn().Int("processed", i).Msg("Job cancelled")
					return result, ctx.Err()
				}
				outcome := r.processFile(ctx, job, refPath, jobDir, f)
				result.Append(outcome)
				logger.Info().
					Int("index", i+1).
					Int("total", len(job.Files)).
					Str("key", f.Key).
					Str("status", string(outcome.Status)).
					Str("errorKind", string(outcome.ErrorKind)).
					Msg("File processed")
			}
		}
	}

	result.FinishedAt = r.now().UTC()
	r.finish(ctx, job, result)
	return result, nil
}

// prepareReference downloads the reference and, when configured, copies it
// to the output prefix. Only the download can fail the job.
func (r *Runner) prepareReference(ctx context.Context, job *batch.Job, jobDir string) (string, error) {
	refPath := filepath.Join(jobDir, "reference", filepath.Base(job.Reference.Key))
	if _, err := r.store.Download(ctx, job.InputBucket, job.Reference.Key, refPath); err != nil {
		return "", batch.Wrap(batch.KindReferenceDownload, err, job.Reference.Key)
	}

	if r.cfg.CopyReference {
		outKey := batch.OutputKey(job.InputPrefix, job.OutputPrefix, job.Reference.Key)
		if err := r.store.Upload(ctx, job.OutputBucket, outKey, refPath); err != nil {
			log.Warn().Err(err).Str("jobId", job.ID).Str("key", outKey).Msg("Failed to copy reference to output")
		}
	}
	return refPath, nil
}

// finish records, reports, measures and publishes a completed run.
func (r *Runner) finish(ctx context.Context, job *batch.Job, result *batch.Result) {
	t := result.Totals()
	status := result.Status()

	log.Info().
		Str("jobId", job.ID).
		Str("status", string(status)).
		Int("total", t.Total).
		Int("success", t.Success).
		Int("failure", t.Failure).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Msg(result.Message())

	if r.cfg.WriteReport {
		if key, err := r.writeReport(ctx, job, result); err != nil {
			log.Warn().Err(err).Str("jobId", job.ID).Msg("Failed to upload job report")
		} else {
			log.Debug().Str("jobId", job.ID).Str("key", key).Msg("Job report uploaded")
		}
	}

	if r.recorder != nil {
		if err := r.recorder.CompleteJob(ctx, job, result); err != nil {
			log.Warn().Err(err).Str("jobId", job.ID).Msg("Failed to persist job result")
		}
	}

	metrics.NewTo(r.metricsTo, metrics.Namespace).
		Dimension("Status", string(status)).
		Add(metrics.FilesRepaired, t.Success).
		Add(metrics.FilesFailed, t.Failure).
		Metric(metrics.RepairDurationMs, float64(result.FinishedAt.Sub(result.StartedAt).Milliseconds()), metrics.UnitMilliseconds).
		Metric(metrics.BytesRepaired, float64(repairedBytes(result)), metrics.UnitBytes).
		Property("jobId", job.ID).
		Flush()

	if err := r.publisher.Publish(ctx, notify.Build(job, result, r.now())); err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("Failed to publish completion notification")
	}
}

func repairedBytes(result *batch.Result) int64 {
	var n int64
	for _, o := range result.Outcomes {
		if o.Succeeded() {
			n += o.SizeBytes
		}
	}
	return n
}
