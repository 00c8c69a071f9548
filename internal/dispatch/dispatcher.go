// Package dispatch turns a submission request into a queued repair job.
//
// Submit lists the candidate videos, selects the reference, plans resources
// and hands the job to a Queue. Input problems come back as *batch.Error
// with an input kind and never reach the queue.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/jobs"
	"github.com/fpang/untrunc-batch/internal/store"
)

// Request is the body of POST /submit-batch.
type Request struct {
	InputBucket       string `json:"input_bucket,omitempty"`
	InputPrefix       string `json:"input_prefix"`
	OutputBucket      string `json:"output_bucket,omitempty"`
	OutputPrefix      string `json:"output_prefix,omitempty"`
	ReferenceStrategy string `json:"reference_strategy,omitempty"`
	ReferenceKey      string `json:"reference_key,omitempty"`
	batch.Overrides
}

// Defaults fill in omitted buckets.
type Defaults struct {
	InputBucket  string
	OutputBucket string
}

// Submission is the 202 response body.
type Submission struct {
	Message           string             `json:"message"`
	JobID             string             `json:"job_id"`
	QueueJobID        string             `json:"queue_job_id"`
	Backend           string             `json:"backend"`
	InputBucket       string             `json:"input_bucket"`
	InputPrefix       string             `json:"input_prefix"`
	OutputBucket      string             `json:"output_bucket"`
	OutputPrefix      string             `json:"output_prefix"`
	ReferenceFile     string             `json:"reference_file"`
	ReferenceSizeMB   float64            `json:"reference_size_mb"`
	ReferenceStrategy batch.Strategy     `json:"reference_strategy"`
	FilesToRepair     []string           `json:"files_to_repair"`
	FileCount         int                `json:"file_count"`
	TotalSizeMB       float64            `json:"total_size_mb"`
	LargestFileMB     float64            `json:"largest_file_mb"`
	Resources         batch.ResourcePlan `json:"resources"`
}

// Lister lists objects under a prefix. objectstore.Store satisfies it.
type Lister interface {
	List(ctx context.Context, bucket, prefix string) ([]batch.CandidateFile, error)
}

// Recorder stores the SUBMITTED job record. Optional.
type Recorder interface {
	PutJob(ctx context.Context, rec *store.JobRecord) error
}

// Dispatcher composes selection, planning and submission.
type Dispatcher struct {
	lister   Lister
	queue    Queue
	recorder Recorder
	defaults Defaults
	now      func() time.Time
	newID    func() string
}

// New returns a Dispatcher. recorder may be nil.
func New(lister Lister, queue Queue, recorder Recorder, defaults Defaults) *Dispatcher {
	return &Dispatcher{
		lister:   lister,
		queue:    queue,
		recorder: recorder,
		defaults: defaults,
		now:      time.Now,
		newID:    jobs.GenerateID,
	}
}

// normalize applies defaults and validates the request.
func (d *Dispatcher) normalize(req Request) (Request, batch.Strategy, error) {
	req.InputPrefix = batch.NormalizePrefix(req.InputPrefix)
	req.OutputPrefix = batch.NormalizePrefix(req.OutputPrefix)
	if req.InputBucket == "" {
		req.InputBucket = d.defaults.InputBucket
	}
	if req.OutputBucket == "" {
		req.OutputBucket = d.defaults.OutputBucket
	}

	if req.InputPrefix == "" {
		return req, "", batch.Errorf(batch.KindInvalidRequest, "input_prefix is required")
	}
	for _, b := range []string{req.InputBucket, req.OutputBucket} {
		if err := batch.ValidateBucket(b); err != nil {
			return req, "", err
		}
	}
	for _, p := range []string{req.InputPrefix, req.OutputPrefix, req.ReferenceKey} {
		if err := batch.ValidatePrefix(p); err != nil {
			return req, "", err
		}
	}
	strategy, err := batch.ParseStrategy(req.ReferenceStrategy)
	if err != nil {
		return req, "", err
	}
	if err := req.Overrides.Validate(); err != nil {
		return req, "", err
	}
	if req.OutputPrefix == "" {
		req.OutputPrefix = req.InputPrefix
	}
	return req, strategy, nil
}

// Plan validates req and builds the job without submitting it. The job has
// no ID.
func (d *Dispatcher) Plan(ctx context.Context, req Request) (*batch.Job, error) {
	req, strategy, err := d.normalize(req)
	if err != nil {
		return nil, err
	}

	all, err := d.lister.List(ctx, req.InputBucket, req.InputPrefix)
	if err != nil {
		return nil, fmt.Errorf("list s3://%s/%s: %w", req.InputBucket, req.InputPrefix, err)
	}
	videos := batch.FilterVideos(all)
	if len(videos) == 0 {
		return nil, batch.Errorf(batch.KindNoFilesFound, "no video files found in s3://%s/%s", req.InputBucket, req.InputPrefix)
	}

	ref, err := batch.SelectReference(videos, strategy, req.ReferenceKey)
	if err != nil {
		return nil, err
	}
	files := batch.ExcludeReference(videos, ref)
	refFile := batch.CandidateFile{Key: ref.Key, SizeBytes: ref.SizeBytes}

	plan, err := batch.PlanResources(files, &refFile, req.Overrides)
	if err != nil {
		return nil, err
	}

	return &batch.Job{
		InputBucket:  req.InputBucket,
		InputPrefix:  req.InputPrefix,
		OutputBucket: req.OutputBucket,
		OutputPrefix: req.OutputPrefix,
		Reference:    ref,
		Files:        files,
		Resources:    plan,
	}, nil
}

// Submit plans the job, queues it and records it. It returns as soon as the
// queue has accepted the job.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (*Submission, error) {
	job, err := d.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	job.ID = d.newID()
	job.CreatedAt = d.now().UTC()

	queueJobID, err := d.queue.Submit(ctx, job)
	if err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Str("backend", d.queue.Name()).Msg("Failed to submit repair job")
		return nil, fmt.Errorf("submit job %s to %s: %w", job.ID, d.queue.Name(), err)
	}

	if d.recorder != nil {
		if err := d.recorder.PutJob(ctx, store.NewJobRecord(job, d.queue.Name(), queueJobID)); err != nil {
			log.Warn().Err(err).Str("jobId", job.ID).Msg("Failed to record submitted job")
		}
	}

	sub := newSubmission(job, d.queue.Name(), queueJobID)
	log.Info().
		Str("jobId", job.ID).
		Str("queueJobId", queueJobID).
		Str("backend", sub.Backend).
		Str("reference", job.Reference.Key).
		Int("fileCount", sub.FileCount).
		Float64("totalSizeMb", sub.TotalSizeMB).
		Int("vcpu", job.Resources.VCPU).
		Int("memoryMb", job.Resources.MemoryMB).
		Int("storageGb", job.Resources.StorageGB).
		Bool("autoScaled", job.Resources.AutoScaled).
		Msg("Repair job submitted")
	return sub, nil
}

func newSubmission(job *batch.Job, backend, queueJobID string) *Submission {
	var largest int64
	for _, f := range job.Files {
		if f.SizeBytes > largest {
			largest = f.SizeBytes
		}
	}
	return &Submission{
		Message:           "Batch repair job submitted",
		JobID:             job.ID,
		QueueJobID:        queueJobID,
		Backend:           backend,
		InputBucket:       job.InputBucket,
		InputPrefix:       job.InputPrefix,
		OutputBucket:      job.OutputBucket,
		OutputPrefix:      job.OutputPrefix,
		ReferenceFile:     job.Reference.Key,
		ReferenceSizeMB:   toMB(job.Reference.SizeBytes),
		ReferenceStrategy: job.Reference.Strategy,
		FilesToRepair:     job.FileKeys(),
		FileCount:         len(job.Files),
		TotalSizeMB:       toMB(job.TotalBytes()),
		LargestFileMB:     toMB(largest),
		Resources:         job.Resources,
	}
}

// toMB converts bytes to MiB rounded to two decimals.
func toMB(b int64) float64 {
	return math.Round(float64(b)/float64(batch.MiB)*100) / 100
}
