// Package store persists job records so that GET /jobs/{id} can report
// progress after the submitting Lambda has returned.
//
// The package uses a single-table DynamoDB design where all records for a
// job share a partition key (JOB#{jobId}). Sort keys distinguish record
// types: META holds the job summary, FILE#{nnnnn} holds one file outcome
// in processing order. A TTL attribute (expiresAt) auto-deletes records
// after JobTTL.
package store

import (
	"context"
	"time"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// JobTTL is the time-to-live for job records.
const JobTTL = 30 * 24 * time.Hour

// JobRecord is the META item of a job.
type JobRecord struct {
	JobID             string             `json:"job_id" dynamodbav:"-"`
	Status            batch.JobStatus    `json:"status" dynamodbav:"status"`
	Message           string             `json:"message,omitempty" dynamodbav:"message,omitempty"`
	InputBucket       string             `json:"input_bucket" dynamodbav:"inputBucket"`
	InputPrefix       string             `json:"input_prefix" dynamodbav:"inputPrefix"`
	OutputBucket      string             `json:"output_bucket" dynamodbav:"outputBucket"`
	OutputPrefix      string             `json:"output_prefix" dynamodbav:"outputPrefix"`
	ReferenceKey      string             `json:"reference_file" dynamodbav:"referenceKey"`
	ReferenceStrategy batch.Strategy     `json:"reference_strategy" dynamodbav:"referenceStrategy"`
	FileCount         int                `json:"file_count" dynamodbav:"fileCount"`
	TotalBytes        int64              `json:"total_bytes" dynamodbav:"totalBytes"`
	Resources         batch.ResourcePlan `json:"resources" dynamodbav:"resources"`
	Backend           string             `json:"backend,omitempty" dynamodbav:"backend,omitempty"`
	QueueJobID        string             `json:"queue_job_id,omitempty" dynamodbav:"queueJobId,omitempty"`
	SuccessCount      int                `json:"success_count" dynamodbav:"successCount"`
	FailureCount      int                `json:"failure_count" dynamodbav:"failureCount"`
	CreatedAt         int64              `json:"created_at" dynamodbav:"createdAt"`
	FinishedAt        int64              `json:"finished_at,omitempty" dynamodbav:"finishedAt,omitempty"`
}

// NewJobRecord builds the SUBMITTED record for a job accepted by a queue.
func NewJobRecord(job *batch.Job, backend, queueJobID string) *JobRecord {
	return &JobRecord{
		JobID:             job.ID,
		Status:            batch.StatusSubmitted,
		InputBucket:       job.InputBucket,
		InputPrefix:       job.InputPrefix,
		OutputBucket:      job.OutputBucket,
		OutputPrefix:      job.OutputPrefix,
		ReferenceKey:      job.Reference.Key,
		ReferenceStrategy: job.Reference.Strategy,
		FileCount:         len(job.Files),
		TotalBytes:        job.TotalBytes(),
		Resources:         job.Resources,
		Backend:           backend,
		QueueJobID:        queueJobID,
		CreatedAt:         job.CreatedAt.Unix(),
	}
}

// JobStore is the persistence interface for job records.
//
// Get methods return (nil, nil) when the record does not exist. Put methods
// perform full-item replacement.
type JobStore interface {
	// PutJob creates or replaces the META record.
	PutJob(ctx context.Context, rec *JobRecord) error

	// GetJob retrieves the META record. Returns nil, nil if not found.
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)

	// CompleteJob writes the terminal status and counts onto the META record
	// and stores every file outcome.
	CompleteJob(ctx context.Context, job *batch.Job, result *batch.Result) error

	// GetOutcomes returns the file outcomes in processing order.
	GetOutcomes(ctx context.Context, jobID string) ([]batch.FileOutcome, error)
}
