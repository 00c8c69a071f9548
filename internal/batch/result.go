package batch

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle status of a job. Submitted is the only
// non-terminal value; the runner writes exactly one terminal value.
type JobStatus string

const (
	StatusSubmitted JobStatus = "SUBMITTED"
	StatusCompleted JobStatus = "COMPLETED"
	StatusPartial   JobStatus = "PARTIAL"
	StatusFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions follow.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// OutcomeStatus is the result of repairing one file.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// FileOutcome records what happened to one file of the batch.
type FileOutcome struct {
	InputKey   string        `json:"input_key" dynamodbav:"inputKey"`
	OutputKey  string        `json:"output_key" dynamodbav:"outputKey"`
	Status     OutcomeStatus `json:"status" dynamodbav:"status"`
	SizeBytes  int64         `json:"size_bytes,omitempty" dynamodbav:"sizeBytes,omitempty"`
	ErrorKind  Kind          `json:"error_kind,omitempty" dynamodbav:"errorKind,omitempty"`
	Error      string        `json:"error_reason,omitempty" dynamodbav:"error,omitempty"`
	ToolOutput string        `json:"tool_output,omitempty" dynamodbav:"-"`
	Quarantine string        `json:"quarantine_key,omitempty" dynamodbav:"quarantineKey,omitempty"`
	DurationMs int64         `json:"duration_ms" dynamodbav:"durationMs"`
}

// Succeeded is a convenience for Status == OutcomeSuccess.
func (o FileOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// Totals are the counts derived from a result's outcomes.
type Totals struct {
	Total   int `json:"total_files"`
	Success int `json:"success_count"`
	Failure int `json:"failure_count"`
}

// StatusFor derives the job status from outcome counts: completed when
// every file succeeded, failed when none did, partial otherwise. A job with
// no files is failed.
func StatusFor(t Totals) JobStatus {
	switch {
	case t.Success == 0:
		return StatusFailed
	case t.Failure == 0 && t.Success == t.Total:
		return StatusCompleted
	default:
		return StatusPartial
	}
}

// Result is the terminal record of one job run. Outcomes are appended in
// processing order by the runner, which is the only writer.
type Result struct {
	JobID      string        `json:"job_id"`
	Outcomes   []FileOutcome `json:"outcomes"`
	AbortError string        `json:"abort_error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Append records the next outcome.
func (r *Result) Append(o FileOutcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Abort marks the job as ended before per-file processing. Every file in
// unprocessed is recorded as failed with err's kind so totals still cover the
// whole batch.
func (r *Result) Abort(err error, unprocessed []CandidateFile) {
	r.AbortError = err.Error()
	kind := KindOf(err)
	for _, f := range unprocessed {
		r.Append(FileOutcome{
			InputKey:  f.Key,
			Status:    OutcomeFailure,
			ErrorKind: kind,
			Error:     "not processed: " + r.AbortError,
		})
	}
}

// Totals counts outcomes.
func (r *Result) Totals() Totals {
	t := Totals{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			t.Success++
		} else {
			t.Failure++
		}
	}
	return t
}

// Status derives the job status from the outcomes. An aborted job is
// always failed.
func (r *Result) Status() JobStatus {
	if r.AbortError != "" {
		return StatusFailed
	}
	return StatusFor(r.Totals())
}

// SucceededKeys returns input keys of successful files in processing order.
func (r *Result) SucceededKeys() []string {
	return r.keys(true)
}

// FailedKeys returns input keys of failed files in processing order.
func (r *Result) FailedKeys() []string {
	return r.keys(false)
}

func (r *Result) keys(success bool) []string {
	keys := []string{}
	for _, o := range r.Outcomes {
		if o.Succeeded() == success {
			keys = append(keys, o.InputKey)
		}
	}
	return keys
}

// Message is a one-line human summary for notifications.
func (r *Result) Message() string {
	if r.AbortError != "" {
		return "Job aborted: " + r.AbortError
	}
	t := r.Totals()
	if t.Total == 0 {
		return "No files to repair"
	}
	switch r.Status() {
	case StatusCompleted:
		return fmt.Sprintf("All %d files repaired successfully", t.Total)
	case StatusPartial:
		return fmt.Sprintf("%d of %d files repaired, %d failed", t.Success, t.Total, t.Failure)
	default:
		return fmt.Sprintf("All %d files failed to repair", t.Total)
	}
}
