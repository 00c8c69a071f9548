// Package batch holds the decision logic of the untrunc batch pipeline:
// reference selection, resource planning, and job result aggregation.
//
// Everything in this package is pure. Listing objects, submitting jobs and
// running the repair tool happen elsewhere; this package only decides.
package batch

import (
	"time"
)

// Strategy names how the reference file is chosen from the candidates.
type Strategy string

const (
	// StrategySmallest picks the smallest file. A short complete clip is the
	// likeliest to be uncorrupted, but this is a heuristic, not a guarantee.
	StrategySmallest Strategy = "smallest"
	// StrategyNewest picks the most recently modified file.
	StrategyNewest Strategy = "newest"
	// StrategyExplicit uses a caller-supplied key verbatim.
	StrategyExplicit Strategy = "explicit"
)

// ParseStrategy validates a request strategy string. Empty means smallest.
// Only smallest and newest are accepted from callers; explicit is implied by
// supplying a reference key.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategySmallest, nil
	case StrategySmallest, StrategyNewest:
		return Strategy(s), nil
	default:
		return "", Errorf(KindInvalidRequest, "reference_strategy must be one of: smallest, newest (got %q)", s)
	}
}

// CandidateFile is a snapshot of one object listed under the input prefix.
type CandidateFile struct {
	Key          string    `json:"key" dynamodbav:"key"`
	SizeBytes    int64     `json:"size_bytes" dynamodbav:"sizeBytes"`
	LastModified time.Time `json:"last_modified" dynamodbav:"lastModified"`
}

// ReferenceSelection records which candidate serves as the repair reference.
type ReferenceSelection struct {
	Key       string   `json:"selected_key" dynamodbav:"key"`
	SizeBytes int64    `json:"size_bytes" dynamodbav:"sizeBytes"`
	Strategy  Strategy `json:"strategy" dynamodbav:"strategy"`
}

// ResourcePlan is the compute allocation for one batch.
type ResourcePlan struct {
	VCPU       int  `json:"vcpu" dynamodbav:"vcpu"`
	MemoryMB   int  `json:"memory_mb" dynamodbav:"memoryMb"`
	StorageGB  int  `json:"storage_gb" dynamodbav:"storageGb"`
	AutoScaled bool `json:"auto_scaled" dynamodbav:"autoScaled"`
}

// Job is the immutable description of a submitted batch. The dispatcher
// creates it; the runner consumes it.
type Job struct {
	ID           string             `json:"job_id"`
	InputBucket  string             `json:"input_bucket"`
	InputPrefix  string             `json:"input_prefix"`
	OutputBucket string             `json:"output_bucket"`
	OutputPrefix string             `json:"output_prefix"`
	Reference    ReferenceSelection `json:"reference"`
	Files        []CandidateFile    `json:"files"`
	Resources    ResourcePlan       `json:"resources"`
	CreatedAt    time.Time          `json:"created_at"`
}

// FileKeys returns the keys of the files to repair, in job order.
func (j *Job) FileKeys() []string {
	keys := make([]string, 0, len(j.Files))
	for _, f := range j.Files {
		keys = append(keys, f.Key)
	}
	return keys
}

// TotalBytes returns the combined size of the files to repair.
func (j *Job) TotalBytes() int64 {
	var total int64
	for _, f := range j.Files {
		total += f.SizeBytes
	}
	return total
}
