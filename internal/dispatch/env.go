package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// Environment variables through which a container runner receives its job.
const (
	EnvJobID         = "JOB_ID"
	EnvInputBucket   = "INPUT_BUCKET"
	EnvInputPrefix   = "INPUT_PREFIX"
	EnvOutputBucket  = "OUTPUT_BUCKET"
	EnvOutputPrefix  = "OUTPUT_PREFIX"
	EnvReferenceKey  = "REFERENCE_KEY"
	EnvFilesToRepair = "FILES_TO_REPAIR"
	EnvStorageGB     = "EPHEMERAL_STORAGE_GIB"
)

// JobEnvironment returns the variables describing job, in a stable order.
func JobEnvironment(job *batch.Job) ([][2]string, error) {
	keys, err := json.Marshal(job.FileKeys())
	if err != nil {
		return nil, fmt.Errorf("marshal file keys: %w", err)
	}
	return [][2]string{
		{EnvInputBucket, job.InputBucket},
		{EnvInputPrefix, job.InputPrefix},
		{EnvOutputBucket, job.OutputBucket},
		{EnvOutputPrefix, job.OutputPrefix},
		{EnvReferenceKey, job.Reference.Key},
		{EnvFilesToRepair, string(keys)},
		{EnvJobID, job.ID},
		{EnvStorageGB, strconv.Itoa(job.Resources.StorageGB)},
	}, nil
}

// JobFromEnv rebuilds a job from the container environment. File sizes are
// not transported and stay zero.
func JobFromEnv(getenv func(string) string) (*batch.Job, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	job := &batch.Job{
		ID:           getenv(EnvJobID),
		InputBucket:  getenv(EnvInputBucket),
		InputPrefix:  getenv(EnvInputPrefix),
		OutputBucket: getenv(EnvOutputBucket),
		OutputPrefix: getenv(EnvOutputPrefix),
		Reference:    batch.ReferenceSelection{Key: getenv(EnvReferenceKey)},
	}
	for name, v := range map[string]string{
		EnvJobID:        job.ID,
		EnvInputBucket:  job.InputBucket,
		EnvOutputBucket: job.OutputBucket,
		EnvReferenceKey: job.Reference.Key,
	} {
		if v == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
	}
	if job.OutputPrefix == "" {
		job.OutputPrefix = job.InputPrefix
	}

	var keys []string
	if raw := getenv(EnvFilesToRepair); raw != "" {
		if err := json.Unmarshal([]byte(raw), &keys); err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvFilesToRepair, err)
		}
	}
	for _, k := range keys {
		job.Files = append(job.Files, batch.CandidateFile{Key: k})
	}
	return job, nil
}
