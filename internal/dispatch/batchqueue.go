package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// defaultStorageGB is the ephemeral storage Fargate provides without
// configuration.
const defaultStorageGB = 20

// BatchAPI is the subset of *batch.Client used by BatchQueue.
type BatchAPI interface {
	SubmitJob(ctx context.Context, in *awsbatch.SubmitJobInput, opts ...func(*awsbatch.Options)) (*awsbatch.SubmitJobOutput, error)
}

// BatchQueue submits jobs to an AWS Batch Fargate job queue.
type BatchQueue struct {
	client        BatchAPI
	jobQueue      string
	jobDefinition string
	attempts      int32
}

// NewBatchQueue targets jobQueue with jobDefinition. attempts is the Batch
// retry count; zero means 2.
func NewBatchQueue(client BatchAPI, jobQueue, jobDefinition string, attempts int32) *BatchQueue {
	if attempts <= 0 {
		attempts = 2
	}
	return &BatchQueue{client: client, jobQueue: jobQueue, jobDefinition: jobDefinition, attempts: attempts}
}

func (q *BatchQueue) Name() string { return "batch" }

// Submit snaps the resource plan to a Fargate size and submits the job with
// its description in the container environment. Storage above the Fargate
// default is passed to the container, which relies on the job definition
// having been provisioned for it.
func (q *BatchQueue) Submit(ctx context.Context, job *batch.Job) (string, error) {
	env, err := JobEnvironment(job)
	if err != nil {
		return "", err
	}
	vcpu, memory := SnapFargate(job.Resources.VCPU, job.Resources.MemoryMB)

	overrides := &batchtypes.ContainerOverrides{
		ResourceRequirements: []batchtypes.ResourceRequirement{
			{Type: batchtypes.ResourceTypeVcpu, Value: aws.String(vcpu)},
			{Type: batchtypes.ResourceTypeMemory, Value: aws.String(strconv.Itoa(memory))},
		},
	}
	for _, kv := range env {
		if kv[0] == EnvStorageGB && job.Resources.StorageGB <= defaultStorageGB {
			continue
		}
		overrides.Environment = append(overrides.Environment, batchtypes.KeyValuePair{
			Name:  aws.String(kv[0]),
			Value: aws.String(kv[1]),
		})
	}

	out, err := q.client.SubmitJob(ctx, &awsbatch.SubmitJobInput{
		JobName:            aws.String(job.ID),
		JobQueue:           aws.String(q.jobQueue),
		JobDefinition:      aws.String(q.jobDefinition),
		ContainerOverrides: overrides,
		RetryStrategy:      &batchtypes.RetryStrategy{Attempts: aws.Int32(q.attempts)},
		Tags: map[string]string{
			"untrunc:job-id":     job.ID,
			"untrunc:storage-gb": strconv.Itoa(job.Resources.StorageGB),
		},
		PropagateTags: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("Batch SubmitJob: %w", err)
	}

	log.Debug().
		Str("jobId", job.ID).
		Str("batchJobId", aws.ToString(out.JobId)).
		Str("vcpu", vcpu).
		Int("memoryMb", memory).
		Msg("Batch job submitted")
	return aws.ToString(out.JobId), nil
}
