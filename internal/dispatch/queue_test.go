package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/untrunc-batch/internal/batch"
)

func TestSnapFargate(t *testing.T) {
	tests := []struct {
		vcpu, memory int
		wantVCPU     string
		wantMemory   int
	}{
		{1, 2048, "1", 2048},
		{1, 2500, "1", 3072},
		{1, 1024, "1", 2048},
		{2, 4096, "2", 4096},
		{3, 8192, "4", 8192},
		{4, 16384, "4", 16384},
		{8, 30720, "8", 32768},
		{1, 16384, "2", 16384},
		{8, 122880, "16", 122880},
		{32, 500000, "16", 122880},
	}
	for _, tt := range tests {
		vcpu, memory := SnapFargate(tt.vcpu, tt.memory)
		assert.Equal(t, tt.wantVCPU, vcpu, "vcpu for (%d, %d)", tt.vcpu, tt.memory)
		assert.Equal(t, tt.wantMemory, memory, "memory for (%d, %d)", tt.vcpu, tt.memory)
	}
}

func TestFargateSizesFormat(t *testing.T) {
	vcpu, _ := SnapFargate(0, 512)
	assert.Equal(t, "0.25", vcpu)
}

func sampleJob(storage int) *batch.Job {
	return &batch.Job{
		ID:           "untrunc-0123456789ab",
		InputBucket:  "in",
		InputPrefix:  "cam",
		OutputBucket: "out",
		OutputPrefix: "cam",
		Reference:    batch.ReferenceSelection{Key: "cam/ref.mp4"},
		Files:        []batch.CandidateFile{{Key: "cam/a.mp4"}, {Key: "cam/b.mp4"}},
		Resources:    batch.ResourcePlan{VCPU: 8, MemoryMB: 30720, StorageGB: storage},
	}
}

type fakeBatch struct {
	input *awsbatch.SubmitJobInput
}

func (f *fakeBatch) SubmitJob(_ context.Context, in *awsbatch.SubmitJobInput, _ ...func(*awsbatch.Options)) (*awsbatch.SubmitJobOutput, error) {
	f.input = in
	return &awsbatch.SubmitJobOutput{JobId: aws.String("batch-42")}, nil
}

func envOf(in *awsbatch.SubmitJobInput) map[string]string {
	env := map[string]string{}
	for _, kv := range in.ContainerOverrides.Environment {
		env[aws.ToString(kv.Name)] = aws.ToString(kv.Value)
	}
	return env
}

func TestBatchQueueSubmit(t *testing.T) {
	fake := &fakeBatch{}
	q := NewBatchQueue(fake, "queue-arn", "jobdef-arn", 0)

	id, err := q.Submit(context.Background(), sampleJob(200))
	require.NoError(t, err)
	assert.Equal(t, "batch-42", id)

	in := fake.input
	assert.Equal(t, "untrunc-0123456789ab", aws.ToString(in.JobName))
	assert.Equal(t, "queue-arn", aws.ToString(in.JobQueue))
	assert.Equal(t, int32(2), aws.ToInt32(in.RetryStrategy.Attempts))

	reqs := map[batchtypes.ResourceType]string{}
	for _, r := range in.ContainerOverrides.ResourceRequirements {
		reqs[r.Type] = aws.ToString(r.Value)
	}
	assert.Equal(t, "8", reqs[batchtypes.ResourceTypeVcpu])
	assert.Equal(t, "32768", reqs[batchtypes.ResourceTypeMemory])

	env := envOf(in)
	assert.Equal(t, `["cam/a.mp4","cam/b.mp4"]`, env[EnvFilesToRepair])
	assert.Equal(t, "cam/ref.mp4", env[EnvReferenceKey])
	assert.Equal(t, "untrunc-0123456789ab", env[EnvJobID])
	assert.Equal(t, "200", env[EnvStorageGB])
}

func TestBatchQueueDefaultStorage(t *testing.T) {
	fake := &fakeBatch{}
	_, err := NewBatchQueue(fake, "q", "d", 3).Submit(context.Background(), sampleJob(20))
	require.NoError(t, err)

	_, ok := envOf(fake.input)[EnvStorageGB]
	assert.False(t, ok, "storage at the Fargate default is not overridden")
	assert.Equal(t, int32(3), aws.ToInt32(fake.input.RetryStrategy.Attempts))
}

func TestJobFromEnvRoundTrip(t *testing.T) {
	env, err := JobEnvironment(sampleJob(30))
	require.NoError(t, err)
	vars := map[string]string{}
	for _, kv := range env {
		vars[kv[0]] = kv[1]
	}

	job, err := JobFromEnv(func(k string) string { return vars[k] })
	require.NoError(t, err)
	assert.Equal(t, "untrunc-0123456789ab", job.ID)
	assert.Equal(t, []string{"cam/a.mp4", "cam/b.mp4"}, job.FileKeys())
	assert.Equal(t, "cam/ref.mp4", job.Reference.Key)
}

func TestJobFromEnvMissing(t *testing.T) {
	_, err := JobFromEnv(func(k string) string {
		if k == EnvJobID {
			return "untrunc-0123456789ab"
		}
		return ""
	})
	require.Error(t, err)

	_, err = JobFromEnv(func(k string) string {
		return map[string]string{
			EnvJobID: "j", EnvInputBucket: "in", EnvOutputBucket: "out",
			EnvReferenceKey: "r.mp4", EnvFilesToRepair: "not-json",
		}[k]
	})
	require.Error(t, err)
}

type fakeSFN struct {
	input *sfn.StartExecutionInput
}

func (f *fakeSFN) StartExecution(_ context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	f.input = in
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:exec:1")}, nil
}

func TestStepFunctionsQueue(t *testing.T) {
	fake := &fakeSFN{}
	id, err := NewStepFunctionsQueue(fake, "arn:sm").Submit(context.Background(), sampleJob(30))
	require.NoError(t, err)

	assert.Equal(t, "arn:exec:1", id)
	assert.Equal(t, "untrunc-0123456789ab", aws.ToString(fake.input.Name))
	var job batch.Job
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(fake.input.Input)), &job))
	assert.Equal(t, "cam/ref.mp4", job.Reference.Key)
}

type fakeLambda struct {
	input *lambdasvc.InvokeInput
}

func (f *fakeLambda) Invoke(_ context.Context, in *lambdasvc.InvokeInput, _ ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error) {
	f.input = in
	return &lambdasvc.InvokeOutput{StatusCode: 202}, nil
}

func TestLambdaQueue(t *testing.T) {
	fake := &fakeLambda{}
	id, err := NewLambdaQueue(fake, "runner-fn").Submit(context.Background(), sampleJob(30))
	require.NoError(t, err)

	assert.Equal(t, "untrunc-0123456789ab", id, "falls back to the job id without request metadata")
	assert.Equal(t, lambdatypes.InvocationTypeEvent, fake.input.InvocationType)
	assert.Equal(t, "runner-fn", aws.ToString(fake.input.FunctionName))
}
