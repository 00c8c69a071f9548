package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// SFNAPI is the subset of *sfn.Client used by StepFunctionsQueue.
type SFNAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, opts ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepFunctionsQueue starts a state machine execution per job. The state
// machine owns retries and the Batch submission; its input is the job.
type StepFunctionsQueue struct {
	client          SFNAPI
	stateMachineArn string
}

func NewStepFunctionsQueue(client SFNAPI, stateMachineArn string) *StepFunctionsQueue {
	return &StepFunctionsQueue{client: client, stateMachineArn: stateMachineArn}
}

func (q *StepFunctionsQueue) Name() string { return "stepfunctions" }

func (q *StepFunctionsQueue) Submit(ctx context.Context, job *batch.Job) (string, error) {
	input, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	out, err := q.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(q.stateMachineArn),
		Input:           aws.String(string(input)),
		Name:            aws.String(job.ID),
	})
	if err != nil {
		return "", fmt.Errorf("StartExecution: %w", err)
	}
	return aws.ToString(out.ExecutionArn), nil
}
