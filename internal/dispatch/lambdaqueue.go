package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// LambdaAPI is the subset of *lambda.Client used by LambdaQueue.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambdasvc.InvokeInput, opts ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// LambdaQueue runs small jobs on the runner Lambda with an asynchronous
// invocation. Lambda retries failed async invocations twice by default.
type LambdaQueue struct {
	client       LambdaAPI
	functionName string
}

func NewLambdaQueue(client LambdaAPI, functionName string) *LambdaQueue {
	return &LambdaQueue{client: client, functionName: functionName}
}

func (q *LambdaQueue) Name() string { return "lambda" }

func (q *LambdaQueue) Submit(ctx context.Context, job *batch.Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	log.Debug().Str("jobId", job.ID).Int("payloadSize", len(payload)).Msg("Invoking runner Lambda asynchronously")

	out, err := q.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(q.functionName),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return "", fmt.Errorf("invoke runner lambda: %w", err)
	}
	if out.FunctionError != nil {
		return "", fmt.Errorf("invoke runner lambda: %s", aws.ToString(out.FunctionError))
	}

	if requestID, ok := awsmiddleware.GetRequestIDMetadata(out.ResultMetadata); ok {
		return requestID, nil
	}
	return job.ID, nil
}
