package dispatch

import (
	"context"

	"github.com/fpang/untrunc-batch/internal/batch"
)

// Queue accepts a job for asynchronous execution and returns the
// backend's identifier for it.
type Queue interface {
	Name() string
	Submit(ctx context.Context, job *batch.Job) (string, error)
}
