package lambdaboot

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/config"
	"github.com/fpang/untrunc-batch/internal/objectstore"
	"github.com/fpang/untrunc-batch/internal/runner"
	"github.com/fpang/untrunc-batch/internal/untrunc"
)

// NewRunner wires a runner from configuration: the untrunc executor, the
// notification channels, the statfs disk probe and, when a table is
// configured, the job recorder.
func NewRunner(awsCfg aws.Config, cfg *config.Config, objects objectstore.Store) (*runner.Runner, string, error) {
	binary := cfg.Runner.Binary
	if binary == "" {
		found, err := untrunc.FindBinary()
		if err != nil {
			return nil, "", err
		}
		binary = found
	}

	var recorder runner.JobRecorder
	if st := InitDynamoOptional(awsCfg, cfg.JobsTable); st != nil {
		recorder = st
	}

	r := runner.New(runner.Config{
		WorkDir:          cfg.Runner.WorkDir,
		MinFreeBytes:     cfg.Runner.MinFreeBytes,
		MinOutputBytes:   cfg.Runner.MinOutputBytes,
		CopyReference:    cfg.Runner.CopyReference,
		WriteReport:      cfg.Runner.WriteReport,
		QuarantineFailed: cfg.Runner.Quarantine,
	},
		objects,
		untrunc.NewExecutor(binary, cfg.Runner.Timeout),
		InitPublisher(awsCfg, cfg.Notify),
		runner.StatfsProbe{},
		recorder,
	)
	return r, binary, nil
}

// InitRunner is NewRunner that fatals when the untrunc binary is missing.
func InitRunner(awsCfg aws.Config, cfg *config.Config, objects objectstore.Store) (*runner.Runner, string) {
	r, binary, err := NewRunner(awsCfg, cfg, objects)
	if err != nil {
		log.Fatal().Err(fmt.Errorf("init runner: %w", err)).Msg("Runner unavailable")
	}
	return r, binary
}
