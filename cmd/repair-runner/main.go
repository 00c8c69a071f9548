// Package main is the entrypoint of the AWS Batch repair container.
//
// The dispatcher's batch backend describes the job in the container
// environment (JOB_ID, INPUT_BUCKET, FILES_TO_REPAIR, ...). The runner
// processes every file, publishes one notification and exits 0 whatever
// the job status, so that Batch does not retry a finished job. Only an
// invalid configuration or an interruption exits non-zero.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/config"
	"github.com/fpang/untrunc-batch/internal/dispatch"
	"github.com/fpang/untrunc-batch/internal/lambdaboot"
	"github.com/fpang/untrunc-batch/internal/logging"
)

// CLI flags
var (
	jobFileFlag        string
	workDirFlag        string
	binaryFlag         string
	timeoutFlag        time.Duration
	noReportFlag       bool
	noCopyRefFlag      bool
	quarantineFlag     bool
	minOutputBytesFlag int64
)

var rootCmd = &cobra.Command{
	Use:   "repair-runner",
	Short: "Repair a batch of truncated videos with untrunc",
	Long: `repair-runner downloads a reference video and each file of a job, runs
untrunc on every file in turn and uploads the repaired results.

The job is read from the environment set by the dispatcher, or from a JSON
file with --job-file. Flags override the matching environment variables.

Examples:
  repair-runner
  repair-runner --job-file job.json --work-dir /scratch
  repair-runner --untrunc /opt/untrunc/untrunc --timeout 2h`,
	SilenceUsage: true,
	RunE:         runMain,
}

func init() {
	rootCmd.Flags().StringVar(&jobFileFlag, "job-file", "", "Read the job from a JSON file instead of the environment")
	rootCmd.Flags().StringVar(&workDirFlag, "work-dir", "", "Scratch directory (default WORK_DIR or the system temp dir)")
	rootCmd.Flags().StringVar(&binaryFlag, "untrunc", "", "Path to the untrunc binary (default UNTRUNC_BINARY or PATH lookup)")
	rootCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Per-file untrunc timeout (default UNTRUNC_TIMEOUT or 1h)")
	rootCmd.Flags().BoolVar(&noReportFlag, "no-report", false, "Do not upload the job report")
	rootCmd.Flags().BoolVar(&noCopyRefFlag, "no-copy-reference", false, "Do not copy the reference file to the output prefix")
	rootCmd.Flags().BoolVar(&quarantineFlag, "quarantine", false, "Copy inputs that fail to repair to <output_prefix>/_quarantine/")
	rootCmd.Flags().Int64Var(&minOutputBytesFlag, "min-output-bytes", 0, "Smallest repaired file accepted (default MIN_OUTPUT_BYTES or 1024)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	job, err := loadJob(jobFileFlag, os.Getenv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients := lambdaboot.InitAWS()
	objects := lambdaboot.InitObjectStore(clients.Config, cfg.ObjectStore)
	r, binary, err := lambdaboot.NewRunner(clients.Config, cfg, objects)
	if err != nil {
		return err
	}

	lambdaboot.StartupLog("repair-runner", initStart).
		Bucket("input", job.InputBucket).
		Bucket("output", job.OutputBucket).
		DynamoTable("jobs", cfg.JobsTable).
		EventBus("notify", cfg.Notify.EventBusName).
		Topic("notify", cfg.Notify.TopicARN).
		Feature("webhook", cfg.Notify.WebhookURL != "").
		Feature("report", cfg.Runner.WriteReport).
		Feature("copyReference", cfg.Runner.CopyReference).
		Feature("quarantine", cfg.Runner.Quarantine).
		Config("jobId", job.ID).
		Config("untrunc", binary).
		Config("workDir", cfg.Runner.WorkDir).
		Config("storageGb", os.Getenv(dispatch.EnvStorageGB)).
		Log()

	result, err := r.Run(ctx, job)
	if err != nil {
		return fmt.Errorf("job %s interrupted: %w", job.ID, err)
	}
	log.Info().Str("jobId", job.ID).Str("status", string(result.Status())).Msg("Runner exiting")
	return nil
}

// applyFlags overrides configuration with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("work-dir") {
		cfg.Runner.WorkDir = workDirFlag
	}
	if flags.Changed("untrunc") {
		cfg.Runner.Binary = binaryFlag
	}
	if flags.Changed("timeout") {
		cfg.Runner.Timeout = timeoutFlag
	}
	if flags.Changed("min-output-bytes") {
		cfg.Runner.MinOutputBytes = minOutputBytesFlag
	}
	if noReportFlag {
		cfg.Runner.WriteReport = false
	}
	if noCopyRefFlag {
		cfg.Runner.CopyReference = false
	}
	if quarantineFlag {
		cfg.Runner.Quarantine = true
	}
}

// loadJob reads the job from path when set, otherwise from the environment.
func loadJob(path string, getenv func(string) string) (*batch.Job, error) {
	if path == "" {
		job, err := dispatch.JobFromEnv(getenv)
		if err != nil {
			return nil, fmt.Errorf("read job from environment: %w", err)
		}
		return job, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var job batch.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}
	if job.ID == "" || job.Reference.Key == "" {
		return nil, fmt.Errorf("job file %s: job_id and reference are required", path)
	}
	if job.OutputPrefix == "" {
		job.OutputPrefix = job.InputPrefix
	}
	return &job, nil
}
