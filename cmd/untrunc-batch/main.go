// Package main is the operator CLI for the untrunc batch service.
//
// submit and status call the submission API; plan runs reference selection
// and resource planning locally against the object store without queueing
// anything.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fpang/untrunc-batch/internal/auth"
	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/config"
	"github.com/fpang/untrunc-batch/internal/dispatch"
	"github.com/fpang/untrunc-batch/internal/lambdaboot"
	"github.com/fpang/untrunc-batch/internal/logging"
)

// apiURLEnv is read when --api-url is not given.
const apiURLEnv = "UNTRUNC_API_URL"

// CLI flags
var (
	apiURLFlag string
	jsonFlag   bool

	inputBucketFlag  string
	inputPrefixFlag  string
	outputBucketFlag string
	outputPrefixFlag string
	strategyFlag     string
	referenceFlag    string
	vcpuFlag         int
	memoryFlag       int
	storageFlag      int
)

var rootCmd = &cobra.Command{
	Use:   "untrunc-batch",
	Short: "Submit and inspect batch untrunc repair jobs",
	Long: `untrunc-batch submits prefixes of truncated videos for repair and reports
on the resulting jobs.

The API key is read from UNTRUNC_API_KEY or ~/.untrunc-batch/credentials.gpg.

Examples:
  untrunc-batch submit --input-prefix dashcam/2024-06-01
  untrunc-batch submit --input-prefix cam1 --reference cam1/short.mp4 --vcpu 4
  untrunc-batch plan --input-prefix cam1 --strategy newest
  untrunc-batch status untrunc-3f2a9c0d1e4b`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a prefix for repair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClientFromEnv()
		if err != nil {
			return err
		}
		sub, err := client.submit(cmd.Context(), requestFromFlags(cmd))
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), sub, func(w io.Writer) { printSubmission(w, sub) })
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClientFromEnv()
		if err != nil {
			return err
		}
		st, err := client.status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), st, func(w io.Writer) { printStatus(w, st) })
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Select the reference and plan resources without submitting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		clients := lambdaboot.InitAWS()
		objects := lambdaboot.InitObjectStore(clients.Config, cfg.ObjectStore)
		d := dispatch.New(objects, nil, nil, dispatch.Defaults{InputBucket: cfg.InputBucket, OutputBucket: cfg.OutputBucket})

		job, err := d.Plan(cmd.Context(), requestFromFlags(cmd))
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), job, func(w io.Writer) { printPlan(w, job) })
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURLFlag, "api-url", "", "Submission API base URL (default "+apiURLEnv+")")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print raw JSON")

	for _, cmd := range []*cobra.Command{submitCmd, planCmd} {
		f := cmd.Flags()
		f.StringVarP(&inputPrefixFlag, "input-prefix", "p", "", "Prefix containing the truncated videos (required)")
		f.StringVar(&inputBucketFlag, "input-bucket", "", "Input bucket (default DEFAULT_INPUT_BUCKET)")
		f.StringVar(&outputBucketFlag, "output-bucket", "", "Output bucket (default DEFAULT_OUTPUT_BUCKET)")
		f.StringVar(&outputPrefixFlag, "output-prefix", "", "Output prefix (default: the input prefix)")
		f.StringVar(&strategyFlag, "strategy", "", "Reference strategy: smallest or newest (default smallest)")
		f.StringVar(&referenceFlag, "reference", "", "Explicit reference key; overrides --strategy")
		f.IntVar(&vcpuFlag, "vcpu", 0, "vCPU override")
		f.IntVar(&memoryFlag, "memory-mb", 0, "Memory override in MiB")
		f.IntVar(&storageFlag, "storage-gb", 0, "Storage override in GiB")
		cmd.MarkFlagRequired("input-prefix")
	}

	rootCmd.AddCommand(submitCmd, statusCmd, planCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newClientFromEnv() (*apiClient, error) {
	baseURL := apiURLFlag
	if baseURL == "" {
		baseURL = os.Getenv(apiURLEnv)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("API URL not set: use --api-url or %s", apiURLEnv)
	}
	key, err := auth.GetAPIKey()
	if err != nil {
		return nil, err
	}
	return newAPIClient(baseURL, key), nil
}

// requestFromFlags builds a request; overrides are set only for flags the
// user passed, so an explicit 0 is still rejected by validation.
func requestFromFlags(cmd *cobra.Command) dispatch.Request {
	req := dispatch.Request{
		InputBucket:       inputBucketFlag,
		InputPrefix:       inputPrefixFlag,
		OutputBucket:      outputBucketFlag,
		OutputPrefix:      outputPrefixFlag,
		ReferenceStrategy: strategyFlag,
		ReferenceKey:      referenceFlag,
	}
	f := cmd.Flags()
	if f.Changed("vcpu") {
		req.VCPU = &vcpuFlag
	}
	if f.Changed("memory-mb") {
		req.MemoryMB = &memoryFlag
	}
	if f.Changed("storage-gb") {
		req.StorageGB = &storageFlag
	}
	return req
}

func printResult(w io.Writer, v interface{}, human func(io.Writer)) error {
	if jsonFlag {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

func printSubmission(w io.Writer, s *dispatch.Submission) {
	fmt.Fprintln(w, "Job submitted")
	fmt.Fprintf(w, "  Job ID:     %s\n", s.JobID)
	fmt.Fprintf(w, "  Queue:      %s (%s)\n", s.Backend, s.QueueJobID)
	fmt.Fprintf(w, "  Input:      s3://%s/%s\n", s.InputBucket, s.InputPrefix)
	fmt.Fprintf(w, "  Output:     s3://%s/%s\n", s.OutputBucket, s.OutputPrefix)
	fmt.Fprintf(w, "  Reference:  %s (%.2f MB, %s)\n", s.ReferenceFile, s.ReferenceSizeMB, s.ReferenceStrategy)
	fmt.Fprintf(w, "  Files:      %d (%.2f MB total, largest %.2f MB)\n", s.FileCount, s.TotalSizeMB, s.LargestFileMB)
	printResources(w, s.Resources)
}

func printPlan(w io.Writer, job *batch.Job) {
	fmt.Fprintln(w, "Plan (not submitted)")
	fmt.Fprintf(w, "  Input:      s3://%s/%s\n", job.InputBucket, job.InputPrefix)
	fmt.Fprintf(w, "  Output:     s3://%s/%s\n", job.OutputBucket, job.OutputPrefix)
	fmt.Fprintf(w, "  Reference:  %s (%s)\n", job.Reference.Key, job.Reference.Strategy)
	fmt.Fprintf(w, "  Files:      %d\n", len(job.Files))
	for _, f := range job.Files {
		fmt.Fprintf(w, "    %s\n", f.Key)
	}
	printResources(w, job.Resources)
}

func printResources(w io.Writer, r batch.ResourcePlan) {
	mode := "auto"
	if !r.AutoScaled {
		mode = "override"
	}
	fmt.Fprintf(w, "  Resources:  %d vCPU, %d MiB, %d GiB (%s)\n", r.VCPU, r.MemoryMB, r.StorageGB, mode)
}

func printStatus(w io.Writer, st *jobStatus) {
	fmt.Fprintf(w, "Job %s: %s\n", st.JobID, st.Status)
	if st.Message != "" {
		fmt.Fprintf(w, "  %s\n", st.Message)
	}
	fmt.Fprintf(w, "  Input:   s3://%s/%s\n", st.InputBucket, st.InputPrefix)
	fmt.Fprintf(w, "  Output:  s3://%s/%s\n", st.OutputBucket, st.OutputPrefix)
	fmt.Fprintf(w, "  Files:   %d (%d repaired, %d failed)\n", st.FileCount, st.SuccessCount, st.FailureCount)
	for _, o := range st.Outcomes {
		line := fmt.Sprintf("    [%s] %s", strings.ToUpper(string(o.Status)), o.InputKey)
		if o.ErrorKind != "" {
			line += fmt.Sprintf(" %s: %s", o.ErrorKind, o.Error)
		}
		fmt.Fprintln(w, line)
	}
}
