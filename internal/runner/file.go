package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/untrunc"
)

// toolOutputLimit bounds the tool output kept on an outcome.
const toolOutputLimit = 500

// State is the position of one file in the repair state machine.
type State string

const (
	StatePending     State = "PENDING"
	StateDownloading State = "DOWNLOADING"
	StateRepairing   State = "REPAIRING"
	StateVerifying   State = "VERIFYING"
	StateUploading   State = "UPLOADING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// fileRun carries one file through the state machine.
type fileRun struct {
	state  State
	logger zerolog.Logger

	input  string
	output string

	size       int64
	toolOutput string
	downloaded bool
}

func (f *fileRun) enter(s State) {
	f.logger.Debug().Str("from", string(f.state)).Str("state", string(s)).Msg("File state")
	f.state = s
}

// processFile runs one file to DONE or FAILED and removes its artifacts.
func (r *Runner) processFile(ctx context.Context, job *batch.Job, refPath, jobDir string, f batch.CandidateFile) batch.FileOutcome {
	start := r.now()
	outKey := batch.OutputKey(job.InputPrefix, job.OutputPrefix, f.Key)
	dir := filepath.Join(jobDir, "file")
	base := filepath.Base(f.Key)

	run := &fileRun{
		state:  StatePending,
		logger: log.With().Str("jobId", job.ID).Str("key", f.Key).Logger(),
		input:  filepath.Join(dir, "in", base),
		output: filepath.Join(dir, "out", base),
	}
	defer os.RemoveAll(dir)

	outcome := batch.FileOutcome{InputKey: f.Key, OutputKey: outKey}
	if err := r.advance(ctx, job, f.Key, refPath, outKey, run); err != nil {
		run.enter(StateFailed)
		outcome.Status = batch.OutcomeFailure
		outcome.ErrorKind = batch.KindOf(err)
		outcome.Error = err.Error()
		outcome.ToolOutput = run.toolOutput
		run.logger.Warn().Err(err).Str("errorKind", string(outcome.ErrorKind)).Msg("File repair failed")
		if r.cfg.QuarantineFailed && run.downloaded {
			outcome.Quarantine = r.quarantine(ctx, job, f.Key, run)
		}
	} else {
		run.enter(StateDone)
		outcome.Status = batch.OutcomeSuccess
		outcome.SizeBytes = run.size
	}
	outcome.DurationMs = r.now().Sub(start).Milliseconds()
	return outcome
}

// advance walks the happy path. Each returned error carries its kind.
func (r *Runner) advance(ctx context.Context, job *batch.Job, key, refPath, outKey string, run *fileRun) error {
	free, err := r.disk.FreeBytes(r.cfg.WorkDir)
	if err != nil {
		return batch.Wrap(batch.KindInsufficientDisk, err, "statfs "+r.cfg.WorkDir)
	}
	if free < r.cfg.MinFreeBytes {
		return batch.Errorf(batch.KindInsufficientDisk, "%d bytes free, need %d", free, r.cfg.MinFreeBytes)
	}

	run.enter(StateDownloading)
	if err := os.MkdirAll(filepath.Dir(run.output), 0o755); err != nil {
		return batch.Wrap(batch.KindDownload, err, "prepare work dir")
	}
	if _, err := r.store.Download(ctx, job.InputBucket, key, run.input); err != nil {
		return batch.Wrap(batch.KindDownload, err, "")
	}
	run.downloaded = true

	run.enter(StateRepairing)
	start := time.Now()
	out, err := r.repairer.Run(ctx, refPath, run.input, run.output)
	run.toolOutput = untrunc.Truncate(out, toolOutputLimit)
	if err != nil {
		var exitErr *untrunc.ExitError
		if errors.As(err, &exitErr) {
			run.toolOutput = exitErr.Output
		}
		return batch.Wrap(batch.KindRepairTool, err, "")
	}
	run.logger.Debug().Dur("duration", time.Since(start)).Msg("Repair tool finished")

	source, size, err := r.policy.Resolve(run.input, run.output)
	if err != nil {
		return batch.Wrap(batch.KindOutputNotProduced, err, "")
	}
	run.logger.Debug().Str("source", source.String()).Int64("size", size).Msg("Repaired output located")

	run.enter(StateVerifying)
	if size < r.cfg.MinOutputBytes {
		return batch.Errorf(batch.KindOutputTooSmall, "output is %d bytes, need at least %d", size, r.cfg.MinOutputBytes)
	}
	run.size = size

	run.enter(StateUploading)
	if err := r.store.Upload(ctx, job.OutputBucket, outKey, run.output); err != nil {
		return batch.Wrap(batch.KindUpload, err, "")
	}
	return nil
}

// quarantine copies a failed input aside and returns its key, or "" when the
// copy failed. The file outcome stands either way.
func (r *Runner) quarantine(ctx context.Context, job *batch.Job, key string, run *fileRun) string {
	qKey := batch.QuarantineKey(job.InputPrefix, job.OutputPrefix, key)
	if err := r.store.Upload(ctx, job.OutputBucket, qKey, run.input); err != nil {
		run.logger.Warn().Err(err).Str("quarantineKey", qKey).Msg("Failed to quarantine input")
		return ""
	}
	run.logger.Info().Str("quarantineKey", qKey).Msg("Input quarantined")
	return qKey
}
