package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/notify"
	"github.com/fpang/untrunc-batch/internal/untrunc"
)

// memStore is an in-memory Store.
type memStore struct {
	objects    map[string][]byte
	failUpload map[string]bool
	uploads    map[string][]byte
	puts       map[string][]byte
}

func newMemStore(objects map[string][]byte) *memStore {
	return &memStore{
		objects:    objects,
		failUpload: map[string]bool{},
		uploads:    map[string][]byte{},
		puts:       map[string][]byte{},
	}
}

func (m *memStore) Download(_ context.Context, bucket, key, localPath string) (int64, error) {
	data, ok := m.objects[key]
	if !ok {
		return 0, errors.New("NoSuchKey: " + key)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, err
	}
	return int64(len(data)), os.WriteFile(localPath, data, 0o644)
}

func (m *memStore) Upload(_ context.Context, bucket, key, localPath string) error {
	if m.failUpload[key] {
		return errors.New("upload refused")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.uploads[key] = data
	return nil
}

func (m *memStore) Put(_ context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.puts[key] = data
	return nil
}

// scriptedRepairer runs a per-input behaviour keyed by the input basename.
type scriptedRepairer struct {
	t      *testing.T
	behave map[string]func(input, dst string) (string, error)
	calls  []string
}

func (s *scriptedRepairer) Run(_ context.Context, reference, input, dst string) (string, error) {
	s.calls = append(s.calls, filepath.Base(input))
	if _, err := os.Stat(reference); err != nil {
		s.t.Errorf("reference missing during repair: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(input))
	if len(entries) != 1 {
		s.t.Errorf("expected only the current input on disk, found %d entries", len(entries))
	}
	if fn, ok := s.behave[filepath.Base(input)]; ok {
		return fn(input, dst)
	}
	return writeOutput(dst, 4096)
}

func writeOutput(path string, size int) (string, error) {
	return "ok", os.WriteFile(path, make([]byte, size), 0o644)
}

type fixedDisk struct{ free uint64 }

func (d fixedDisk) FreeBytes(string) (uint64, error) { return d.free, nil }

type recordingPublisher struct {
	sent []notify.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n notify.Notification) error {
	p.sent = append(p.sent, n)
	return nil
}

type recordingRecorder struct {
	results []*batch.Result
}

func (r *recordingRecorder) CompleteJob(_ context.Context, _ *batch.Job, result *batch.Result) error {
	r.results = append(r.results, result)
	return nil
}

type harness struct {
	runner    *Runner
	store     *memStore
	repairer  *scriptedRepairer
	publisher *recordingPublisher
	recorder  *recordingRecorder
	workDir   string
}

func newHarness(t *testing.T, objects map[string][]byte, free uint64) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(objects),
		repairer:  &scriptedRepairer{t: t, behave: map[string]func(string, string) (string, error){}},
		publisher: &recordingPublisher{},
		recorder:  &recordingRecorder{},
		workDir:   t.TempDir(),
	}
	h.runner = New(Config{WorkDir: h.workDir, CopyReference: true, WriteReport: true},
		h.store, h.repairer, h.publisher, fixedDisk{free: free}, h.recorder)
	h.runner.metricsTo = io.Discard
	h.runner.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return h
}

func testObjects() map[string][]byte {
	return map[string][]byte{
		"cam/ref.mp4": make([]byte, 100),
		"cam/a.mp4":   make([]byte, 2000),
		"cam/b.mp4":   make([]byte, 3000),
	}
}

func testJob(keys ...string) *batch.Job {
	job := &batch.Job{
		ID:           "untrunc-0123456789ab",
		InputBucket:  "in",
		InputPrefix:  "cam",
		OutputBucket: "out",
		OutputPrefix: "fixed",
		Reference:    batch.ReferenceSelection{Key: "cam/ref.mp4", SizeBytes: 100, Strategy: batch.StrategySmallest},
	}
	for _, k := range keys {
		job.Files = append(job.Files, batch.CandidateFile{Key: k})
	}
	return job
}

func TestRunAllSucceed(t *testing.T) {
	h := newHarness(t, testObjects(), DefaultMinFreeBytes)

	result, err := h.runner.Run(context.Background(), testJob("cam/a.mp4", "cam/b.mp4"))
	require.NoError(t, err)

	assert.Equal(t, batch.StatusCompleted, result.Status())
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, h.repairer.calls)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "fixed/a.mp4", result.Outcomes[0].OutputKey)
	assert.Equal(t, int64(4096), result.Outcomes[0].SizeBytes)

	assert.Contains(t, h.store.uploads, "fixed/a.mp4")
	assert.Contains(t, h.store.uploads, "fixed/b.mp4")
	assert.Contains(t, h.store.uploads, "fixed/ref.mp4", "reference is copied to the output")

	require.Len(t, h.publisher.sent, 1)
	assert.Equal(t, batch.StatusCompleted, h.publisher.sent[0].Status)
	assert.Equal(t, "All 2 files repaired successfully", h.publisher.sent[0].Message)
	require.Len(t, h.recorder.results, 1)

	entries, _ := os.ReadDir(h.workDir)
	assert.Empty(t, entries, "work dir is cleaned up")
}

func TestRunOutputTooSmallContinues(t *testing.T) {
	h := newHarness(t, testObjects(), DefaultMinFreeBytes)
	h.repairer.behave["a.mp4"] = func(_, dst string) (string, error) {
		return writeOutput(dst, 0)
	}

	result, err := h.runner.Run(context.Background(), testJob("cam/a.mp4", "cam/b.mp4"))
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, batch.OutcomeFailure, result.Outcomes[0].Status)
	assert.Equal(t, batch.KindOutputTooSmall, result.Outcomes[0].ErrorKind)
	assert.Equal(t, batch.OutcomeSuccess, result.Outcomes[1].Status)
	assert.Equal(t, batch.StatusPartial, result.Status())
	assert.NotContains(t, h.store.uploads, "fixed/a.mp4")

	require.Len(t, h.publisher.sent, 1)
	assert.Equal(t, []string{"cam/a.mp4"}, h.publisher.sent[0].FailedFiles)
	assert.Equal(t, []string{"cam/b.mp4"}, h.publisher.sent[0].SuccessFiles)
}

func TestRunFailureKinds(t *testing.T) {
	objects := testObjects()
	objects["cam/c.mp4"] = make([]byte, 10)
	objects["cam/d.mp4"] = make([]byte, 10)
	objects["cam/e.mp4"] = make([]byte, 10)
	h := newHarness(t, objects, DefaultMinFreeBytes)

	h.repairer.behave["a.mp4"] = func(string, string) (string, error) {
		return "moov atom not found", &untrunc.ExitError{Code: 1, Output: "moov atom not found"}
	}
	h.repairer.behave["b.mp4"] = func(string, string) (string, error) {
		return "nothing written", nil
	}
	h.repairer.behave["c.mp4"] = func(input, _ string) (string, error) {
		return writeOutput(untrunc.FallbackPath(input), 2048)
	}
	h.store.failUpload["fixed/d.mp4"] = true

	result, err := h.runner.Run(context.Background(),
		testJob("cam/a.mp4", "cam/b.mp4", "cam/c.mp4", "cam/d.mp4", "cam/missing.mp4", "cam/e.mp4"))
	require.NoError(t, err)

	kinds := make([]batch.Kind, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		kinds = append(kinds, o.ErrorKind)
	}
	assert.Equal(t, []batch.Kind{
		batch.KindRepairTool,
		batch.KindOutputNotProduced,
		"",
		batch.KindUpload,
		batch.KindDownload,
		"",
	}, kinds)

	assert.Equal(t, "moov atom not found", result.Outcomes[0].ToolOutput)
	assert.Contains(t, h.store.uploads, "fixed/c.mp4", "fallback output is uploaded")
	assert.Equal(t, batch.StatusPartial, result.Status())
	assert.Len(t, h.publisher.sent, 1)
}

func TestRunQuarantinesFailedInputs(t *testing.T) {
	h := newHarness(t, testObjects(), DefaultMinFreeBytes)
	h.runner.cfg.QuarantineFailed = true
	h.repairer.behave["a.mp4"] = func(_, dst string) (string, error) {
		return writeOutput(dst, 0)
	}

	result, err := h.runner.Run(context.Background(), testJob("cam/a.mp4", "cam/b.mp4", "cam/missing.mp4"))
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, "fixed/_quarantine/a.mp4", result.Outcomes[0].Quarantine)
	assert.Equal(t, make([]byte, 2000), h.store.uploads["fixed/_quarantine/a.mp4"], "original input bytes are kept")
	assert.Empty(t, result.Outcomes[1].Quarantine, "successful files are not quarantined")
	assert.Empty(t, result.Outcomes[2].Quarantine, "nothing to quarantine when the download failed")
	assert.NotContains(t, h.store.uploads, "fixed/_quarantine/missing.mp4")
}

func TestRunQuarantineUploadFailureKeepsOutcome(t *testing.T) {
	h := newHarness(t, testObjects(), DefaultMinFreeBytes)
	h.runner.cfg.QuarantineFailed = true
	h.store.failUpload["fixed/_quarantine/a.mp4"] = true
	h.repairer.behave["a.mp4"] = func(_, dst string) (string, error) {
		return writeOutput(dst, 0)
	}

	result, err := h.runner.Run(context.Background(), testJob("cam/a.mp4"))
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, batch.KindOutputTooSmall, result.Outcomes[0].ErrorKind)
	assert.Empty(t, result.Outcomes[0].Quarantine)
}

func TestRunInsufficientDisk(t *testing.T) {
	h := newHarness(t, testObjects(), DefaultMinFreeBytes-1)

	result, err := h.runner.Run(context.Background(), testJob("cam/a.mp4", "cam/b.mp4"))
	require.NoError(t, err)

	for _, o := range result.Outcomes {
		assert.Equal(t, batch.KindInsufficientDisk, o.ErrorKind)
	}
	assert.Empty(t, h.repairer.calls)
	assert.Equal(t, batch.StatusFailed, result.Status())
	assert.Equal(t, "All 2 files failed to repair", h.publisher.sent[0].Message)
}

func TestRunReferenceDownloadAborts(t *testing.T) {
	objects := testObjects()
	delete(objects, "cam/ref.mp4")
	h := newHarness(t, objects, DefaultMinFreeBytes)

	result, err := h.runner.Run(context.Background(), testJob("cam/a.mp4", "cam/b.mp4"))
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	for _, o := range result.Outcomes {
		assert.Equal(t, batch.OutcomeFailure, o.Status)
		assert.Equal(t, batch.KindReferenceDownload, o.ErrorKind)
	}
	assert.Empty(t, h.repairer.calls)
	assert.Equal(t, batch.StatusFailed, result.Status())
	assert.Contains(t, result.AbortError, "ReferenceDownloadError")

	require.Len(t, h.publisher.sent, 1)
	sent := h.publisher.sent[0]
	assert.True(t, strings.HasPrefix(sent.Message, "Job aborted"))
	assert.Equal(t, 2, sent.TotalFiles)
	assert.Equal(t, 2, sent.FailureCount)
	assert.Equal(t, []string{"cam/a.mp4", "cam/b.mp4"}, sent.FailedFiles)
}

func TestRunZeroFiles(t *testing.T) {
	h := newHarness(t, testObjects(), DefaultMinFreeBytes)

	result, err := h.runner.Run(context.Background(), testJob())
	require.NoError(t, err)

	assert.Equal(t, batch.StatusFailed, result.Status())
	require.Len(t, h.publisher.sent, 1)
	assert.Equal(t, "No files to repair", h.publisher.sent[0].Message)
	assert.NotContains(t, h.store.uploads, "fixed/ref.mp4")
}

func TestRunCancelledSendsNothing(t *testing.T) {
	h := newHarness(t, testObjects(), DefaultMinFreeBytes)
	ctx, cancel := context.WithCancel(context.Background())
	h.repairer.behave["a.mp4"] = func(_, dst string) (string, error) {
		cancel()
		return writeOutput(dst, 4096)
	}

	_, err := h.runner.Run(ctx, testJob("cam/a.mp4", "cam/b.mp4"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.publisher.sent)
	assert.Empty(t, h.recorder.results)
	assert.Equal(t, []string{"a.mp4"}, h.repairer.calls)
}

func TestRunWritesReport(t *testing.T) {
	h := newHarness(t, testObjects(), DefaultMinFreeBytes)
	h.repairer.behave["b.mp4"] = func(string, string) (string, error) {
		return "bad", &untrunc.ExitError{Code: 2, Output: "bad"}
	}

	_, err := h.runner.Run(context.Background(), testJob("cam/a.mp4", "cam/b.mp4"))
	require.NoError(t, err)

	data, ok := h.store.puts["fixed/_untrunc/untrunc-0123456789ab.json.zst"]
	require.True(t, ok, "report uploaded")
	rep, err := DecodeReport(data)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusPartial, rep.Status)
	assert.Equal(t, batch.Totals{Total: 2, Success: 1, Failure: 1}, rep.Totals)
	assert.Equal(t, "bad", rep.Result.Outcomes[1].ToolOutput)
}

func TestReportKey(t *testing.T) {
	assert.Equal(t, "fixed/_untrunc/j.json.zst", ReportKey("fixed/", "j"))
	assert.Equal(t, "_untrunc/j.json.zst", ReportKey("", "j"))
}

func TestStatfsProbe(t *testing.T) {
	free, err := StatfsProbe{}.FreeBytes(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}
