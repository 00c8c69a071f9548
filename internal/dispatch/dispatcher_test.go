package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/store"
)

const mb = 1024 * 1024

type fakeLister struct {
	files []batch.CandidateFile
	err   error
	calls int
}

func (f *fakeLister) List(_ context.Context, bucket, prefix string) ([]batch.CandidateFile, error) {
	f.calls++
	return f.files, f.err
}

type fakeQueue struct {
	jobs []*batch.Job
	err  error
}

func (q *fakeQueue) Name() string { return "fake" }

func (q *fakeQueue) Submit(_ context.Context, job *batch.Job) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return "queue-1", nil
}

type fakeRecorder struct {
	records []*store.JobRecord
	err     error
}

func (r *fakeRecorder) PutJob(_ context.Context, rec *store.JobRecord) error {
	r.records = append(r.records, rec)
	return r.err
}

var t0 = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func scenarioA() []batch.CandidateFile {
	return []batch.CandidateFile{
		{Key: "session/cam1/clip2.mp4", SizeBytes: 45 * mb, LastModified: t0.Add(time.Hour)},
		{Key: "session/cam1/clip1.mp4", SizeBytes: 10 * mb, LastModified: t0},
		{Key: "session/cam1/clip3.MOV", SizeBytes: 670 * mb, LastModified: t0.Add(2 * time.Hour)},
		{Key: "session/cam1/notes.txt", SizeBytes: 1},
	}
}

func newTestDispatcher(files []batch.CandidateFile) (*Dispatcher, *fakeLister, *fakeQueue, *fakeRecorder) {
	lister := &fakeLister{files: files}
	queue := &fakeQueue{}
	rec := &fakeRecorder{}
	d := New(lister, queue, rec, Defaults{InputBucket: "untrunc-input", OutputBucket: "untrunc-output"})
	d.now = func() time.Time { return t0 }
	d.newID = func() string { return "untrunc-0123456789ab" }
	return d, lister, queue, rec
}

func TestSubmitScenarioA(t *testing.T) {
	d, _, queue, rec := newTestDispatcher(scenarioA())

	sub, err := d.Submit(context.Background(), Request{InputPrefix: "/session/cam1/"})
	require.NoError(t, err)

	assert.Equal(t, "untrunc-0123456789ab", sub.JobID)
	assert.Equal(t, "queue-1", sub.QueueJobID)
	assert.Equal(t, "session/cam1/clip1.mp4", sub.ReferenceFile)
	assert.Equal(t, batch.StrategySmallest, sub.ReferenceStrategy)
	assert.Equal(t, []string{"session/cam1/clip2.mp4", "session/cam1/clip3.MOV"}, sub.FilesToRepair)
	assert.Equal(t, 2, sub.FileCount)
	assert.Equal(t, float64(715), sub.TotalSizeMB)
	assert.Equal(t, float64(670), sub.LargestFileMB)
	assert.Equal(t, batch.ResourcePlan{VCPU: 1, MemoryMB: 2048, StorageGB: 30, AutoScaled: true}, sub.Resources)

	assert.Equal(t, "untrunc-input", sub.InputBucket)
	assert.Equal(t, "untrunc-output", sub.OutputBucket)
	assert.Equal(t, "session/cam1", sub.OutputPrefix, "output prefix defaults to input prefix")

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, t0, queue.jobs[0].CreatedAt)
	require.Len(t, rec.records, 1)
	assert.Equal(t, batch.StatusSubmitted, rec.records[0].Status)
	assert.Equal(t, "fake", rec.records[0].Backend)
}

func TestSubmitNoFilesFound(t *testing.T) {
	d, lister, queue, rec := newTestDispatcher([]batch.CandidateFile{{Key: "session/readme.txt"}})

	_, err := d.Submit(context.Background(), Request{InputPrefix: "session"})
	require.ErrorIs(t, err, batch.ErrNoFilesFound)
	assert.Equal(t, 1, lister.calls)
	assert.Empty(t, queue.jobs, "no job is created")
	assert.Empty(t, rec.records)
}

func TestSubmitInputErrors(t *testing.T) {
	one := []batch.CandidateFile{{Key: "p/only.mp4", SizeBytes: 10}}
	neg := -1

	tests := []struct {
		name  string
		files []batch.CandidateFile
		req   Request
		want  *batch.Error
	}{
		{"missing prefix", scenarioA(), Request{InputPrefix: " / "}, batch.ErrInvalidRequest},
		{"bad bucket", scenarioA(), Request{InputPrefix: "p", InputBucket: "Bad_Bucket"}, batch.ErrInvalidRequest},
		{"traversal", scenarioA(), Request{InputPrefix: "p/../secret"}, batch.ErrInvalidRequest},
		{"bad output prefix", scenarioA(), Request{InputPrefix: "p", OutputPrefix: "out$"}, batch.ErrInvalidRequest},
		{"unknown strategy", scenarioA(), Request{InputPrefix: "p", ReferenceStrategy: "largest"}, batch.ErrInvalidRequest},
		{"explicit strategy string", scenarioA(), Request{InputPrefix: "p", ReferenceStrategy: "explicit"}, batch.ErrInvalidRequest},
		{"negative override", scenarioA(), Request{InputPrefix: "p", Overrides: batch.Overrides{VCPU: &neg}}, batch.ErrInvalidRequest},
		{"reference not found", scenarioA(), Request{InputPrefix: "p", ReferenceKey: "p/missing.mp4"}, batch.ErrReferenceNotFound},
		{"only reference", one, Request{InputPrefix: "p"}, batch.ErrEmptyBatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, queue, _ := newTestDispatcher(tt.files)
			_, err := d.Submit(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, batch.KindOf(err).IsInput())
			assert.Empty(t, queue.jobs)
		})
	}
}

func TestSubmitExplicitReferenceAndOverrides(t *testing.T) {
	d, _, _, _ := newTestDispatcher(scenarioA())
	vcpu := 4

	sub, err := d.Submit(context.Background(), Request{
		InputPrefix:  "session/cam1",
		OutputPrefix: "repaired",
		ReferenceKey: "session/cam1/clip2.mp4",
		Overrides:    batch.Overrides{VCPU: &vcpu},
	})
	require.NoError(t, err)

	assert.Equal(t, "session/cam1/clip2.mp4", sub.ReferenceFile)
	assert.Equal(t, batch.StrategyExplicit, sub.ReferenceStrategy)
	assert.Equal(t, "repaired", sub.OutputPrefix)
	assert.Equal(t, 4, sub.Resources.VCPU)
	assert.False(t, sub.Resources.AutoScaled)
}

func TestSubmitNewest(t *testing.T) {
	d, _, _, _ := newTestDispatcher(scenarioA())
	sub, err := d.Submit(context.Background(), Request{InputPrefix: "session/cam1", ReferenceStrategy: "newest"})
	require.NoError(t, err)
	assert.Equal(t, "session/cam1/clip3.MOV", sub.ReferenceFile)
}

func TestSubmitQueueFailure(t *testing.T) {
	d, _, queue, rec := newTestDispatcher(scenarioA())
	queue.err = errors.New("throttled")

	_, err := d.Submit(context.Background(), Request{InputPrefix: "session/cam1"})
	require.Error(t, err)
	assert.Equal(t, batch.Kind(""), batch.KindOf(err), "queue failures are not input errors")
	assert.Empty(t, rec.records)
}

func TestSubmitRecorderFailureIsNotFatal(t *testing.T) {
	d, _, queue, rec := newTestDispatcher(scenarioA())
	rec.err = errors.New("dynamo down")

	_, err := d.Submit(context.Background(), Request{InputPrefix: "session/cam1"})
	require.NoError(t, err)
	assert.Len(t, queue.jobs, 1)
}

func TestSubmitListFailure(t *testing.T) {
	d, lister, _, _ := newTestDispatcher(nil)
	lister.err = errors.New("access denied")

	_, err := d.Submit(context.Background(), Request{InputPrefix: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestPlanDoesNotSubmit(t *testing.T) {
	d, _, queue, rec := newTestDispatcher(scenarioA())

	job, err := d.Plan(context.Background(), Request{InputPrefix: "session/cam1"})
	require.NoError(t, err)
	assert.Empty(t, job.ID)
	assert.Len(t, job.Files, 2)
	assert.Empty(t, queue.jobs)
	assert.Empty(t, rec.records)
}
