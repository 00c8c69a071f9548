package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/dispatch"
)

type fakeSubmitter struct {
	reqs []dispatch.Request
	errs map[string]error
}

func (f *fakeSubmitter) Submit(_ context.Context, req dispatch.Request) (*dispatch.Submission, error) {
	f.reqs = append(f.reqs, req)
	if err := f.errs[req.InputPrefix]; err != nil {
		return nil, err
	}
	return &dispatch.Submission{JobID: "untrunc-" + req.InputPrefix, Backend: "batch"}, nil
}

func s3Event(bucket string, keys ...string) events.S3Event {
	var ev events.S3Event
	for _, k := range keys {
		ev.Records = append(ev.Records, events.S3EventRecord{
			S3: events.S3Entity{
				Bucket: events.S3Bucket{Name: bucket},
				Object: events.S3Object{Key: k},
			},
		})
	}
	return ev
}

func TestHandleSubmitsMarkerPrefixes(t *testing.T) {
	f := &fakeSubmitter{}
	tr := &trigger{submitter: f}

	res, err := tr.handle(context.Background(), s3Event("dashcam",
		"2024/trip+one/_READY",
		"2024/trip+one/clip.mp4",
		"_READY",
	))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.reqs) != 2 {
		t.Fatalf("submissions = %d, want 2", len(f.reqs))
	}
	if f.reqs[0].InputPrefix != "2024/trip one" || f.reqs[0].InputBucket != "dashcam" {
		t.Errorf("first request = %+v", f.reqs[0])
	}
	if f.reqs[1].InputPrefix != "" {
		t.Errorf("root marker prefix = %q", f.reqs[1].InputPrefix)
	}
	if len(res.Submitted) != 2 {
		t.Errorf("submitted = %v", res.Submitted)
	}
}

func TestHandleInputErrorsAreNotRetried(t *testing.T) {
	f := &fakeSubmitter{errs: map[string]error{
		"empty": batch.Errorf(batch.KindNoFilesFound, "no video files"),
	}}
	res, err := (&trigger{submitter: f}).handle(context.Background(), s3Event("b", "empty/_READY"))
	if err != nil {
		t.Fatalf("input errors should not fail the invocation: %v", err)
	}
	if len(res.Rejected) != 1 || res.Rejected[0] != "empty" {
		t.Errorf("rejected = %v", res.Rejected)
	}
}

func TestHandleQueueErrorsAreReturned(t *testing.T) {
	f := &fakeSubmitter{errs: map[string]error{"cam": errors.New("throttled")}}
	res, err := (&trigger{submitter: f}).handle(context.Background(), s3Event("b", "cam/_READY", "ok/_READY"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(res.Submitted) != 1 {
		t.Errorf("other markers should still be submitted, got %v", res.Submitted)
	}
}
