package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fpang/untrunc-batch/internal/auth"
	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/dispatch"
)

func TestClientSubmit(t *testing.T) {
	var gotKey string
	var gotReq dispatch.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submit-batch" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get(auth.HeaderName)
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(dispatch.Submission{JobID: "untrunc-0123456789ab", FileCount: 2})
	}))
	defer srv.Close()

	vcpu := 4
	sub, err := newAPIClient(srv.URL+"/", "k").submit(context.Background(), dispatch.Request{
		InputPrefix: "cam",
		Overrides:   batch.Overrides{VCPU: &vcpu},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.JobID != "untrunc-0123456789ab" || sub.FileCount != 2 {
		t.Errorf("submission = %+v", sub)
	}
	if gotKey != "k" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotReq.InputPrefix != "cam" || gotReq.VCPU == nil || *gotReq.VCPU != 4 {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit-batch":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"NoFilesFoundError: no video files","error_type":"NoFilesFoundError"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()
	c := newAPIClient(srv.URL, "")

	_, err := c.submit(context.Background(), dispatch.Request{InputPrefix: "cam"})
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 || apiErr.Type != "NoFilesFoundError" {
		t.Fatalf("err = %v", err)
	}

	_, err = c.status(context.Background(), "untrunc-0123456789ab")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 502 || apiErr.Message != "upstream down" {
		t.Fatalf("err = %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	st := &jobStatus{JobID: "untrunc-0123456789ab", Status: "PARTIAL", FileCount: 2, SuccessCount: 1, FailureCount: 1}
	st.Outcomes = []batch.FileOutcome{{InputKey: "cam/b.mp4", Status: batch.OutcomeFailure, ErrorKind: batch.KindOutputTooSmall, Error: "output is 12 bytes"}}

	var buf bytes.Buffer
	printStatus(&buf, st)
	out := buf.String()
	for _, want := range []string{"PARTIAL", "1 repaired, 1 failed", "[FAILURE] cam/b.mp4 OutputTooSmallError"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
