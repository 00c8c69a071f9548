package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/auth"
	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/dispatch"
	"github.com/fpang/untrunc-batch/internal/jobs"
	"github.com/fpang/untrunc-batch/internal/metrics"
	"github.com/fpang/untrunc-batch/internal/store"
)

// maxRequestBody bounds POST /submit-batch bodies.
const maxRequestBody = 64 << 10

type submitter interface {
	Submit(ctx context.Context, req dispatch.Request) (*dispatch.Submission, error)
}

type jobReader interface {
	GetJob(ctx context.Context, jobID string) (*store.JobRecord, error)
	GetOutcomes(ctx context.Context, jobID string) ([]batch.FileOutcome, error)
}

type api struct {
	submitter    submitter
	jobs         jobReader // nil when no table is configured
	validator    *auth.Validator
	originSecret string
}

// jobResponse is the body of GET /jobs/{id}.
type jobResponse struct {
	*store.JobRecord
	Outcomes []batch.FileOutcome `json:"outcomes,omitempty"`
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/submit-batch", a.handleSubmit)
	mux.HandleFunc("/jobs/", a.handleJob)
	return withMetrics(withOriginVerify(a.originSecret, withAPIKey(a.validator, mux)))
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "untrunc-batch",
	})
}

// POST /submit-batch
func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req dispatch.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := a.submitter.Submit(r.Context(), req)
	if err != nil {
		log.Warn().Err(err).Str("inputPrefix", req.InputPrefix).Msg("Submission rejected")
		respondBatchError(w, err)
		return
	}

	metrics.New(metrics.Namespace).
		Dimension("Backend", sub.Backend).
		Count(metrics.JobsSubmitted).
		Property("jobId", sub.JobID).
		Property("fileCount", sub.FileCount).
		Flush()

	respondJSON(w, http.StatusAccepted, sub)
}

// GET /jobs/{id}
func (a *api) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID, action, ok := jobs.ParseRoute(r.URL.Path, "/jobs/")
	if !ok || action != "" {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	if a.jobs == nil {
		httpError(w, http.StatusServiceUnavailable, "job tracking is not configured")
		return
	}

	rec, err := a.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	if rec == nil {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := jobResponse{JobRecord: rec}
	if rec.Status.IsTerminal() {
		outcomes, err := a.jobs.GetOutcomes(r.Context(), jobID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal error", err.Error())
			return
		}
		resp.Outcomes = outcomes
	}
	respondJSON(w, http.StatusOK, resp)
}
