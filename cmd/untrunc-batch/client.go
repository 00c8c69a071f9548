package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/auth"
	"github.com/fpang/untrunc-batch/internal/batch"
	"github.com/fpang/untrunc-batch/internal/dispatch"
)

// defaultTimeout is the HTTP client timeout for API calls. Submission lists
// the whole prefix, so it is generous.
const defaultTimeout = 60 * time.Second

// apiClient talks to the submission API.
type apiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	return &apiClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// apiError is a non-2xx response.
type apiError struct {
	StatusCode int
	Message    string `json:"error"`
	Type       string `json:"error_type"`
}

func (e *apiError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// jobStatus is the body of GET /jobs/{id}.
type jobStatus struct {
	JobID        string              `json:"job_id"`
	Status       string              `json:"status"`
	Message      string              `json:"message"`
	InputBucket  string              `json:"input_bucket"`
	InputPrefix  string              `json:"input_prefix"`
	OutputBucket string              `json:"output_bucket"`
	OutputPrefix string              `json:"output_prefix"`
	FileCount    int                 `json:"file_count"`
	SuccessCount int                 `json:"success_count"`
	FailureCount int                 `json:"failure_count"`
	Outcomes     []batch.FileOutcome `json:"outcomes"`
}

func (c *apiClient) submit(ctx context.Context, req dispatch.Request) (*dispatch.Submission, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var sub dispatch.Submission
	if err := c.do(ctx, http.MethodPost, "/submit-batch", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *apiClient) status(ctx context.Context, jobID string) (*jobStatus, error) {
	var st jobStatus
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(auth.HeaderName, c.apiKey)
	}

	log.Debug().Str("method", method).Str("path", path).Msg("Calling submission API")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
