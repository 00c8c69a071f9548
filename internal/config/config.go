// Package config reads process configuration from the environment.
//
// A .env file in the working directory is loaded first when present, so a
// local run and a deployed Lambda read the same variable names.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Queue backends accepted in QUEUE_BACKEND.
const (
	BackendBatch         = "batch"
	BackendStepFunctions = "stepfunctions"
	BackendLambda        = "lambda"
)

// DefaultAPIKeyHashParam is the SSM parameter holding the API key hash when
// API_KEY_HASH is not set.
const DefaultAPIKeyHashParam = "/untrunc-batch/prod/api-key-hash"

// Config is the full process configuration. Each binary uses the part it
// needs.
type Config struct {
	Port         string
	InputBucket  string
	OutputBucket string
	JobsTable    string

	APIKeyHash      string
	APIKeyHashParam string
	OriginSecret    string

	Queue       QueueConfig
	Notify      NotifyConfig
	ObjectStore ObjectStoreConfig
	Runner      RunnerConfig
}

// QueueConfig selects and addresses the compute backend.
type QueueConfig struct {
	Backend            string
	BatchJobQueue      string
	BatchJobDefinition string
	BatchAttempts      int32
	StateMachineARN    string
	RunnerFunction     string
}

// NotifyConfig lists the notification channels. Empty fields disable the
// channel.
type NotifyConfig struct {
	EventBusName  string
	TopicARN      string
	WebhookURL    string
	WebhookSecret string
}

// ObjectStoreConfig selects S3 or an S3-compatible endpoint. A non-empty
// Endpoint means MinIO.
type ObjectStoreConfig struct {
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	ProjectTag string
}

// RunnerConfig tunes the repair runner.
type RunnerConfig struct {
	WorkDir        string
	MinFreeBytes   uint64
	MinOutputBytes int64
	Binary         string
	Timeout        time.Duration
	CopyReference  bool
	WriteReport    bool
	Quarantine     bool
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{getenv: getenv}

	cfg := &Config{
		Port:            e.str("PORT", ":8080"),
		InputBucket:     e.str("DEFAULT_INPUT_BUCKET", ""),
		OutputBucket:    e.str("DEFAULT_OUTPUT_BUCKET", ""),
		JobsTable:       e.str("JOBS_TABLE_NAME", ""),
		APIKeyHash:      e.str("API_KEY_HASH", ""),
		APIKeyHashParam: e.str("API_KEY_HASH_PARAM", DefaultAPIKeyHashParam),
		OriginSecret:    e.str("ORIGIN_VERIFY_SECRET", ""),
		Queue: QueueConfig{
			Backend:            strings.ToLower(e.str("QUEUE_BACKEND", BackendBatch)),
			BatchJobQueue:      e.str("BATCH_JOB_QUEUE_ARN", ""),
			BatchJobDefinition: e.str("BATCH_JOB_DEFINITION_ARN", ""),
			BatchAttempts:      int32(e.int("BATCH_RETRY_ATTEMPTS", 2)),
			StateMachineARN:    e.str("SFN_STATE_MACHINE_ARN", ""),
			RunnerFunction:     e.str("RUNNER_FUNCTION_NAME", ""),
		},
		Notify: NotifyConfig{
			EventBusName:  e.str("EVENT_BUS_NAME", ""),
			TopicARN:      e.str("SNS_TOPIC_ARN", ""),
			WebhookURL:    e.str("WEBHOOK_URL", ""),
			WebhookSecret: e.str("WEBHOOK_SECRET", ""),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:   e.str("S3_ENDPOINT", ""),
			Region:     e.str("S3_REGION", e.str("AWS_REGION", "us-east-1")),
			AccessKey:  e.str("S3_ACCESS_KEY", ""),
			SecretKey:  e.str("S3_SECRET_KEY", ""),
			UseSSL:     e.bool("S3_USE_SSL", true),
			ProjectTag: e.str("PROJECT_TAG", "untrunc-batch"),
		},
		Runner: RunnerConfig{
			WorkDir:        e.str("WORK_DIR", os.TempDir()),
			MinFreeBytes:   uint64(e.int("MIN_FREE_BYTES", 1<<30)),
			MinOutputBytes: e.int("MIN_OUTPUT_BYTES", 1024),
			Binary:         e.str("UNTRUNC_BINARY", ""),
			Timeout:        e.duration("UNTRUNC_TIMEOUT", time.Hour),
			CopyReference:  e.bool("COPY_REFERENCE", true),
			WriteReport:    e.bool("WRITE_REPORT", true),
			Quarantine:     e.bool("QUARANTINE_FAILED", false),
		},
	}
	if e.err != nil {
		return nil, e.err
	}
	return cfg, nil
}

// Validate checks that the selected backend is addressable.
func (q QueueConfig) Validate() error {
	switch q.Backend {
	case BackendBatch:
		if q.BatchJobQueue == "" || q.BatchJobDefinition == "" {
			return fmt.Errorf("BATCH_JOB_QUEUE_ARN and BATCH_JOB_DEFINITION_ARN are required for the batch backend")
		}
	case BackendStepFunctions:
		if q.StateMachineARN == "" {
			return fmt.Errorf("SFN_STATE_MACHINE_ARN is required for the stepfunctions backend")
		}
	case BackendLambda:
		if q.RunnerFunction == "" {
			return fmt.Errorf("RUNNER_FUNCTION_NAME is required for the lambda backend")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be one of: batch, stepfunctions, lambda (got %q)", q.Backend)
	}
	return nil
}

// env reads typed values and keeps the first parse error.
type env struct {
	getenv func(string) string
	err    error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int64) int64 {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		e.fail(fmt.Errorf("%s must be a non-negative integer (got %q)", key, raw))
		return def
	}
	return v
}

func (e *env) bool(key string, def bool) bool {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(fmt.Errorf("%s must be a boolean (got %q)", key, raw))
		return def
	}
	return v
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		e.fail(fmt.Errorf("%s must be a positive duration like 45m (got %q)", key, raw))
		return def
	}
	return v
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
