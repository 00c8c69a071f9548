package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects process identity, resources, features and
// configuration, then emits a single structured event summarising the
// cold-start state of a Lambda or the boot state of a Batch container.
type StartupLogger struct {
	name         string
	commitHash   string
	initDuration time.Duration

	buckets   map[string]string
	tables    map[string]string
	ssmParams map[string]string
	queues    map[string]string
	topics    map[string]string
	eventBus  map[string]string
	features  map[string]bool
	config    map[string]string
}

// NewStartupLogger creates a StartupLogger for the named binary
// (e.g. "submit-lambda", "repair-runner").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		buckets:   make(map[string]string),
		tables:    make(map[string]string),
		ssmParams: make(map[string]string),
		queues:    make(map[string]string),
		topics:    make(map[string]string),
		eventBus:  make(map[string]string),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

// CommitHash sets the git commit hash baked into the binary at build time.
func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

// Bucket registers a bucket used by this process. Empty names are skipped.
func (s *StartupLogger) Bucket(label, name string) *StartupLogger {
	return s.put(s.buckets, label, name)
}

// DynamoTable registers a DynamoDB table.
func (s *StartupLogger) DynamoTable(label, name string) *StartupLogger {
	return s.put(s.tables, label, name)
}

// SSMParam registers an SSM parameter path. Only the path is logged, never
// the value.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	return s.put(s.ssmParams, label, path)
}

// Queue registers a job queue, state machine or runner function.
func (s *StartupLogger) Queue(label, arn string) *StartupLogger {
	return s.put(s.queues, label, arn)
}

// Topic registers an SNS topic.
func (s *StartupLogger) Topic(label, arn string) *StartupLogger {
	return s.put(s.topics, label, arn)
}

// EventBus registers an EventBridge bus.
func (s *StartupLogger) EventBus(label, name string) *StartupLogger {
	return s.put(s.eventBus, label, name)
}

// Feature registers a boolean feature flag (e.g. "apiKeyAuth", "report").
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long initialization took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

func (s *StartupLogger) put(m map[string]string, label, value string) *StartupLogger {
	if value != "" {
		m[label] = value
	}
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits a single structured INFO event with all collected information.
func (s *StartupLogger) Log() {
	evt := log.Info()

	process := zerolog.Dict().
		Str("name", s.name).
		Str("region", os.Getenv("AWS_REGION")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", os.Getenv(LevelEnv))
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		process = process.
			Str("functionName", fn).
			Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
			Str("memoryMB", os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"))
	}
	if id := os.Getenv("AWS_BATCH_JOB_ID"); id != "" {
		process = process.Str("batchJobId", id).Str("batchAttempt", os.Getenv("AWS_BATCH_JOB_ATTEMPT"))
	}
	if s.commitHash != "" {
		process = process.Str("commitHash", s.commitHash)
	}
	evt = evt.Dict("process", process)

	// Resources: only non-empty maps are attached.
	resources := zerolog.Dict()
	hasResources := false
	for _, group := range []struct {
		key string
		m   map[string]string
	}{
		{"buckets", s.buckets},
		{"dynamoTables", s.tables},
		{"ssmParams", s.ssmParams},
		{"queues", s.queues},
		{"topics", s.topics},
		{"eventBuses", s.eventBus},
	} {
		if len(group.m) > 0 {
			resources = resources.Dict(group.key, dictFromMap(group.m))
			hasResources = true
		}
	}
	if hasResources {
		evt = evt.Dict("resources", resources)
	}

	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}

	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}

	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Startup complete")
}

// dictFromMap converts a map[string]string into a zerolog Dict.
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
