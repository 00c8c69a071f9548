// Package lambdaboot provides shared cold-start bootstrap logic.
//
// Every binary in the project needs some subset of: AWS config, the object
// store, the jobs table, the API key hash, a queue backend, the notification
// channels, and startup logging. This package extracts the common init
// patterns so each main is a short composition of helpers.
package lambdaboot

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/config"
	"github.com/fpang/untrunc-batch/internal/dispatch"
	"github.com/fpang/untrunc-batch/internal/logging"
	"github.com/fpang/untrunc-batch/internal/notify"
	"github.com/fpang/untrunc-batch/internal/objectstore"
	"github.com/fpang/untrunc-batch/internal/store"
)

// AWSClients holds the AWS config and the SSM client used at cold start.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitObjectStore returns a MinIO store when an S3-compatible endpoint is
// configured and an S3 store otherwise. Fatals if the endpoint is unusable.
func InitObjectStore(cfg aws.Config, c config.ObjectStoreConfig) objectstore.Store {
	if c.Endpoint == "" {
		return objectstore.NewS3Store(s3.NewFromConfig(cfg), c.ProjectTag)
	}
	st, err := objectstore.NewMinioStore(objectstore.MinioConfig{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		UseSSL:    c.UseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", c.Endpoint).Msg("Failed to initialize S3-compatible store")
	}
	log.Info().Str("endpoint", c.Endpoint).Msg("Using S3-compatible object store")
	return st
}

// InitDynamoOptional creates the jobs store if a table is configured.
// Returns nil (with a warning) if not.
func InitDynamoOptional(cfg aws.Config, table string) *store.DynamoStore {
	if table == "" {
		log.Warn().Msg("JOBS_TABLE_NAME not set, job records disabled")
		return nil
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table)
}

// ParamGetter is the subset of *ssm.Client used to read secrets.
type ParamGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, opts ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadAPIKeyHash returns the API key hash from the environment, falling back
// to SSM Parameter Store. An unreadable parameter disables auth with a
// warning rather than failing the cold start.
func LoadAPIKeyHash(ctx context.Context, ssmClient ParamGetter, c *config.Config) string {
	if c.APIKeyHash != "" {
		return c.APIKeyHash
	}
	if ssmClient == nil || c.APIKeyHashParam == "" {
		return ""
	}
	start := time.Now()
	out, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(c.APIKeyHashParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil || out.Parameter == nil {
		log.Warn().Err(err).Str("param", c.APIKeyHashParam).Msg("API key hash not found in SSM")
		return ""
	}
	log.Debug().Str("param", c.APIKeyHashParam).Dur("elapsed", time.Since(start)).Msg("API key hash loaded from SSM")
	return aws.ToString(out.Parameter.Value)
}

// InitQueue builds the configured queue backend. Fatals on an incomplete
// configuration.
func InitQueue(cfg aws.Config, q config.QueueConfig) dispatch.Queue {
	queue, err := NewQueue(cfg, q)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid queue configuration")
	}
	return queue
}

// NewQueue is InitQueue without the fatal.
func NewQueue(cfg aws.Config, q config.QueueConfig) (dispatch.Queue, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	switch q.Backend {
	case config.BackendStepFunctions:
		return dispatch.NewStepFunctionsQueue(sfn.NewFromConfig(cfg), q.StateMachineARN), nil
	case config.BackendLambda:
		return dispatch.NewLambdaQueue(lambdasvc.NewFromConfig(cfg), q.RunnerFunction), nil
	default:
		return dispatch.NewBatchQueue(awsbatch.NewFromConfig(cfg), q.BatchJobQueue, q.BatchJobDefinition, q.BatchAttempts), nil
	}
}

// InitPublisher builds a publisher over every configured channel. With no
// channel the result only logs.
func InitPublisher(cfg aws.Config, n config.NotifyConfig) *notify.Publisher {
	var channels []notify.Notifier
	if n.EventBusName != "" {
		channels = append(channels, notify.NewEventBridgeNotifier(eventbridge.NewFromConfig(cfg), n.EventBusName))
	}
	if n.TopicARN != "" {
		channels = append(channels, notify.NewSNSNotifier(sns.NewFromConfig(cfg), n.TopicARN))
	}
	if n.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookNotifier(n.WebhookURL, n.WebhookSecret))
	}
	p := notify.NewPublisher(channels...)
	if len(p.Channels()) == 0 {
		log.Warn().Msg("No notification channel configured, results will only be logged")
	}
	return p
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
