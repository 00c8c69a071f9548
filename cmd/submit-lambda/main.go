// Package main provides the job submission API.
//
// In Lambda it runs behind API Gateway through httpadapter; anywhere else it
// serves the same handler on PORT, which is how local development against
// MinIO works.
//
// Endpoints:
//
//	GET  /health         health check (no auth required)
//	POST /submit-batch   list, select, plan and queue a repair job
//	GET  /jobs/{id}      job record and per-file outcomes
//
// Every endpoint except /health requires X-Api-Key when an API key hash is
// configured.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/untrunc-batch/internal/auth"
	"github.com/fpang/untrunc-batch/internal/config"
	"github.com/fpang/untrunc-batch/internal/dispatch"
	"github.com/fpang/untrunc-batch/internal/lambdaboot"
	"github.com/fpang/untrunc-batch/internal/logging"
)

func main() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	clients := lambdaboot.InitAWS()
	objects := lambdaboot.InitObjectStore(clients.Config, cfg.ObjectStore)
	queue := lambdaboot.InitQueue(clients.Config, cfg.Queue)
	jobStore := lambdaboot.InitDynamoOptional(clients.Config, cfg.JobsTable)
	validator := auth.NewValidator(lambdaboot.LoadAPIKeyHash(context.Background(), clients.SSM, cfg))
	if !validator.Enabled() {
		log.Warn().Msg("No API key hash configured, authentication disabled")
	}
	if cfg.OriginSecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set, origin verification disabled")
	}

	// A nil *DynamoStore must stay a nil interface.
	var recorder dispatch.Recorder
	var jobs jobReader
	if jobStore != nil {
		recorder, jobs = jobStore, jobStore
	}
	a := &api{
		submitter:    dispatch.New(objects, queue, recorder, dispatch.Defaults{InputBucket: cfg.InputBucket, OutputBucket: cfg.OutputBucket}),
		jobs:         jobs,
		validator:    validator,
		originSecret: cfg.OriginSecret,
	}

	lambdaboot.StartupLog("submit-lambda", initStart).
		CommitHash(commitHash).
		Bucket("defaultInput", cfg.InputBucket).
		Bucket("defaultOutput", cfg.OutputBucket).
		DynamoTable("jobs", cfg.JobsTable).
		SSMParam("apiKeyHash", cfg.APIKeyHashParam).
		Queue(queue.Name(), queueTarget(cfg.Queue)).
		Feature("apiKeyAuth", validator.Enabled()).
		Feature("originVerify", cfg.OriginSecret != "").
		Feature("jobTracking", jobStore != nil).
		Config("objectStoreEndpoint", cfg.ObjectStore.Endpoint).
		Log()

	handler := a.routes()

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		adapter := httpadapter.NewV2(handler)
		lambda.Start(adapter.ProxyWithContext)
		return
	}
	serveLocal(cfg.Port, handler)
}

func queueTarget(q config.QueueConfig) string {
	switch q.Backend {
	case config.BackendStepFunctions:
		return q.StateMachineARN
	case config.BackendLambda:
		return q.RunnerFunction
	default:
		return q.BatchJobQueue
	}
}

func serveLocal(addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Info().Str("addr", addr).Msg("Starting submission API")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
