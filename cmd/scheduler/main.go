// Package main is the entrypoint for the scheduled-task Lambda. EventBridge
// schedules invoke it with a constant input naming the task:
//
//	{"task": "failure_digest"}
//	{"task": "secret_age", "reference_time": "2026-03-01T09:00:00Z"}
//
// reference_time pins the clock for replays; it defaults to now.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"sandboxnotify/internal/app"
	"sandboxnotify/internal/config"
	"sandboxnotify/internal/digest"
	"sandboxnotify/internal/external"
	"sandboxnotify/internal/monitor"
	"sandboxnotify/internal/notifications/chat"
	"sandboxnotify/internal/types"
)

// Task names.
const (
	TaskFailureDigest = "failure_digest"
	TaskSecretAge     = "secret_age"
)

// Task is the scheduled invocation payload.
type Task struct {
	Task          string     `json:"task"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Scheduler runs one task per invocation.
type Scheduler struct {
	queue     digest.SQSAPI
	publisher chat.Publisher
	digestCfg digest.Config
	secrets   external.SecretStore
	tracked   []string
	metrics   monitor.SecretAgeRecorder
	logger    types.Logger
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// Handle dispatches on task.Task. Unknown tasks are errors so a
// misconfigured schedule shows up in the function's error metric.
func (s *Scheduler) Handle(ctx context.Context, task Task) error {
	var clock types.Clock = types.RealClock{}
	if task.ReferenceTime != nil {
		clock = fixedClock{t: task.ReferenceTime.UTC()}
	}
	logger := s.logger.With("task", task.Task)
	logger.Info("scheduled task started")

	switch task.Task {
	case TaskFailureDigest:
		reporter := digest.NewReporter(s.queue, s.publisher, s.digestCfg, logger, clock)
		if err := reporter.RunDigest(ctx); err != nil {
			return fmt.Errorf("failure digest: %w", err)
		}

	case TaskSecretAge:
		if len(s.tracked) == 0 {
			logger.Warn("no SSM-backed secrets configured, nothing to check")
			return nil
		}
		checker := monitor.NewSecretAgeChecker(s.secrets, s.tracked, s.metrics, logger, clock)
		if _, err := checker.Check(ctx); err != nil {
			return fmt.Errorf("secret age: %w", err)
		}

	default:
		return fmt.Errorf("unknown scheduled task %q", task.Task)
	}

	logger.Info("scheduled task completed")
	return nil
}

func main() {
	ctx := context.Background()

	bootAWS, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading AWS config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(config.NewSSMProvider(ssm.NewFromConfig(bootAWS)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	_, logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	logger = logger.With("service", cfg.Service).With(cfg.Build.LogAttrs()...)

	awsCfg, err := app.LoadAWS(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	var metrics monitor.SecretAgeRecorder = monitor.NopMetrics{}
	if !cfg.IsLocal() {
		metrics = monitor.NewMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	s := &Scheduler{
		queue:     sqs.NewFromConfig(awsCfg),
		publisher: app.NewChatPublisher(awsCfg, cfg, logger),
		digestCfg: digest.Config{
			QueueURL:    cfg.AWS.FailureQueueURL,
			MaxMessages: cfg.Digest.MaxMessages,
			HoldFor:     cfg.Digest.HoldFor,
			Region:      cfg.AWS.Region,
		},
		secrets: external.NewSSMSecretStore(ssm.NewFromConfig(awsCfg)),
		tracked: cfg.TrackedSecrets(),
		metrics: metrics,
		logger:  logger,
	}

	if cfg.IsLocal() {
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		var task Task
		if err := json.Unmarshal(payload, &task); err != nil {
			logger.Error("failed to parse task", "error", err)
			os.Exit(1)
		}
		if err := s.Handle(ctx, task); err != nil {
			logger.Error("task failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(s.Handle)
}
