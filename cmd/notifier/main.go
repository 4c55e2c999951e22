// Package main is the entrypoint for the notification handler Lambda.
//
// Cold start:
//  1. Load configuration (SSM pointers resolved outside local mode).
//  2. Load template contracts and check them against the email provider's
//     live templates. A fatal report stops the process before any event is
//     accepted, unless ALLOW_TEMPLATE_CONTRACT_MISMATCH is set.
//  3. Wire the dispatch handler under the retry/dead-letter supervisor.
//  4. Start the Lambda SQS handler with partial batch responses.
//
// With APP_ENV=local the process reads one EventBridge event (or an SQS
// event wrapping events) from stdin, drives it to completion with immediate
// redelivery, and prints the outcome.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"sandboxnotify/internal/app"
	"sandboxnotify/internal/config"
	"sandboxnotify/internal/deadletter"
	"sandboxnotify/internal/dispatch"
	"sandboxnotify/internal/monitor"
	"sandboxnotify/internal/notifications/email"
	"sandboxnotify/internal/routing"
	"sandboxnotify/internal/types"
)

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

	slogger, logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	logger = logger.With("service", cfg.Service).With(cfg.Build.LogAttrs()...)
	logger.Info("notification handler initializing (cold start)", "env", cfg.Environment)

	awsCfg, err := app.LoadAWS(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	contracts, err := email.LoadContracts(cfg.Email.ContractPath)
	if err != nil {
		logger.Error("failed to load template contracts", "error", err)
		os.Exit(1)
	}
	provider, err := app.NewEmailProvider(awsCfg, cfg, contracts, slogger)
	if err != nil {
		logger.Error("failed to create email provider", "error", err)
		os.Exit(1)
	}

	sup, sink, err := build(ctx, cfg, awsCfg, contracts, provider, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if cfg.IsLocal() {
		if err := runLocal(ctx, sup, sink, os.Stdin, os.Stdout); err != nil {
			logger.Error("local run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(sup.HandleSQSEvent)
}

type pipelineMetrics interface {
	dispatch.Metrics
	deadletter.Metrics
}

// build checks the template contracts against the provider and wires the
// supervisor. A fatal contract report without the override returns an error
// and no supervisor. In local mode the failure queue is replaced by an
// in-memory sink, which is returned for inspection.
func build(ctx context.Context, cfg *config.Config, awsCfg aws.Config, contracts *email.Contracts, provider *app.EmailProvider, logger types.Logger) (*deadletter.Supervisor, *deadletter.MemorySink, error) {
	checker := email.NewChecker(provider.Schemas, logger, email.CheckerConfig{
		AllowMismatch:      cfg.Email.AllowContractMismatch,
		RequiredEventTypes: routing.EmailTypes(),
	})
	report, err := checker.ValidateTemplates(ctx, contracts.All())
	if err != nil {
		return nil, nil, fmt.Errorf("template contract check: %w", err)
	}
	logger.Info("template contracts checked", "provider", provider.Name, "summary", report.Summary())

	var (
		metrics pipelineMetrics
		sink    deadletter.Sink
		memSink *deadletter.MemorySink
	)
	if cfg.IsLocal() {
		metrics = monitor.NopMetrics{}
		memSink = &deadletter.MemorySink{}
		sink = memSink
	} else {
		metrics = monitor.NewMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
		sink = deadletter.NewSQSSink(sqs.NewFromConfig(awsCfg), cfg.AWS.FailureQueueURL)
	}

	handler := dispatch.NewHandler(dispatch.Config{
		Contracts: contracts,
		Sandbox:   app.NewSandboxAPI(cfg),
		Email:     provider.Sender,
		Chat:      app.NewChatPublisher(awsCfg, cfg, logger),
		Metrics:   metrics,
		Logger:    logger,
		Ingress:   routing.NewIngressFilter(cfg.ISB.SourceAccountID),
		PortalURL: cfg.ISB.PortalURL,
	})

	policy := deadletter.Policy{
		MaxRetries:     cfg.Retry.MaxRetries,
		MaxEventAge:    cfg.Retry.MaxEventAge,
		HandlerTimeout: cfg.Retry.HandlerTimeout,
	}
	return deadletter.NewSupervisor(handler, sink, policy, metrics, logger, nil), memSink, nil
}

// localResult is printed after a local run.
type localResult struct {
	Outcome      deadletter.Outcome       `json:"outcome,omitempty"`
	Error        string                   `json:"error,omitempty"`
	BatchResult  *events.SQSEventResponse `json:"batchResult,omitempty"`
	DeadLettered []deadletter.Record      `json:"deadLettered,omitempty"`
}

// runLocal drives input through sup. input is either one EventBridge event
// or an SQS event whose record bodies are EventBridge events.
func runLocal(ctx context.Context, sup *deadletter.Supervisor, sink *deadletter.MemorySink, in io.Reader, out io.Writer) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}

	var result localResult
	var sqsEvent events.SQSEvent
	if json.Unmarshal(payload, &sqsEvent) == nil && len(sqsEvent.Records) > 0 {
		resp, err := sup.HandleSQSEvent(ctx, sqsEvent)
		if err != nil {
			return err
		}
		result.BatchResult = &resp
	} else {
		outcome, err := sup.Drive(ctx, payload)
		result.Outcome = outcome
		if err != nil {
			result.Error = err.Error()
		}
	}
	if sink != nil {
		result.DeadLettered = sink.Records()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
