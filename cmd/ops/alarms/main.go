// Package main applies the CloudWatch alarm catalogue and prints the
// EventBridge rule patterns for a deployment.
//
// Usage:
//
//	go run ./cmd/ops/alarms --env=prod --failure-queue=sandbox-notify-prod-failures \
//	    --alarm-topic-arn=arn:aws:sns:eu-west-2:111122223333:ops-chat \
//	    --secret=/prod/sandbox-notify/isb_jwt_secret --source-account=444455556666
//
// --dry-run prints the alarm definitions without calling CloudWatch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"sandboxnotify/internal/app"
	"sandboxnotify/internal/monitor"
	"sandboxnotify/internal/routing"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type options struct {
	env            string
	profile        string
	region         string
	prefix         string
	namespace      string
	runbookBaseURL string
	alarmTopicARN  string
	failureQueue   string
	sourceAccount  string
	secrets        stringList
	dryRun         bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("alarms", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.env, "env", "", "Target environment (dev/staging/prod) [required]")
	fs.StringVar(&o.profile, "profile", "", "AWS CLI profile (default: uses default credential chain)")
	fs.StringVar(&o.region, "region", "eu-west-2", "AWS region")
	fs.StringVar(&o.prefix, "prefix", "", "Alarm name prefix (default: sandbox-notify-<env>)")
	fs.StringVar(&o.namespace, "namespace", "", "Custom metric namespace (default: SandboxNotifications)")
	fs.StringVar(&o.runbookBaseURL, "runbook-base-url", "https://runbooks.sandbox.internal/notifications", "Runbook page the alarm anchors point into")
	fs.StringVar(&o.alarmTopicARN, "alarm-topic-arn", "", "SNS topic that receives alarm state changes (the ops chat topic)")
	fs.StringVar(&o.failureQueue, "failure-queue", "", "Failure queue name [required]")
	fs.StringVar(&o.sourceAccount, "source-account", "", "Sandbox platform account id; when set, the EventBridge rule patterns are printed")
	fs.Var(&o.secrets, "secret", "SSM path of a secret to alarm on rotation age (repeatable)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Print alarm definitions without applying them")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if !validEnvironments[o.env] {
		return nil, fmt.Errorf("invalid environment %q (must be dev, staging, or prod)", o.env)
	}
	if o.failureQueue == "" {
		return nil, fmt.Errorf("--failure-queue is required")
	}
	if o.prefix == "" {
		o.prefix = "sandbox-notify-" + o.env
	}
	return o, nil
}

func (o *options) alarmConfig() monitor.AlarmConfig {
	return monitor.AlarmConfig{
		Prefix:           o.prefix,
		Namespace:        o.namespace,
		RunbookBaseURL:   o.runbookBaseURL,
		ActionTopicARN:   o.alarmTopicARN,
		FailureQueueName: o.failureQueue,
		SecretNames:      o.secrets,
	}
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger := app.AdaptLogger(slogger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	alarms := monitor.Catalogue(o.alarmConfig())

	if o.sourceAccount != "" {
		if err := printRules(os.Stdout, o.sourceAccount); err != nil {
			logger.Error("failed to render rules", "error", err)
			os.Exit(1)
		}
	}

	if o.dryRun {
		if err := printAlarms(os.Stdout, alarms); err != nil {
			logger.Error("failed to render alarms", "error", err)
			os.Exit(1)
		}
		return
	}

	awsCfg, identity, err := initializeSession(ctx, o)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	printBanner(os.Stderr, o, identity, len(alarms))

	if err := monitor.ApplyAlarms(ctx, cloudwatch.NewFromConfig(awsCfg), alarms, logger); err != nil {
		logger.Error("applying alarms failed", "error", err)
		os.Exit(1)
	}
	logger.Info("alarms applied", "count", len(alarms), "env", o.env)
}

// initializeSession loads AWS config and confirms the caller identity.
func initializeSession(ctx context.Context, o *options) (aws.Config, *sts.GetCallerIdentityOutput, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(o.region)}
	if o.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(o.profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, nil, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return aws.Config{}, nil, fmt.Errorf("verifying AWS identity (STS GetCallerIdentity): %w", err)
	}
	return cfg, identity, nil
}

func printBanner(w io.Writer, o *options, identity *sts.GetCallerIdentityOutput, n int) {
	fmt.Fprintln(w, "------------------------------------------------------------")
	fmt.Fprintln(w, "  Sandbox notification alarms")
	fmt.Fprintln(w, "------------------------------------------------------------")
	fmt.Fprintf(w, "  Environment:  %s\n", o.env)
	fmt.Fprintf(w, "  AWS Account:  %s\n", aws.ToString(identity.Account))
	fmt.Fprintf(w, "  AWS Region:   %s\n", o.region)
	fmt.Fprintf(w, "  Identity:     %s\n", aws.ToString(identity.Arn))
	fmt.Fprintf(w, "  Alarms:       %d (prefix %s)\n", n, o.prefix)
	fmt.Fprintln(w, "------------------------------------------------------------")
}

type alarmView struct {
	Name        string           `json:"name"`
	Severity    monitor.Severity `json:"severity"`
	Description string           `json:"description"`
	RunbookURL  string           `json:"runbookUrl"`
	Actions     []string         `json:"actions,omitempty"`
}

func printAlarms(w io.Writer, alarms []monitor.Alarm) error {
	views := make([]alarmView, 0, len(alarms))
	for _, a := range alarms {
		views = append(views, alarmView{
			Name:        a.Name,
			Severity:    a.Severity,
			Description: a.Description,
			RunbookURL:  a.RunbookURL,
			Actions:     a.Input.AlarmActions,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

type ruleView struct {
	Name          string            `json:"name"`
	Target        string            `json:"target"`
	EventPattern  json.RawMessage   `json:"eventPattern"`
	InputPaths    map[string]string `json:"inputPaths,omitempty"`
	InputTemplate string            `json:"inputTemplate,omitempty"`
}

func printRules(w io.Writer, sourceAccount string) error {
	var views []ruleView
	for _, r := range routing.Rules(sourceAccount) {
		pattern, err := r.PatternJSON()
		if err != nil {
			return err
		}
		views = append(views, ruleView{
			Name:          r.Name,
			Target:        r.Target,
			EventPattern:  json.RawMessage(pattern),
			InputPaths:    r.InputPaths,
			InputTemplate: r.InputTemplate,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}
