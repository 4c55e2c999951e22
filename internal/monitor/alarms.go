package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sandboxnotify/internal/types"
)

// Alarm thresholds.
const (
	ErrorRatePercent     = 5.0
	DroughtWindowSeconds = 86400
	FailureQueueMaxAge   = 3 * 86400
	AuthFailureThreshold = 1.0
	SecretMaxAgeDays     = 80.0
)

// Runbook anchors. These are linked from alarm descriptions and must stay
// stable once published.
const (
	AnchorErrorRate         = "high-error-rate"
	AnchorInvocationDrought = "invocation-drought"
	AnchorFailureQueueDepth = "failure-queue-depth"
	AnchorFailureQueueAge   = "failure-queue-age"
	AnchorAuthFailure       = "auth-failure"
	AnchorSecretAge         = "secret-age"
)

// Severity is carried as an alarm tag for the chat bridge.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// AlarmConfig parameterises the catalogue for one deployment.
type AlarmConfig struct {
	// Prefix is prepended to every alarm name, e.g. "sandbox-notify-prod".
	Prefix           string
	Namespace        string
	RunbookBaseURL   string
	ActionTopicARN   string
	FailureQueueName string
	SecretNames      []string
}

// Alarm is one CloudWatch alarm definition.
type Alarm struct {
	Name        string
	Summary     string
	Anchor      string
	Severity    Severity
	RunbookURL  string
	Description string
	Input       *cloudwatch.PutMetricAlarmInput
}

// Catalogue returns every alarm for the deployment described by cfg.
func Catalogue(cfg AlarmConfig) []Alarm {
	ns := cfg.Namespace
	if ns == "" {
		ns = types.MetricNamespace
	}
	b := alarmBuilder{cfg: cfg}

	var out []Alarm

	out = append(out, b.build("high-error-rate", AnchorErrorRate, SeverityWarning,
		fmt.Sprintf("More than %.0f%% of notification events failed in 5 minutes.", ErrorRatePercent),
		&cloudwatch.PutMetricAlarmInput{
			ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanThreshold,
			Threshold:          aws.Float64(ErrorRatePercent),
			EvaluationPeriods:  aws.Int32(1),
			TreatMissingData:   aws.String("notBreaching"),
			Metrics: []cwtypes.MetricDataQuery{
				metricQuery("errors", ns, types.MetricErrors, 300),
				metricQuery("invocations", ns, types.MetricInvocations, 300),
				{
					Id:         aws.String("rate"),
					Label:      aws.String("ErrorRatePercent"),
					Expression: aws.String("IF(invocations > 0, 100 * errors / invocations, 0)"),
					ReturnData: aws.Bool(true),
				},
			},
		}))

	out = append(out, b.build("invocation-drought", AnchorInvocationDrought, SeverityWarning,
		"No notification events were processed in 24 hours.",
		&cloudwatch.PutMetricAlarmInput{
			Namespace:          aws.String(ns),
			MetricName:         aws.String(types.MetricInvocations),
			Statistic:          cwtypes.StatisticSum,
			Period:             aws.Int32(DroughtWindowSeconds),
			EvaluationPeriods:  aws.Int32(1),
			ComparisonOperator: cwtypes.ComparisonOperatorLessThanThreshold,
			Threshold:          aws.Float64(1),
			TreatMissingData:   aws.String("breaching"),
		}))

	queueDims := []cwtypes.Dimension{dim("QueueName", cfg.FailureQueueName)}

	out = append(out, b.build("failure-queue-depth", AnchorFailureQueueDepth, SeverityWarning,
		"Events have been moved to the failure queue.",
		&cloudwatch.PutMetricAlarmInput{
			Namespace:          aws.String("AWS/SQS"),
			MetricName:         aws.String("ApproximateNumberOfMessagesVisible"),
			Dimensions:         queueDims,
			Statistic:          cwtypes.StatisticMaximum,
			Period:             aws.Int32(300),
			EvaluationPeriods:  aws.Int32(1),
			ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanThreshold,
			Threshold:          aws.Float64(0),
			TreatMissingData:   aws.String("notBreaching"),
		}))

	out = append(out, b.build("failure-queue-age", AnchorFailureQueueAge, SeverityWarning,
		"The oldest failed event has been waiting more than 3 days.",
		&cloudwatch.PutMetricAlarmInput{
			Namespace:          aws.String("AWS/SQS"),
			MetricName:         aws.String("ApproximateAgeOfOldestMessage"),
			Dimensions:         queueDims,
			Statistic:          cwtypes.StatisticMaximum,
			Period:             aws.Int32(300),
			EvaluationPeriods:  aws.Int32(1),
			ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanThreshold,
			Threshold:          aws.Float64(FailureQueueMaxAge),
			TreatMissingData:   aws.String("notBreaching"),
		}))

	out = append(out, b.build("auth-failure", AnchorAuthFailure, SeverityCritical,
		"The sandbox API rejected our credentials or a signing secret is unavailable.",
		&cloudwatch.PutMetricAlarmInput{
			Namespace:          aws.String(ns),
			MetricName:         aws.String(types.MetricAuthFailures),
			Statistic:          cwtypes.StatisticSum,
			Period:             aws.Int32(60),
			EvaluationPeriods:  aws.Int32(1),
			ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanOrEqualToThreshold,
			Threshold:          aws.Float64(AuthFailureThreshold),
			TreatMissingData:   aws.String("notBreaching"),
		}))

	for _, secret := range cfg.SecretNames {
		out = append(out, b.build("secret-age-"+alarmSlug(secret), AnchorSecretAge, SeverityWarning,
			fmt.Sprintf("Secret %s has not been rotated in %.0f days.", secret, SecretMaxAgeDays),
			&cloudwatch.PutMetricAlarmInput{
				Namespace:          aws.String(ns),
				MetricName:         aws.String(types.MetricSecretAgeDays),
				Dimensions:         []cwtypes.Dimension{dim(types.DimSecretName, secret)},
				Statistic:          cwtypes.StatisticMaximum,
				Period:             aws.Int32(DroughtWindowSeconds),
				EvaluationPeriods:  aws.Int32(1),
				ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanThreshold,
				Threshold:          aws.Float64(SecretMaxAgeDays),
				TreatMissingData:   aws.String("missing"),
			}))
	}

	return out
}

type alarmBuilder struct {
	cfg AlarmConfig
}

func (b alarmBuilder) build(suffix, anchor string, sev Severity, summary string, in *cloudwatch.PutMetricAlarmInput) Alarm {
	name := suffix
	if b.cfg.Prefix != "" {
		name = b.cfg.Prefix + "-" + suffix
	}
	runbook := RunbookURL(b.cfg.RunbookBaseURL, anchor)
	desc := summary + " Runbook: " + runbook

	in.AlarmName = aws.String(name)
	in.AlarmDescription = aws.String(desc)
	in.ActionsEnabled = aws.Bool(true)
	if b.cfg.ActionTopicARN != "" {
		in.AlarmActions = []string{b.cfg.ActionTopicARN}
		in.OKActions = []string{b.cfg.ActionTopicARN}
	}
	in.Tags = []cwtypes.Tag{
		{Key: aws.String("severity"), Value: aws.String(string(sev))},
		{Key: aws.String("runbook"), Value: aws.String(runbook)},
	}

	return Alarm{
		Name:        name,
		Summary:     summary,
		Anchor:      anchor,
		Severity:    sev,
		RunbookURL:  runbook,
		Description: desc,
		Input:       in,
	}
}

// RunbookURL joins the base URL and anchor as {base}#{anchor}.
func RunbookURL(base, anchor string) string {
	return strings.TrimRight(base, "#/") + "#" + anchor
}

func metricQuery(id, ns, metric string, period int32) cwtypes.MetricDataQuery {
	return cwtypes.MetricDataQuery{
		Id: aws.String(id),
		MetricStat: &cwtypes.MetricStat{
			Metric: &cwtypes.Metric{
				Namespace:  aws.String(ns),
				MetricName: aws.String(metric),
			},
			Period: aws.Int32(period),
			Stat:   aws.String(string(cwtypes.StatisticSum)),
		},
		ReturnData: aws.Bool(false),
	}
}

// alarmSlug turns an SSM parameter path into an alarm name fragment.
func alarmSlug(name string) string {
	s := strings.Trim(strings.ToLower(name), "/")
	return strings.NewReplacer("/", "-", "_", "-", ".", "-").Replace(s)
}

// AlarmAPI abstracts PutMetricAlarm for testability.
type AlarmAPI interface {
	PutMetricAlarm(ctx context.Context, params *cloudwatch.PutMetricAlarmInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error)
}

// ApplyAlarms upserts every alarm. PutMetricAlarm is idempotent, so
// re-running converges. All alarms are attempted; failures are joined.
func ApplyAlarms(ctx context.Context, client AlarmAPI, alarms []Alarm, logger types.Logger) error {
	var errs []error
	for _, a := range alarms {
		if _, err := client.PutMetricAlarm(ctx, a.Input); err != nil {
			logger.Error("failed to apply alarm", "alarm", a.Name, "error", err)
			errs = append(errs, fmt.Errorf("alarm %s: %w", a.Name, err))
			continue
		}
		logger.Info("alarm applied", "alarm", a.Name, "severity", string(a.Severity))
	}
	return errors.Join(errs...)
}
