// Package monitor covers the pipeline's own health: the CloudWatch metrics
// it emits, the alarms defined over them, and the secret rotation check.
package monitor

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sandboxnotify/internal/types"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics emits pipeline metrics to CloudWatch. Failures to emit are logged
// and never fail the caller.
//
// Counters with a per-type dimension are also emitted without dimensions so
// alarms can watch the aggregate.
type Metrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewMetrics creates a Metrics publishing to namespace, or the default
// namespace when empty.
func NewMetrics(client CloudWatchClient, namespace string, logger types.Logger) *Metrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &Metrics{client: client, namespace: namespace, logger: logger}
}

func (m *Metrics) RecordInvocation(ctx context.Context, detailType types.DetailType) {
	m.put(ctx, types.MetricInvocations, countPair(types.MetricInvocations, dim(types.DimEventType, string(detailType)))...)
}

func (m *Metrics) RecordError(ctx context.Context, detailType types.DetailType, code types.ErrorCode) {
	data := countPair(types.MetricErrors, dim(types.DimEventType, string(detailType)))
	data = append(data, count(types.MetricErrors, dim(types.DimReason, string(code))))
	m.put(ctx, types.MetricErrors, data...)
}

func (m *Metrics) RecordNotification(ctx context.Context, detailType types.DetailType, channel types.Destination, ok bool) {
	name := types.MetricNotificationSuccess
	if !ok {
		name = types.MetricNotificationFailure
	}
	m.put(ctx, name, count(name,
		dim(types.DimEventType, string(detailType)),
		dim(types.DimChannel, string(channel)),
	))
}

func (m *Metrics) RecordAuthFailure(ctx context.Context) {
	m.put(ctx, types.MetricAuthFailures, count(types.MetricAuthFailures))
}

func (m *Metrics) RecordIngressRejected(ctx context.Context, reason string) {
	m.put(ctx, types.MetricIngressRejected, countPair(types.MetricIngressRejected, dim(types.DimReason, reason))...)
}

func (m *Metrics) RecordDeadLettered(ctx context.Context, detailType types.DetailType) {
	m.put(ctx, types.MetricDeadLettered, countPair(types.MetricDeadLettered, dim(types.DimEventType, string(detailType)))...)
}

func (m *Metrics) RecordLatency(ctx context.Context, d time.Duration) {
	m.put(ctx, types.MetricHandlerLatency, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricHandlerLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

// RecordSecretAge emits the age of a secret in days.
func (m *Metrics) RecordSecretAge(ctx context.Context, secretName string, days float64) {
	m.put(ctx, types.MetricSecretAgeDays, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricSecretAgeDays),
		Value:      aws.Float64(days),
		Unit:       cwtypes.StandardUnitNone,
		Dimensions: []cwtypes.Dimension{dim(types.DimSecretName, secretName)},
	})
}

func (m *Metrics) put(ctx context.Context, name string, data ...cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Error("failed to record metric", "metric", name, "error", err)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func count(name string, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

// countPair returns the aggregate datum and the dimensioned one.
func countPair(name string, d cwtypes.Dimension) []cwtypes.MetricDatum {
	return []cwtypes.MetricDatum{count(name), count(name, d)}
}

// NopMetrics discards everything. Used in local mode.
type NopMetrics struct{}

func (NopMetrics) RecordInvocation(context.Context, types.DetailType)                            {}
func (NopMetrics) RecordError(context.Context, types.DetailType, types.ErrorCode)                {}
func (NopMetrics) RecordNotification(context.Context, types.DetailType, types.Destination, bool) {}
func (NopMetrics) RecordAuthFailure(context.Context)                                             {}
func (NopMetrics) RecordIngressRejected(context.Context, string)                                 {}
func (NopMetrics) RecordDeadLettered(context.Context, types.DetailType)                          {}
func (NopMetrics) RecordLatency(context.Context, time.Duration)                                  {}
func (NopMetrics) RecordSecretAge(context.Context, string, float64)                              {}
