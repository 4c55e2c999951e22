package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants; alarms are defined against them.
const (
	// Metric Names
	MetricInvocations         = "Invocations"
	MetricErrors              = "Errors"
	MetricNotificationSuccess = "NotificationSuccess"
	MetricNotificationFailure = "NotificationFailure"
	MetricAuthFailures        = "AuthFailures"
	MetricSecretAgeDays       = "SecretAgeDays"
	MetricIngressRejected     = "IngressRejected"
	MetricDeadLettered        = "DeadLettered"
	MetricHandlerLatency      = "HandlerLatency"

	// Dimension Keys
	DimEventType  = "EventType"
	DimChannel    = "Channel"
	DimSecretName = "SecretName"
	DimReason     = "Reason"

	// Default metric namespace; overridable through config.
	MetricNamespace = "SandboxNotifications"
)
