package types

// Priority is the urgency tier of an alert.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityRoutine  Priority = "routine"
)

// Destination is an outbound notification channel an event can be routed to.
type Destination string

const (
	DestinationUserEmail Destination = "user_email"
	DestinationOpsChat   Destination = "ops_chat"
)

// DetailType is the EventBridge detail-type emitted by the sandbox platform.
type DetailType string

// Lease lifecycle events.
const (
	EventLeaseRequested      DetailType = "LeaseRequested"
	EventLeaseApproved       DetailType = "LeaseApproved"
	EventLeaseDenied         DetailType = "LeaseDenied"
	EventLeaseTerminated     DetailType = "LeaseTerminated"
	EventLeaseFrozen         DetailType = "LeaseFrozen"
	EventLeaseUnfrozen       DetailType = "LeaseUnfrozen"
	EventLeaseExpired        DetailType = "LeaseExpired"
	EventLeaseBudgetExceeded DetailType = "LeaseBudgetExceeded"
)

// Lease threshold warnings.
const (
	EventLeaseBudgetThresholdAlert   DetailType = "LeaseBudgetThresholdAlert"
	EventLeaseDurationThresholdAlert DetailType = "LeaseDurationThresholdAlert"
	EventLeaseFreezingThresholdAlert DetailType = "LeaseFreezingThresholdAlert"
)

// Operational events (account lifecycle, compliance, cost reporting, cleanup).
const (
	EventAccountQuarantined              DetailType = "AccountQuarantined"
	EventAccountCleanupFailure           DetailType = "AccountCleanupFailure"
	EventAccountCleanupSucceeded         DetailType = "AccountCleanupSucceeded"
	EventAccountDriftDetected            DetailType = "AccountDriftDetected"
	EventCleanAccountRequest             DetailType = "CleanAccountRequest"
	EventGroupCostReportGenerated        DetailType = "GroupCostReportGenerated"
	EventGroupCostReportGeneratedFailure DetailType = "GroupCostReportGeneratedFailure"
)
