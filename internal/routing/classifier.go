// Package routing decides where a sandbox lifecycle event goes and how urgent
// it is. The routing table is static: it is built once at package init and
// never mutated, so lookups are safe from any number of concurrent handlers.
package routing

import (
	"sort"

	"sandboxnotify/internal/types"
)

// Classification is the routing decision for one detail-type.
type Classification struct {
	Priority     types.Priority
	Destinations []types.Destination
}

// Has reports whether the classification routes to d.
func (c Classification) Has(d types.Destination) bool {
	for _, got := range c.Destinations {
		if got == d {
			return true
		}
	}
	return false
}

type route struct {
	priority types.Priority
	email    bool
	chat     bool
}

var (
	userOnly     = route{priority: types.PriorityRoutine, email: true}
	userAndOps   = route{priority: types.PriorityRoutine, email: true, chat: true}
	opsRoutine   = route{priority: types.PriorityRoutine, chat: true}
	opsCritical  = route{priority: types.PriorityCritical, chat: true}
	unknownRoute = opsRoutine
)

// table is the single source of truth for event routing.
var table = map[types.DetailType]route{
	// Lease lifecycle.
	types.EventLeaseRequested:      userAndOps,
	types.EventLeaseApproved:       userOnly,
	types.EventLeaseDenied:         userAndOps,
	types.EventLeaseTerminated:     userAndOps,
	types.EventLeaseFrozen:         userAndOps,
	types.EventLeaseUnfrozen:       userOnly,
	types.EventLeaseExpired:        userOnly,
	types.EventLeaseBudgetExceeded: userOnly,

	// Threshold warnings.
	types.EventLeaseBudgetThresholdAlert:   userOnly,
	types.EventLeaseDurationThresholdAlert: userOnly,
	types.EventLeaseFreezingThresholdAlert: userOnly,

	// Operational.
	types.EventAccountQuarantined:              opsCritical,
	types.EventAccountCleanupFailure:           opsCritical,
	types.EventAccountDriftDetected:            opsCritical,
	types.EventGroupCostReportGeneratedFailure: opsCritical,
	types.EventAccountCleanupSucceeded:         opsRoutine,
	types.EventCleanAccountRequest:             opsRoutine,
	types.EventGroupCostReportGenerated:        opsRoutine,
}

// Classify maps a detail-type to its priority and destination set. Unknown
// types classify as routine and ops-chat only so they stay visible to
// operators. Classify never fails.
func Classify(detailType types.DetailType) Classification {
	r, ok := table[detailType]
	if !ok {
		r = unknownRoute
	}
	return r.classification()
}

// IsKnown reports whether detailType has an explicit routing entry.
func IsKnown(detailType types.DetailType) bool {
	_, ok := table[detailType]
	return ok
}

// KnownTypes returns every routed detail-type, sorted.
func KnownTypes() []types.DetailType {
	return filterTypes(func(route) bool { return true })
}

// EmailTypes returns the detail-types that produce a user email, sorted.
// These need enrichment and therefore target the handler.
func EmailTypes() []types.DetailType {
	return filterTypes(func(r route) bool { return r.email })
}

// ChatOnlyTypes returns the detail-types that only reach ops chat, sorted.
func ChatOnlyTypes() []types.DetailType {
	return filterTypes(func(r route) bool { return r.chat && !r.email })
}

// CriticalTypes returns the critical detail-types, sorted.
func CriticalTypes() []types.DetailType {
	return filterTypes(func(r route) bool { return r.priority == types.PriorityCritical })
}

// HandlerTypes returns the detail-types the handler must process, sorted:
// every email type plus every critical type. Critical alerts need the full
// formatter for their colour and title.
func HandlerTypes() []types.DetailType {
	return filterTypes(func(r route) bool { return r.email || r.priority == types.PriorityCritical })
}

// DirectChatTypes returns the routine ops-only detail-types that can go to
// chat through the input transformer without passing the handler, sorted.
func DirectChatTypes() []types.DetailType {
	return filterTypes(func(r route) bool {
		return r.chat && !r.email && r.priority != types.PriorityCritical
	})
}

func (r route) classification() Classification {
	c := Classification{Priority: r.priority}
	if r.email {
		c.Destinations = append(c.Destinations, types.DestinationUserEmail)
	}
	if r.chat {
		c.Destinations = append(c.Destinations, types.DestinationOpsChat)
	}
	return c
}

func filterTypes(keep func(route) bool) []types.DetailType {
	var out []types.DetailType
	for dt, r := range table {
		if keep(r) {
			out = append(out, dt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
