// Package deadletter bounds redelivery of failed events and diverts the
// exhausted ones to the durable failure queue.
//
// The state machine per event is:
//
//	Delivered(n) --error--> Retrying(n+1)   while n <= MaxRetries and age < MaxEventAge
//	Delivered(n) --error--> DeadLettered    otherwise
//
// Retrying never sleeps in process: the caller hands the message back to the
// queue, whose visibility timeout provides the backoff.
package deadletter

import "time"

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeRetrying     Outcome = "retrying"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Policy bounds retries by attempt count and by event age.
type Policy struct {
	MaxRetries  int
	MaxEventAge time.Duration
	// HandlerTimeout bounds one attempt. Exceeding it counts as a failure.
	HandlerTimeout time.Duration
}

// DefaultPolicy is two retries within one hour.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		MaxEventAge:    time.Hour,
		HandlerTimeout: 30 * time.Second,
	}
}

// AfterFailure decides what happens after attempt (1-based) failed for an
// event of the given age.
func (p Policy) AfterFailure(attempt int, age time.Duration) Outcome {
	if attempt <= p.MaxRetries && age < p.MaxEventAge {
		return OutcomeRetrying
	}
	return OutcomeDeadLettered
}

// MaxAttempts is the total number of deliveries an event can receive.
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}
