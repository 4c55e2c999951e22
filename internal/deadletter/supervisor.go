package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sandboxnotify/internal/types"
)

// Handler processes one event. dispatch.Handler satisfies it.
type Handler interface {
	Handle(ctx context.Context, evt types.InboundEvent) error
}

// Record is what lands in the failure queue: the original envelope bytes,
// unmodified, plus failure metadata carried alongside.
type Record struct {
	Body          []byte
	EventID       string
	DetailType    string
	FirstFailedAt time.Time
	AttemptCount  int
	LastError     string
	ErrorCode     types.ErrorCode
}

// Sink persists dead-lettered records.
type Sink interface {
	DeadLetter(ctx context.Context, rec Record) error
}

// Metrics is the telemetry the supervisor emits.
type Metrics interface {
	RecordDeadLettered(ctx context.Context, detailType types.DetailType)
}

// Delivery is one attempt to process a queued envelope.
type Delivery struct {
	Body []byte
	// Attempt is 1-based.
	Attempt int
	// FirstAttemptAt is when the envelope was first delivered; used as
	// firstFailedAt when the event is dead-lettered after a retry.
	FirstAttemptAt time.Time
	// EnqueuedAt is used for the age check when the envelope carries no
	// emission time of its own.
	EnqueuedAt time.Time
}

// Supervisor runs the handler under the retry policy.
type Supervisor struct {
	handler Handler
	sink    Sink
	policy  Policy
	metrics Metrics
	logger  types.Logger
	clock   types.Clock
}

// NewSupervisor creates a Supervisor. A nil clock uses the system clock.
func NewSupervisor(handler Handler, sink Sink, policy Policy, metrics Metrics, logger types.Logger, clock types.Clock) *Supervisor {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Supervisor{
		handler: handler,
		sink:    sink,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
		clock:   clock,
	}
}

// Process runs one delivery. The returned error is non-nil only for
// OutcomeRetrying: the caller must return the message to the queue. After
// OutcomeDelivered and OutcomeDeadLettered the message is finished.
func (s *Supervisor) Process(ctx context.Context, d Delivery) (Outcome, error) {
	now := s.clock.Now()
	evt, handleErr := types.ParseEnvelope(d.Body)

	log := s.logger.With("event_id", evt.EventID, "detail_type", evt.DetailType, "attempt", d.Attempt)

	if handleErr == nil {
		handleErr = s.run(ctx, evt)
	}
	if handleErr == nil {
		return OutcomeDelivered, nil
	}

	age := now.Sub(emittedAt(evt, d, now))
	outcome := s.policy.AfterFailure(d.Attempt, age)
	if outcome == OutcomeRetrying {
		log.Warn("event failed, returning to queue",
			"error", handleErr,
			"age", age.String(),
			"max_attempts", s.policy.MaxAttempts(),
		)
		return OutcomeRetrying, handleErr
	}

	firstFailed := d.FirstAttemptAt
	if firstFailed.IsZero() || d.Attempt <= 1 {
		firstFailed = now
	}
	rec := Record{
		Body:          d.Body,
		EventID:       evt.EventID,
		DetailType:    string(evt.DetailType),
		FirstFailedAt: firstFailed.UTC(),
		AttemptCount:  d.Attempt,
		LastError:     handleErr.Error(),
		ErrorCode:     types.CodeOf(handleErr),
	}
	if err := s.sink.DeadLetter(ctx, rec); err != nil {
		log.Error("failed to write failure queue record, leaving message for redelivery", "error", err)
		return OutcomeRetrying, errors.Join(handleErr, fmt.Errorf("dead-letter write: %w", err))
	}

	s.metrics.RecordDeadLettered(ctx, evt.DetailType)
	log.Error("event dead-lettered",
		"error", handleErr,
		"attempt_count", d.Attempt,
		"age", age.String(),
	)
	return OutcomeDeadLettered, nil
}

// Drive processes body to completion with immediate redelivery, for local
// runs where no queue is involved.
func (s *Supervisor) Drive(ctx context.Context, body []byte) (Outcome, error) {
	first := s.clock.Now()
	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts(); attempt++ {
		outcome, err := s.Process(ctx, Delivery{
			Body:           body,
			Attempt:        attempt,
			FirstAttemptAt: first,
			EnqueuedAt:     first,
		})
		if outcome != OutcomeRetrying {
			return outcome, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return OutcomeRetrying, ctx.Err()
		}
	}
	return OutcomeRetrying, lastErr
}

func (s *Supervisor) run(ctx context.Context, evt types.InboundEvent) (err error) {
	if s.policy.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	if err := s.handler.Handle(ctx, evt); err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("handler exceeded its deadline: %w", ctxErr)
	}
	return nil
}

// emittedAt is the event's emission time, falling back to when it was
// enqueued and then to now.
func emittedAt(evt types.InboundEvent, d Delivery, now time.Time) time.Time {
	switch {
	case !evt.Time.IsZero():
		return evt.Time
	case !d.EnqueuedAt.IsZero():
		return d.EnqueuedAt
	default:
		return now
	}
}
