package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"sandboxnotify/internal/external"
	"sandboxnotify/internal/types"
)

// SecretAgeRecorder receives secret age measurements.
type SecretAgeRecorder interface {
	RecordSecretAge(ctx context.Context, secretName string, days float64)
	RecordAuthFailure(ctx context.Context)
}

// SecretAge is one measurement.
type SecretAge struct {
	Name string
	Days float64
}

// SecretAgeChecker measures how long ago each tracked secret was rotated.
type SecretAgeChecker struct {
	store   external.SecretStore
	names   []string
	metrics SecretAgeRecorder
	logger  types.Logger
	clock   types.Clock
}

// NewSecretAgeChecker creates a checker over the named secrets.
func NewSecretAgeChecker(store external.SecretStore, names []string, metrics SecretAgeRecorder, logger types.Logger, clock types.Clock) *SecretAgeChecker {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SecretAgeChecker{store: store, names: names, metrics: metrics, logger: logger, clock: clock}
}

// Check emits SecretAgeDays for every secret it can read. An unreadable
// secret counts as an auth failure; every secret is still attempted and
// errors are joined.
func (c *SecretAgeChecker) Check(ctx context.Context) ([]SecretAge, error) {
	now := c.clock.Now()
	var (
		ages []SecretAge
		errs []error
	)
	for _, name := range c.names {
		secret, err := c.store.GetSecret(ctx, name)
		if err != nil {
			if types.IsAuthFailure(err) {
				c.metrics.RecordAuthFailure(ctx)
			}
			c.logger.Error("failed to read secret", "secret", name, "error", err)
			errs = append(errs, fmt.Errorf("secret %s: %w", name, err))
			continue
		}
		if secret.LastModified.IsZero() {
			c.logger.Warn("secret has no modification time, skipping", "secret", name)
			continue
		}

		days := math.Floor(now.Sub(secret.LastModified).Hours()/24*10) / 10
		c.metrics.RecordSecretAge(ctx, name, days)
		ages = append(ages, SecretAge{Name: name, Days: days})

		if days > SecretMaxAgeDays {
			c.logger.Warn("secret is due for rotation", "secret", name, "age_days", days)
		} else {
			c.logger.Info("secret age recorded", "secret", name, "age_days", days)
		}
	}
	return ages, errors.Join(errs...)
}
