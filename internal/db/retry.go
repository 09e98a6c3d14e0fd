package db

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

// maxRetries bounds retry attempts for transient database errors.
const maxRetries = 3

// retryBaseDelay is the first retry delay; it doubles on each attempt.
// Variable so tests can shrink the schedule.
var retryBaseDelay = 2 * time.Second

// isTransient reports whether err is worth retrying: serialization or
// deadlock failures, connection-class SQLSTATEs, resource exhaustion, and
// network-level failures. Everything else is treated as permanent.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"57P03": // cannot_connect_now
			return true
		}
		// Class 08: connection exceptions.
		return strings.HasPrefix(pgErr.Code, "08")
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// withRetry runs op, retrying transient database errors with exponential
// backoff. Permanent errors and context cancellation surface immediately.
func withRetry(ctx context.Context, log *logrus.Logger, label string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		log.WithError(err).Warnf("Transient database error on %s (attempt %d/%d), retrying", label, attempt, maxRetries+1)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
}
