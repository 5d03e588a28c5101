package datastore

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds retries of transient data-access failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

var transientMarkers = []string{
	"database is locked",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many connections",
	"server closed the connection",
	"i/o timeout",
}

// IsTransient reports whether err looks like a temporary storage/network
// failure worth retrying. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// policy is exhausted. The last error is returned unwrapped.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	if p.MaxAttempts <= 1 {
		return fn()
	}
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	var last error
	err := backoff.Retry(func() error {
		last = fn()
		if last != nil && !IsTransient(last) {
			return backoff.Permanent(last)
		}
		return last
	}, b)
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return err
}

// RetryStore retries transient failures of the wrapped Store.
// Inserts are retried as well; a failure reported after the row was committed
// can therefore produce a duplicate.
type RetryStore struct {
	inner  Store
	policy RetryPolicy
	logger *logrus.Logger
}

func NewRetryStore(inner Store, policy RetryPolicy, logger *logrus.Logger) *RetryStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &RetryStore{inner: inner, policy: policy, logger: logger}
}

func (s *RetryStore) do(ctx context.Context, op, table string, fn func() error) error {
	attempt := 0
	return Retry(ctx, s.policy, func() error {
		attempt++
		err := fn()
		if err != nil && IsTransient(err) && attempt < s.policy.MaxAttempts {
			s.logger.WithFields(logrus.Fields{"op": op, "table": table, "attempt": attempt}).
				Warnf("datastore: transient failure, retrying: %v", err)
		}
		return err
	})
}

func (s *RetryStore) Query(ctx context.Context, table string, q Query) ([]Row, error) {
	var rows []Row
	err := s.do(ctx, "query", table, func() error {
		var err error
		rows, err = s.inner.Query(ctx, table, q)
		return err
	})
	return rows, err
}

func (s *RetryStore) Insert(ctx context.Context, table string, row Row) error {
	return s.do(ctx, "insert", table, func() error {
		return s.inner.Insert(ctx, table, row)
	})
}

func (s *RetryStore) Update(ctx context.Context, table string, filter Row, updates Row) (int64, error) {
	var n int64
	err := s.do(ctx, "update", table, func() error {
		var err error
		n, err = s.inner.Update(ctx, table, filter, updates)
		return err
	})
	return n, err
}

func (s *RetryStore) Upsert(ctx context.Context, table string, row Row, conflictColumns ...string) error {
	return s.do(ctx, "upsert", table, func() error {
		return s.inner.Upsert(ctx, table, row, conflictColumns...)
	})
}
