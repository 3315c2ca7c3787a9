package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/logging"
)

// Retry calls fn until it returns nil, waiting delay between attempts.
//
// The context is checked before every attempt and during every wait, so a
// cancelled caller is never stuck behind a store that stays down. Retry
// returns the number of attempts made and either nil or the context error.
// ErrStoreClosed ends the loop at once since a closed store never recovers.
func Retry(ctx context.Context, op string, delay time.Duration, fn func(ctx context.Context) error) (int, error) {
	log := logging.FromContext(ctx, log)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return attempt - 1, ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("store operation recovered", "op", op, "attempts", attempt)
			}
			return attempt, nil
		}

		if errors.Is(err, errors.ErrStoreClosed) {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}

		if errors.IsRetriable(err) {
			log.Warn("store operation failed, retrying",
				"op", op,
				"attempt", attempt,
				"delay", delay,
				"error", err)
		} else {
			// Not a known transient failure. Still retried: giving up would lose the data.
			log.Error("store operation failed, retrying",
				"op", op,
				"attempt", attempt,
				"delay", delay,
				"error", err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

// withRetry runs fn against the current handle until it succeeds or ctx ends.
func (s *Store) withRetry(ctx context.Context, op string, delay time.Duration, fn func(ctx context.Context, db *sql.DB) error) error {
	attempts, err := Retry(ctx, op, delay, func(ctx context.Context) error {
		return s.attempt(ctx, fn)
	})
	if attempts > 1 {
		s.retryCount.Add(int64(attempts - 1))
	}
	return err
}

// attempt runs fn once. A closed handle is reopened and fn repeated on the
// new one within the same attempt.
func (s *Store) attempt(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	s.attemptCount.Add(1)

	db, err := s.handle()
	if err != nil {
		return err
	}

	err = s.run(ctx, db, fn)
	if err == nil || !errors.IsConnectionClosed(err) {
		return err
	}

	log.Warn("store connection closed, reconnecting", "error", err)
	if rerr := s.reconnect(db); rerr != nil {
		if errors.Is(rerr, errors.ErrStoreClosed) {
			return rerr
		}
		return errors.Wrap(errors.ErrConnectionClosed, rerr.Error())
	}

	db, err = s.handle()
	if err != nil {
		return err
	}
	return s.run(ctx, db, fn)
}

func (s *Store) run(ctx context.Context, db *sql.DB, fn func(ctx context.Context, db *sql.DB) error) error {
	actx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()
	return fn(actx, db)
}
