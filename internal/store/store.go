// Package store persists devices and readings in DuckDB.
//
// Writes block and retry with a fixed delay until they succeed or their
// context ends: a reading that was drained from the buffer has no other copy.
// When the database handle turns out to be closed, the store reopens it and
// repeats the operation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/telegate/config"
	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/logging"
)

var log = logging.Component("store")

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// DSN is the DuckDB database path. Empty means in-memory; an in-memory
	// database does not survive a reconnect.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds a single attempt.
	QueryTimeout time.Duration

	// InsertRetryDelay is the pause between reading insert attempts.
	InsertRetryDelay time.Duration

	// RegisterRetryDelay is the pause between device upsert attempts.
	RegisterRetryDelay time.Duration

	// ReadOnly opens the file in DuckDB read-only mode and skips the schema
	// migration. It fails while another process holds the file for writing.
	ReadOnly bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DSN:                config.DefaultDBPath,
		MaxOpenConns:       config.DefaultMaxOpenConns,
		MaxIdleConns:       2,
		ConnMaxLifetime:    30 * time.Minute,
		QueryTimeout:       30 * time.Second,
		InsertRetryDelay:   config.DefaultInsertRetryDelay,
		RegisterRetryDelay: config.DefaultRegisterRetryDelay,
	}
}

// =============================================================================
// Store
// =============================================================================

// Store provides database operations.
//
// Store is safe for concurrent use.
type Store struct {
	config Config

	mu     sync.RWMutex
	db     *sql.DB
	closed bool

	reconnects singleflight.Group

	// Statistics
	attemptCount   atomic.Int64
	retryCount     atomic.Int64
	reconnectCount atomic.Int64
}

// New opens the database, verifies it and applies the schema.
func New(cfg Config) (*Store, error) {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.InsertRetryDelay <= 0 {
		cfg.InsertRetryDelay = config.DefaultInsertRetryDelay
	}
	if cfg.RegisterRetryDelay <= 0 {
		cfg.RegisterRetryDelay = config.DefaultRegisterRetryDelay
	}

	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	log.Info("store opened", "dsn", cfg.DSN)

	return &Store{
		db:     db,
		config: cfg,
	}, nil
}

func open(cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	if cfg.ReadOnly {
		dsn += "?access_mode=read_only"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.ReadOnly {
		return db, nil
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the store. Operations after Close fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// DB returns the current database handle.
// Use with caution - prefer using Store methods. The handle changes after a
// reconnect.
func (s *Store) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.ErrStoreClosed
	}
	return s.db, nil
}

// reconnect replaces stale with a fresh handle. Concurrent callers share one
// reopen; a caller holding an already replaced handle returns at once.
func (s *Store) reconnect(stale *sql.DB) error {
	_, err, _ := s.reconnects.Do("reconnect", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return nil, errors.ErrStoreClosed
		}
		if s.db != stale {
			return nil, nil
		}

		// DuckDB holds a file lock per open database, so the old handle goes first.
		stale.Close()

		db, err := open(s.config)
		if err != nil {
			return nil, fmt.Errorf("reconnect: %w", err)
		}

		s.db = db
		s.reconnectCount.Add(1)
		log.Warn("store reconnected", "dsn", s.config.DSN, "reconnects", s.reconnectCount.Load())
		return nil, nil
	})
	return err
}

// Stats holds store statistics.
type Stats struct {
	Attempts   int64
	Retries    int64
	Reconnects int64
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	return Stats{
		Attempts:   s.attemptCount.Load(),
		Retries:    s.retryCount.Load(),
		Reconnects: s.reconnectCount.Load(),
	}
}
