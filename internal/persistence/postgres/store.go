package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/persistence"
)

// Store implements persistence.Store against PostgreSQL.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New opens a connection pool and verifies connectivity.
func New(cfg config.DBSettings) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("postgres store connected")
	return NewWithDB(db, cfg.QueryTimeout), nil
}

// NewWithDB wraps an existing connection, used by tests with sqlmock.
func NewWithDB(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Snapshots() persistence.SnapshotRepo { return (*snapshotRepo)(s) }
func (s *Store) History() persistence.HistoryRepo    { return (*historyRepo)(s) }
func (s *Store) Forecasts() persistence.ForecastRepo { return (*forecastRepo)(s) }
func (s *Store) Truth() persistence.TruthRepo        { return (*truthRepo)(s) }
func (s *Store) Backtests() persistence.BacktestRepo { return (*backtestRepo)(s) }

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}
