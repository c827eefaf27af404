// Package postgres provides a PostgreSQL-backed Store for usagemeter.
//
// The request counter lives on an accounts row and is incremented with a
// single conditional UPDATE, so concurrent consumers cannot push a user past
// the limit. Day aggregates use upsert-with-increment on a (user_id, day)
// primary key. This makes it safe for multi-instance deployments.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kriralabs/usagemeter"
)

// Store is a PostgreSQL-backed usagemeter.Store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ usagemeter.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "usagemeter_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed Store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "usagemeter_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountsTable() string { return s.tablePrefix + "accounts" }
func (s *Store) daysTable() string     { return s.tablePrefix + "usage_days" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT PRIMARY KEY,
			requests_used BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT NOT NULL,
			day DATE NOT NULL,
			requests BIGINT NOT NULL DEFAULT 0,
			tokens BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, day)
		);
	`, s.accountsTable(), s.daysTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("usagemeter/postgres: ensure schema: %w", err)
	}
	return nil
}

// SetRequestsUsed seeds the counter for a user, replacing any current value.
func (s *Store) SetRequestsUsed(ctx context.Context, userID string, used int64) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, requests_used) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET requests_used = EXCLUDED.requests_used`,
			s.accountsTable()),
		userID, used,
	)
	if err != nil {
		return fmt.Errorf("usagemeter/postgres: set requests used: %w", err)
	}
	return nil
}

// IncrementRequestsUsed atomically adds amount to the user's counter.
// With limit > 0 the UPDATE only applies while the result stays within the
// limit; a refusal returns ErrLimitExceeded.
func (s *Store) IncrementRequestsUsed(ctx context.Context, userID string, amount, limit int64) (int64, error) {
	// Lazily create the accounts row so fresh users start at zero.
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, s.accountsTable()),
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("usagemeter/postgres: ensure account: %w", err)
	}

	var used int64
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET requests_used = requests_used + $1
			WHERE user_id = $2 AND ($3 <= 0 OR requests_used + $1 <= $3)
			RETURNING requests_used`, s.accountsTable()),
		amount, userID, limit,
	).Scan(&used)

	if err == pgx.ErrNoRows {
		return 0, usagemeter.ErrLimitExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("usagemeter/postgres: increment: %w", err)
	}
	return used, nil
}

// AddDayUsage upserts the (userID, day) row, incrementing its counts.
func (s *Store) AddDayUsage(ctx context.Context, userID string, day time.Time, requests, tokens int64) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, day, requests, tokens) VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, day) DO UPDATE SET
				requests = %s.requests + EXCLUDED.requests,
				tokens = %s.tokens + EXCLUDED.tokens`,
			s.daysTable(), s.daysTable(), s.daysTable()),
		userID, day, requests, tokens,
	)
	if err != nil {
		return fmt.Errorf("usagemeter/postgres: add day usage: %w", err)
	}
	return nil
}

// DayUsageSince returns the user's day rows with day >= from, oldest first.
func (s *Store) DayUsageSince(ctx context.Context, userID string, from time.Time) ([]usagemeter.DayUsage, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT day, requests, tokens FROM %s
			WHERE user_id = $1 AND day >= $2 ORDER BY day ASC`, s.daysTable()),
		userID, from,
	)
	if err != nil {
		return nil, fmt.Errorf("usagemeter/postgres: day usage since: %w", err)
	}
	defer rows.Close()

	var out []usagemeter.DayUsage
	for rows.Next() {
		var day time.Time
		var row usagemeter.DayUsage
		if err := rows.Scan(&day, &row.Requests, &row.Tokens); err != nil {
			return nil, fmt.Errorf("usagemeter/postgres: scan day usage: %w", err)
		}
		// DATE columns scan with a zero clock; pin the location to UTC so the
		// bucketing matches the write path.
		row.Day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usagemeter/postgres: day usage since: %w", err)
	}
	return out, nil
}
