// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore persists window counters in the shared workspace database,
// so limits hold across process restarts. It speaks the same three
// dialects as the memory backend: sqlite, postgres, mysql.
//
// The store does not own the *sql.DB; the caller's pool does.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the usage table if needed and returns the store.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("create rate limit schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) createSchema() error {
	timestampType := "TIMESTAMP"
	if s.dialect == "sqlite" {
		timestampType = "DATETIME"
	}
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS rate_limit_usage (
			scope       VARCHAR(32)  NOT NULL,
			identifier  VARCHAR(255) NOT NULL,
			limit_type  VARCHAR(16)  NOT NULL,
			time_window VARCHAR(16)  NOT NULL,
			amount      BIGINT       NOT NULL,
			window_end  %s           NOT NULL,
			PRIMARY KEY (scope, identifier, limit_type, time_window)
		)`, timestampType))
	return err
}

// placeholder renders the dialect's parameter marker for position n
// (1-based).
func (s *SQLStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) selectUsage(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, bool, error) {
	query := fmt.Sprintf(`
		SELECT amount, window_end FROM rate_limit_usage
		WHERE scope = %s AND identifier = %s AND limit_type = %s AND time_window = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))

	var amount int64
	var windowEnd time.Time
	err := q.QueryRowContext(ctx, query, string(scope), identifier, string(limitType), string(window)).
		Scan(&amount, &windowEnd)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, err
	}
	return amount, windowEnd, true, nil
}

// GetUsage gets current usage for a specific limit. An expired or
// absent window reads as zero with a fresh window end.
func (s *SQLStore) GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	amount, windowEnd, found, err := s.selectUsage(ctx, s.db, scope, identifier, limitType, window)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("get usage: %w", err)
	}

	now := time.Now()
	if !found || windowEnd.Before(now) {
		return 0, now.Add(window.Duration()), nil
	}
	return amount, windowEnd, nil
}

// IncrementUsage increments usage for a specific limit, resetting the
// window first when it has expired.
func (s *SQLStore) IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("begin increment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, windowEnd, found, err := s.selectUsage(ctx, tx, scope, identifier, limitType, window)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read usage: %w", err)
	}

	now := time.Now()
	if !found || windowEnd.Before(now) {
		current = amount
		windowEnd = now.Add(window.Duration())
	} else {
		current += amount
	}

	if err := s.upsert(ctx, tx, scope, identifier, limitType, window, current, windowEnd); err != nil {
		return 0, time.Time{}, fmt.Errorf("write usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("commit increment: %w", err)
	}
	return current, windowEnd, nil
}

// SetUsage sets usage for a specific limit.
func (s *SQLStore) SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	if err := s.upsert(ctx, s.db, scope, identifier, limitType, window, amount, windowEnd); err != nil {
		return fmt.Errorf("set usage: %w", err)
	}
	return nil
}

func (s *SQLStore) upsert(ctx context.Context, ex interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	var query string
	switch s.dialect {
	case "mysql":
		query = `
			INSERT INTO rate_limit_usage (scope, identifier, limit_type, time_window, amount, window_end)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE amount = VALUES(amount), window_end = VALUES(window_end)`
	default:
		query = fmt.Sprintf(`
			INSERT INTO rate_limit_usage (scope, identifier, limit_type, time_window, amount, window_end)
			VALUES (%s, %s, %s, %s, %s, %s)
			ON CONFLICT (scope, identifier, limit_type, time_window)
			DO UPDATE SET amount = excluded.amount, window_end = excluded.window_end`,
			s.placeholder(1), s.placeholder(2), s.placeholder(3),
			s.placeholder(4), s.placeholder(5), s.placeholder(6))
	}

	_, err := ex.ExecContext(ctx, query,
		string(scope), identifier, string(limitType), string(window), amount, windowEnd)
	return err
}

// DeleteUsage deletes all usage records for an identifier.
func (s *SQLStore) DeleteUsage(ctx context.Context, scope Scope, identifier string) error {
	query := fmt.Sprintf(`DELETE FROM rate_limit_usage WHERE scope = %s AND identifier = %s`,
		s.placeholder(1), s.placeholder(2))
	if _, err := s.db.ExecContext(ctx, query, string(scope), identifier); err != nil {
		return fmt.Errorf("delete usage: %w", err)
	}
	return nil
}

// DeleteExpired deletes records whose window ended before the given
// time.
func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) error {
	query := fmt.Sprintf(`DELETE FROM rate_limit_usage WHERE window_end < %s`, s.placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, before); err != nil {
		return fmt.Errorf("delete expired usage: %w", err)
	}
	return nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (s *SQLStore) Close() error {
	return nil
}
