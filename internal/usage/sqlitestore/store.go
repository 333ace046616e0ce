// Package sqlitestore persists usage rows and user secrets in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/usage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL DEFAULT 'free',
	daily_message_count INTEGER NOT NULL DEFAULT 0,
	daily_reset INTEGER,
	daily_pro_message_count INTEGER NOT NULL DEFAULT 0,
	daily_pro_reset INTEGER,
	last_active_at INTEGER
);

CREATE TABLE IF NOT EXISTS anonymous_usage (
	id TEXT PRIMARY KEY,
	daily_count INTEGER NOT NULL DEFAULT 0,
	daily_reset INTEGER
);

CREATE TABLE IF NOT EXISTS user_secrets (
	user_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	api_key TEXT NOT NULL,
	PRIMARY KEY (user_id, provider)
);
`

// Store implements usage.UsersStore, usage.AnonymousStore and the gateway's
// user-secrets lookup on a single SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and migrates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage database %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage database: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// EnsureUser creates the user row if it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, userID, planID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, plan_id) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET plan_id = excluded.plan_id`,
		userID, planID)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return nil
}

// Usage loads a user's usage row. A missing user yields a zero state.
func (s *Store) Usage(ctx context.Context, userID string) (*usage.State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT plan_id, daily_message_count, daily_reset, daily_pro_message_count, daily_pro_reset
		 FROM users WHERE id = ?`, userID)

	var state usage.State
	var reset, proReset sql.NullInt64
	err := row.Scan(&state.PlanID, &state.DailyMessageCount, &reset, &state.DailyProMessageCount, &proReset)
	if errors.Is(err, sql.ErrNoRows) {
		return &usage.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load usage for %s: %w", userID, err)
	}
	state.DailyReset = unixPtr(reset)
	state.DailyProReset = unixPtr(proReset)
	return &state, nil
}

// Update applies a partial usage patch.
func (s *Store) Update(ctx context.Context, userID string, patch usage.Patch) error {
	var sets []string
	var args []any

	if patch.DailyMessageCount != nil {
		sets = append(sets, "daily_message_count = ?")
		args = append(args, *patch.DailyMessageCount)
	}
	if patch.DailyReset != nil {
		sets = append(sets, "daily_reset = ?")
		args = append(args, patch.DailyReset.UTC().Unix())
	}
	if patch.DailyProMessageCount != nil {
		sets = append(sets, "daily_pro_message_count = ?")
		args = append(args, *patch.DailyProMessageCount)
	}
	if patch.DailyProReset != nil {
		sets = append(sets, "daily_pro_reset = ?")
		args = append(args, patch.DailyProReset.UTC().Unix())
	}
	if patch.LastActiveAt != nil {
		sets = append(sets, "last_active_at = ?")
		args = append(args, patch.LastActiveAt.UTC().Unix())
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, userID)
	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update usage for %s: %w", userID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// First write for a user we have not seen; create the row and retry.
		if err := s.EnsureUser(ctx, userID, "free"); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update usage for %s: %w", userID, err)
		}
	}
	return nil
}

// IncrementIfUnder atomically increments the selected counter only while it
// stays under limit. It returns false when the quota is exhausted. This is
// the conditional alternative to the meter's separate check-then-increment.
func (s *Store) IncrementIfUnder(ctx context.Context, userID string, pro bool, delta, limit int) (bool, error) {
	column := "daily_message_count"
	if pro {
		column = "daily_pro_message_count"
	}
	query := fmt.Sprintf(
		"UPDATE users SET %s = %s + ?, last_active_at = ? WHERE id = ? AND %s < ?",
		column, column, column)
	result, err := s.db.ExecContext(ctx, query, delta, s.now().UTC().Unix(), userID, limit)
	if err != nil {
		return false, fmt.Errorf("conditional increment for %s: %w", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CheckAndResetDaily returns the anonymous caller's count, zeroing it first
// when a new UTC day has started.
func (s *Store) CheckAndResetDaily(ctx context.Context, anonID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT daily_count, daily_reset FROM anonymous_usage WHERE id = ?`, anonID)

	var count int
	var reset sql.NullInt64
	err := row.Scan(&count, &reset)
	now := s.now().UTC()
	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO anonymous_usage (id, daily_count, daily_reset) VALUES (?, 0, ?)`,
			anonID, now.Unix())
		if err != nil {
			return 0, fmt.Errorf("create anonymous usage for %s: %w", anonID, err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load anonymous usage for %s: %w", anonID, err)
	}

	if sameUTCDay(unixPtr(reset), now) {
		return count, nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE anonymous_usage SET daily_count = 0, daily_reset = ? WHERE id = ?`,
		now.Unix(), anonID)
	if err != nil {
		return 0, fmt.Errorf("reset anonymous usage for %s: %w", anonID, err)
	}
	return 0, nil
}

// Increment adds one anonymous message, re-deriving the day boundary.
func (s *Store) Increment(ctx context.Context, anonID string) error {
	count, err := s.CheckAndResetDaily(ctx, anonID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE anonymous_usage SET daily_count = ? WHERE id = ?`,
		count+1, anonID)
	if err != nil {
		return fmt.Errorf("increment anonymous usage for %s: %w", anonID, err)
	}
	return nil
}

// ProviderAPIKey returns a user's stored key for a provider.
func (s *Store) ProviderAPIKey(ctx context.Context, userID, provider string) (string, bool) {
	row := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM user_secrets WHERE user_id = ? AND provider = ?`, userID, provider)
	var key string
	if err := row.Scan(&key); err != nil {
		return "", false
	}
	return key, key != ""
}

// SetProviderAPIKey stores or replaces a user's provider key.
func (s *Store) SetProviderAPIKey(ctx context.Context, userID, provider, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_secrets (user_id, provider, api_key) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, provider) DO UPDATE SET api_key = excluded.api_key`,
		userID, provider, key)
	if err != nil {
		return fmt.Errorf("store provider key for %s: %w", userID, err)
	}
	return nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func sameUTCDay(reset *time.Time, now time.Time) bool {
	if reset == nil {
		return false
	}
	ry, rm, rd := reset.UTC().Date()
	ny, nm, nd := now.Date()
	return ry == ny && rm == nm && rd == nd
}
