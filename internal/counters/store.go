// Package counters tracks per-recipient send and bounce totals in SQLite.
package counters

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/campora/courier/internal/counters/migrations"
)

const sqliteTimeFormat = "2006-01-02 15:04:05"

// Store wraps an SQLite database holding the counters.
type Store struct {
	db        *sql.DB
	threshold int
}

// Open creates a Store backed by SQLite in dataDir. threshold is the bounce
// count past which sending to a recipient is suppressed.
func Open(dataDir string, threshold int) (*Store, error) {
	dbPath := filepath.Join(dataDir, "courier.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Store{db: db, threshold: threshold}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate runs pending database migrations.
func (s *Store) Migrate() error {
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		content, err := migrations.Files.ReadFile("001_init.sql")
		if err != nil {
			return err
		}
		_, err = s.db.Exec(string(content))
		return err
	}
	return err
}

func now() string {
	return time.Now().UTC().Format(sqliteTimeFormat)
}

// IncrementSendCount records one successful delivery to a recipient.
func (s *Store) IncrementSendCount(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_counts (user_id, sent, last_sent_at) VALUES (?, 1, ?)
		 ON CONFLICT(user_id) DO UPDATE SET sent = sent + 1, last_sent_at = excluded.last_sent_at`,
		userID, now(),
	)
	return err
}

// SendCount returns how many messages were delivered to a recipient.
func (s *Store) SendCount(ctx context.Context, userID int64) (int64, error) {
	var sent int64
	err := s.db.QueryRowContext(ctx,
		`SELECT sent FROM send_counts WHERE user_id = ?`, userID,
	).Scan(&sent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return sent, err
}

// RecordBounce records one delivery failure reported for a recipient.
func (s *Store) RecordBounce(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bounce_counts (user_id, bounces, last_bounce_at) VALUES (?, 1, ?)
		 ON CONFLICT(user_id) DO UPDATE SET bounces = bounces + 1, last_bounce_at = excluded.last_bounce_at`,
		userID, now(),
	)
	return err
}

// ResetBounces clears a recipient's bounce counter, typically after the
// address is confirmed working again.
func (s *Store) ResetBounces(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bounce_counts WHERE user_id = ?`, userID,
	)
	return err
}

// OverBounceThreshold reports whether a recipient accumulated enough bounces
// to suppress further sends.
func (s *Store) OverBounceThreshold(ctx context.Context, userID int64) (bool, error) {
	var bounces int64
	err := s.db.QueryRowContext(ctx,
		`SELECT bounces FROM bounce_counts WHERE user_id = ?`, userID,
	).Scan(&bounces)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bounces >= int64(s.threshold), nil
}
