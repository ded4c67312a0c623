package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/gometeo/skycast/internal/events"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS preferences (
		pref_key VARCHAR(100) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fetch_events (
		id VARCHAR(36) PRIMARY KEY,
		location VARCHAR(255) NOT NULL,
		units VARCHAR(16) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		message TEXT NOT NULL,
		auto_load BOOLEAN NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

// SQLStore implements cache.Store on Postgres or SQLite and archives fetch
// events.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

func Open(driver, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if driver == DriverSQLite {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			logger.Warn("Could not enable WAL mode", "error", err)
		}
	}

	// Tables are created on start; there are only two and they never change shape.
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}

	return &SQLStore{db: db, driver: driver, logger: logger}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind turns ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const upsertPreference = `
	INSERT INTO preferences (pref_key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT (pref_key) DO UPDATE
	SET value = EXCLUDED.value,
	    updated_at = EXCLUDED.updated_at`

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM preferences WHERE pref_key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsertPreference), key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// SetMany upserts all pairs in one transaction.
func (s *SQLStore) SetMany(ctx context.Context, values map[string]string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertPreference))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for k, v := range values {
		if _, err = stmt.ExecContext(ctx, k, v, now); err != nil {
			return fmt.Errorf("save %s: %w", k, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM preferences WHERE pref_key = ?`), key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// SaveEvent stores a fetch event. Redelivered events are ignored.
func (s *SQLStore) SaveEvent(ctx context.Context, e events.FetchEvent) error {
	query := `
		INSERT INTO fetch_events (id, location, units, outcome, kind, message, auto_load, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		e.ID, e.Location, e.Units, e.Outcome, e.Kind, e.Message, e.AutoLoad, e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("save fetch event %s: %w", e.ID, err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLStore) RecentEvents(ctx context.Context, limit int) ([]events.FetchEvent, error) {
	query := `
		SELECT id, location, units, outcome, kind, message, auto_load, created_at
		FROM fetch_events
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("list fetch events: %w", err)
	}
	defer rows.Close()

	out := make([]events.FetchEvent, 0, limit)
	for rows.Next() {
		var e events.FetchEvent
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Location, &e.Units, &e.Outcome, &e.Kind, &e.Message, &e.AutoLoad, &createdAt); err != nil {
			return nil, fmt.Errorf("scan fetch event: %w", err)
		}
		e.Timestamp = time.UnixMilli(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
