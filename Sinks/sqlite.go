package Sinks

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"rfburst/Filters"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps detection events in a sqlite database.
type Store struct {
	db          *sql.DB
	frequencyHz float64
}

// OpenStore opens (creating if needed) the database at path and brings its
// schema up to date. Events are tagged with frequencyHz.
func OpenStore(path string, frequencyHz float64) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, frequencyHz: frequencyHz}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: that would close db too.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Emit inserts ev.
func (s *Store) Emit(ctx context.Context, ev Filters.Event) error {
	r := NewRecord(ev, s.frequencyHz)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, kind, timestamp_ns, peak, average, frequency_hz) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Timestamp.UnixNano(), r.Peak, r.Average, r.FrequencyHz)
	if err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, timestamp_ns, peak, average, frequency_hz
		   FROM events ORDER BY timestamp_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ns int64
		if err := rows.Scan(&r.ID, &r.Kind, &ns, &r.Peak, &r.Average, &r.FrequencyHz); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ns)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored events of the given kind, or of all
// kinds when kind is empty.
func (s *Store) Count(ctx context.Context, kind string) (int, error) {
	var n int
	var err error
	if kind == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE kind = ?`, kind).Scan(&n)
	}
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
