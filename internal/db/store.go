package db

import (
	"database/sql"
	"time"

	"github.com/hpungsan/dayloom/internal/config"
)

// Store is the serialized gateway to the timeline database. All methods run
// through one Queue.
type Store struct {
	db  *sql.DB
	q   *Queue
	now func() time.Time
}

// Open initializes the database under baseDir and starts its queue.
func Open(baseDir string, cfg *config.Config) (*Store, error) {
	sqlDB, err := Init(baseDir)
	if err != nil {
		return nil, err
	}
	ConfigurePool(sqlDB, cfg)
	return NewStore(sqlDB), nil
}

// NewStore wraps an initialized database.
func NewStore(sqlDB *sql.DB) *Store {
	return &Store{db: sqlDB, q: NewQueue(sqlDB), now: time.Now}
}

// SetClock overrides the clock used for created_at/updated_at columns.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying handle for tests and diagnostics.
// Callers must not write through it while the store is in use.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close stops the queue and closes the database.
func (s *Store) Close() error {
	s.q.Close()
	return s.db.Close()
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}
