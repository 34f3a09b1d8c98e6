// Package store persists the entity model in a relational database through
// database/sql. The default driver is the pure-Go SQLite driver.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// DriverSQLite is the registered name of the modernc SQLite driver.
const DriverSQLite = "sqlite"

// Store is the relational store. The zero value and a closed store fail
// every call with ErrNotInitialized.
type Store struct {
	db       *sql.DB
	validate *validator.Validate
	now      func() time.Time
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection keeps in-memory databases and PRAGMAs consistent.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}
	return New(db, logger), nil
}

// New wraps an open database handle.
func New(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("component", "store").Logger(),
	}
}

// Close releases the database. Later calls fail with ErrNotInitialized.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) conn(op string) (*sql.DB, error) {
	if s == nil {
		return nil, perrors.NewNotInitializedError("store", op)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, perrors.NewNotInitializedError("store", op)
	}
	return s.db, nil
}

// Bootstrap creates every table that does not exist yet.
func (s *Store) Bootstrap(ctx context.Context) error {
	db, err := s.conn("Bootstrap")
	if err != nil {
		return err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrapping schema: %w", err)
		}
	}
	s.logger.Info().Int("statements", len(schema)).Msg("Schema bootstrapped")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// mapper binds an entity type to its table. columns[0] is the primary key
// and every table carries created_at and updated_at columns. args returns
// one value per column and stamps the entity's own timestamps, if any.
type mapper[T any] struct {
	table   string
	entity  string
	columns []string
	order   string
	id      func(*T) string
	args    func(v *T, now time.Time) ([]any, error)
	scan    func(rowScanner) (T, error)
}

func (m mapper[T]) selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(m.columns, ", "), m.table)
}

func (m mapper[T]) mutable() []int {
	var idx []int
	for i, c := range m.columns {
		if i == 0 || c == "created_at" {
			continue
		}
		idx = append(idx, i)
	}
	return idx
}

func (s *Store) check(entity, id string, v any) error {
	if id == "" {
		return perrors.NewValidationError("store", fmt.Errorf("%s id is required", entity))
	}
	if err := s.validate.Struct(v); err != nil {
		return perrors.NewValidationError("store", err)
	}
	return nil
}

func (m mapper[T]) prepare(s *Store, v *T) ([]any, error) {
	if err := s.check(m.entity, m.id(v), v); err != nil {
		return nil, err
	}
	args, err := m.args(v, s.now())
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.entity, err)
	}
	return args, nil
}

func insert[T any](ctx context.Context, s *Store, m mapper[T], v T) (T, error) {
	return insertWith(ctx, s, m, v, "")
}

// insertWith appends conflict to the INSERT statement.
func insertWith[T any](ctx context.Context, s *Store, m mapper[T], v T, conflict string) (T, error) {
	db, err := s.conn("insert " + m.table)
	if err != nil {
		return v, err
	}
	args, err := m.prepare(s, &v)
	if err != nil {
		return v, err
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		m.table, strings.Join(m.columns, ", "), placeholders(len(m.columns)))
	if conflict != "" {
		query += " " + conflict
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return v, fmt.Errorf("inserting %s %s: %w", m.entity, m.id(&v), err)
	}
	return v, nil
}

// upsert inserts v or, when the id exists, overwrites everything but the
// creation time.
func upsert[T any](ctx context.Context, s *Store, m mapper[T], v T) (T, error) {
	db, err := s.conn("upsert " + m.table)
	if err != nil {
		return v, err
	}
	args, err := m.prepare(s, &v)
	if err != nil {
		return v, err
	}

	sets := make([]string, 0, len(m.columns))
	for _, i := range m.mutable() {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", m.columns[i], m.columns[i]))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		m.table, strings.Join(m.columns, ", "), placeholders(len(m.columns)), m.columns[0], strings.Join(sets, ", "))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return v, fmt.Errorf("upserting %s %s: %w", m.entity, m.id(&v), err)
	}
	return get(ctx, s, m, m.id(&v))
}

func update[T any](ctx context.Context, s *Store, m mapper[T], v T) (T, error) {
	db, err := s.conn("update " + m.table)
	if err != nil {
		return v, err
	}
	all, err := m.prepare(s, &v)
	if err != nil {
		return v, err
	}

	idx := m.mutable()
	sets := make([]string, 0, len(idx))
	args := make([]any, 0, len(idx)+1)
	for _, i := range idx {
		sets = append(sets, m.columns[i]+" = ?")
		args = append(args, all[i])
	}
	args = append(args, all[0])

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", m.table, strings.Join(sets, ", "), m.columns[0])
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return v, fmt.Errorf("updating %s %s: %w", m.entity, m.id(&v), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return v, perrors.NewNotFoundError("store", m.entity, m.id(&v))
	}

	// Report the stored creation time.
	return get(ctx, s, m, m.id(&v))
}

func get[T any](ctx context.Context, s *Store, m mapper[T], id string) (T, error) {
	var zero T
	db, err := s.conn("get " + m.table)
	if err != nil {
		return zero, err
	}
	row := db.QueryRowContext(ctx, m.selectSQL()+" WHERE "+m.columns[0]+" = ?", id)
	v, err := m.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, perrors.NewNotFoundError("store", m.entity, id)
	}
	if err != nil {
		return zero, fmt.Errorf("reading %s %s: %w", m.entity, id, err)
	}
	return v, nil
}

// list returns rows matching an optional "column = ?" filter.
func list[T any](ctx context.Context, s *Store, m mapper[T], filterColumn string, filterValue any) ([]T, error) {
	db, err := s.conn("list " + m.table)
	if err != nil {
		return nil, err
	}
	query := m.selectSQL()
	var args []any
	if filterColumn != "" {
		query += " WHERE " + filterColumn + " = ?"
		args = append(args, filterValue)
	}
	query += " ORDER BY " + m.order

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", m.table, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := m.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("reading %s row: %w", m.entity, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func remove[T any](ctx context.Context, s *Store, m mapper[T], id string) error {
	db, err := s.conn("delete " + m.table)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM "+m.table+" WHERE "+m.columns[0]+" = ?", id)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", m.entity, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NewNotFoundError("store", m.entity, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Timestamps are stored as fixed-width RFC 3339 text in UTC so that they
// sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTS(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// stamp defaults created to now and always moves updated to now.
func stamp(created, updated *time.Time, now time.Time) (string, string) {
	if created.IsZero() {
		*created = now
	}
	*updated = now
	return ts(*created), ts(*updated)
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromJSON(s string, dst any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

// timeCols receives the created_at and updated_at columns.
type timeCols struct {
	created, updated string
}

func (tc *timeCols) dest() []any {
	return []any{&tc.created, &tc.updated}
}

func (tc timeCols) into(created, updated *time.Time) error {
	var err error
	if *created, err = parseTS(tc.created); err != nil {
		return err
	}
	*updated, err = parseTS(tc.updated)
	return err
}
