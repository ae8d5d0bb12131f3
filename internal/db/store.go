package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/g960059/tapmon/internal/prefs"
)

type Store struct {
	db *sql.DB
}

var _ prefs.Backend = (*Store)(nil)

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMigrated opens path and applies pending migrations.
func OpenMigrated(ctx context.Context, path string) (*Store, error) {
	store, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, store.db); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Get(ctx context.Context, key string) (prefs.Value, bool, error) {
	var (
		kind    sql.NullString
		storage string
		raw     any
	)
	err := s.db.QueryRowContext(ctx, `SELECT kind, typeof(value), value FROM prefs WHERE key = ?`, key).Scan(&kind, &storage, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs.Value{}, false, nil
	}
	if err != nil {
		return prefs.Value{}, false, fmt.Errorf("get pref %s: %w", key, err)
	}
	v, ok := decodeValue(kind.String, storage, raw)
	return v, ok, nil
}

func (s *Store) Apply(ctx context.Context, writes []prefs.Write) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin prefs tx: %w", err)
	}
	now := ts(time.Now())
	for _, w := range writes {
		if w.Value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM prefs WHERE key = ?`, w.Key); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("delete pref %s: %w", w.Key, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO prefs(key, kind, value, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	kind = excluded.kind,
	value = excluded.value,
	updated_at = excluded.updated_at
`, w.Key, string(w.Value.Kind), encodeValue(*w.Value), now)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("put pref %s: %w", w.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prefs tx: %w", err)
	}
	return nil
}

func encodeValue(v prefs.Value) any {
	switch v.Kind {
	case prefs.KindInt:
		return v.Int
	case prefs.KindFloat:
		return v.Float
	case prefs.KindBool:
		return boolToInt(v.Bool)
	default:
		return v.Str
	}
}

// decodeValue trusts the storage class first; kind only disambiguates
// booleans, which SQLite stores as integers. Rows from before the kind column
// existed decode purely from typeof(value).
func decodeValue(kind, storage string, raw any) (prefs.Value, bool) {
	var v prefs.Value
	switch storage {
	case "integer":
		n, ok := raw.(int64)
		if !ok {
			return prefs.Value{}, false
		}
		v = prefs.Int(n)
	case "real":
		f, ok := raw.(float64)
		if !ok {
			return prefs.Value{}, false
		}
		v = prefs.Float(f)
	case "text":
		switch s := raw.(type) {
		case string:
			v = prefs.String(s)
		case []byte:
			v = prefs.String(string(s))
		default:
			return prefs.Value{}, false
		}
	case "blob":
		b, ok := raw.([]byte)
		if !ok {
			return prefs.Value{}, false
		}
		v = prefs.String(string(b))
	default:
		return prefs.Value{}, false
	}
	if prefs.Kind(kind) == prefs.KindBool && v.Kind == prefs.KindInt {
		return prefs.Bool(v.Int != 0), true
	}
	return v, true
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
