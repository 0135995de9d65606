package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"planner-api/domain"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const (
	weekKind = "week"
	taskKind = "task"
)

// SQLite stores weeks and tasks as JSON documents in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func listDocuments[T any](ctx context.Context, db *sql.DB, kind string) ([]T, error) {
	rows, err := db.QueryContext(ctx, `SELECT body FROM documents WHERE kind = ? ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %s: %w", kind, err)
	}
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", kind, err)
		}
		var v T
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, fmt.Errorf("sqlite: decode %s: %w", kind, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) insert(ctx context.Context, kind, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents (kind, id, body) VALUES (?, ?, ?)`, kind, id, string(body)); err != nil {
		return fmt.Errorf("sqlite: insert %s: %w", kind, err)
	}
	return nil
}

// modify loads the document inside a transaction and lets fn decide what to
// write back. fn returns the new body, or nil to delete the document. found
// is false when no document has the id.
func (s *SQLite) modify(ctx context.Context, kind, id string, fn func(body []byte) ([]byte, error)) (found bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var body string
	err = tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE kind = ? AND id = ?`, kind, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: load %s: %w", kind, err)
	}
	next, err := fn([]byte(body))
	if err != nil {
		return false, err
	}
	if next == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND id = ?`, kind, id)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE documents SET body = ? WHERE kind = ? AND id = ?`, string(next), kind, id)
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: write %s: %w", kind, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: commit: %w", err)
	}
	return true, nil
}

func (s *SQLite) ListWeeks(ctx context.Context) ([]domain.Week, error) {
	return listDocuments[domain.Week](ctx, s.db, weekKind)
}

func (s *SQLite) InsertWeek(ctx context.Context, w domain.Week) (domain.Week, error) {
	id, err := newID()
	if err != nil {
		return domain.Week{}, err
	}
	w.ID = id
	if err := s.insert(ctx, weekKind, id, w); err != nil {
		return domain.Week{}, err
	}
	return w, nil
}

func (s *SQLite) ReplaceWeek(ctx context.Context, w domain.Week) (*domain.Week, error) {
	found, err := s.modify(ctx, weekKind, w.ID, func([]byte) ([]byte, error) {
		return json.Marshal(w)
	})
	if err != nil || !found {
		return nil, err
	}
	return &w, nil
}

func (s *SQLite) DeleteWeek(ctx context.Context, id string) (*domain.Week, error) {
	var w domain.Week
	found, err := s.modify(ctx, weekKind, id, func(body []byte) ([]byte, error) {
		return nil, json.Unmarshal(body, &w)
	})
	if err != nil || !found {
		return nil, err
	}
	return &w, nil
}

func (s *SQLite) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return listDocuments[domain.Task](ctx, s.db, taskKind)
}

func (s *SQLite) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	id, err := newID()
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = id
	if err := s.insert(ctx, taskKind, id, t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *SQLite) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	var t domain.Task
	found, err := s.modify(ctx, taskKind, id, func(body []byte) ([]byte, error) {
		var cur domain.Task
		if err := json.Unmarshal(body, &cur); err != nil {
			return nil, err
		}
		t = patch.Apply(cur)
		return json.Marshal(t)
	})
	if err != nil || !found {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	var t domain.Task
	found, err := s.modify(ctx, taskKind, id, func(body []byte) ([]byte, error) {
		return nil, json.Unmarshal(body, &t)
	})
	if err != nil || !found {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }
