package okrstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore keeps cycles and objectives as JSON documents in SQLite, with
// the filterable fields lifted into indexed columns.
type SQLiteStore struct {
	DBPath string
	db     *sql.DB
	q      querier
	inTx   bool
}

// OpenSQLite opens or creates the document database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// One connection serializes writers so a transaction never races a
	// concurrent read-modify-write on the same document.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		DBPath: absPath,
		db:     db,
		q:      db,
	}

	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil && !s.inTx {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS cycles (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	status TEXT NOT NULL,
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_company_status ON cycles(company_id, status);

CREATE TABLE IF NOT EXISTS objectives (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	owner_type TEXT NOT NULL,
	level TEXT NOT NULL,
	status TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_objectives_cycle ON objectives(cycle_id, status);
CREATE INDEX IF NOT EXISTS idx_objectives_owner ON objectives(owner_id);
CREATE INDEX IF NOT EXISTS idx_objectives_parent ON objectives(parent_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create state schema: %w", err)
	}
	return nil
}

// Atomically runs fn inside a database transaction.
func (s *SQLiteStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &SQLiteStore{DBPath: s.DBPath, db: s.db, q: tx, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCycle(ctx context.Context, id string) (Cycle, error) {
	var body string
	err := s.q.QueryRowContext(ctx, "SELECT body FROM cycles WHERE id = ?", id).Scan(&body)
	if err == sql.ErrNoRows {
		return Cycle{}, NotFound("cycle", id)
	}
	if err != nil {
		return Cycle{}, fmt.Errorf("get cycle: %w", err)
	}
	var c Cycle
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return Cycle{}, fmt.Errorf("decode cycle %s: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCycles(ctx context.Context, filter CycleFilter) ([]Cycle, error) {
	var where []string
	var args []any
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT body FROM cycles"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		var c Cycle
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("decode cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return cycles, nil
}

func (s *SQLiteStore) CreateCycle(ctx context.Context, cycle Cycle) error {
	body, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("encode cycle: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO cycles (id, company_id, status, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, cycle.ID, cycle.CompanyID, string(cycle.Status), string(body), stamp(cycle.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutCycle(ctx context.Context, cycle Cycle) error {
	body, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("encode cycle: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE cycles
		SET company_id = ?,
		    status = ?,
		    body = ?,
		    updated_at = ?
		WHERE id = ?
	`, cycle.CompanyID, string(cycle.Status), string(body), stamp(cycle.UpdatedAt), cycle.ID)
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	return requireAffected(res, "cycle", cycle.ID)
}

func (s *SQLiteStore) UpdateCycle(ctx context.Context, id string, mutate func(*Cycle) error) (Cycle, error) {
	var out Cycle
	err := s.Atomically(ctx, func(tx Store) error {
		c, err := tx.GetCycle(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(&c); err != nil {
			return err
		}
		c.ID = id
		if err := tx.PutCycle(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *SQLiteStore) DeleteCycle(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM cycles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete cycle: %w", err)
	}
	return requireAffected(res, "cycle", id)
}

func (s *SQLiteStore) GetObjective(ctx context.Context, id string) (Objective, error) {
	var body string
	err := s.q.QueryRowContext(ctx, "SELECT body FROM objectives WHERE id = ?", id).Scan(&body)
	if err == sql.ErrNoRows {
		return Objective{}, NotFound("objective", id)
	}
	if err != nil {
		return Objective{}, fmt.Errorf("get objective: %w", err)
	}
	var o Objective
	if err := json.Unmarshal([]byte(body), &o); err != nil {
		return Objective{}, fmt.Errorf("decode objective %s: %w", id, err)
	}
	return o, nil
}

// ListObjectives runs the indexed part of filter in SQL and applies
// visibility, search and tag membership over the fetched documents.
func (s *SQLiteStore) ListObjectives(ctx context.Context, filter ObjectiveFilter) ([]Objective, error) {
	var where []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		where = append(where, column+" = ?")
		args = append(args, value)
	}
	add("cycle_id", filter.CycleID)
	add("owner_id", filter.OwnerID)
	add("owner_type", string(filter.OwnerType))
	add("level", string(filter.Level))
	add("status", string(filter.Status))
	if filter.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}

	query := "SELECT body FROM objectives"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query objectives: %w", err)
	}
	defer rows.Close()

	var objs []Objective
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan objective: %w", err)
		}
		var o Objective
		if err := json.Unmarshal([]byte(body), &o); err != nil {
			return nil, fmt.Errorf("decode objective: %w", err)
		}
		objs = append(objs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objectives: %w", err)
	}
	return PostFilter(objs, filter), nil
}

func (s *SQLiteStore) CreateObjective(ctx context.Context, obj Objective) error {
	body, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode objective: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO objectives (id, cycle_id, owner_id, owner_type, level, status, parent_id, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, obj.ID, obj.CycleID, obj.OwnerID, string(obj.OwnerType), string(obj.Level), string(obj.Status),
		obj.ParentID, string(body), stamp(obj.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert objective: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutObjective(ctx context.Context, obj Objective) error {
	body, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode objective: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE objectives
		SET cycle_id = ?,
		    owner_id = ?,
		    owner_type = ?,
		    level = ?,
		    status = ?,
		    parent_id = ?,
		    body = ?,
		    updated_at = ?
		WHERE id = ?
	`, obj.CycleID, obj.OwnerID, string(obj.OwnerType), string(obj.Level), string(obj.Status),
		obj.ParentID, string(body), stamp(obj.UpdatedAt), obj.ID)
	if err != nil {
		return fmt.Errorf("update objective: %w", err)
	}
	return requireAffected(res, "objective", obj.ID)
}

func (s *SQLiteStore) UpdateObjective(ctx context.Context, id string, mutate func(*Objective) error) (Objective, error) {
	var out Objective
	err := s.Atomically(ctx, func(tx Store) error {
		o, err := tx.GetObjective(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(&o); err != nil {
			return err
		}
		o.ID = id
		if err := tx.PutObjective(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *SQLiteStore) DeleteObjective(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM objectives WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete objective: %w", err)
	}
	return requireAffected(res, "objective", id)
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return NotFound(kind, id)
	}
	return nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
