package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/firebridge/internal/query"
	"github.com/me/firebridge/pkg/model"

	_ "modernc.org/sqlite"
)

var _ JobStore = (*SQLiteStore)(nil)

// SQLiteStore implements JobStore using SQLite. Job documents are stored as
// JSON; the indexed columns mirror the fields Checkout and List filter on.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *model.JobRecord) (int64, error) {
	s.logger.Debug("sql", "op", "insert", "table", "jobs", "name", rec.Name, "host_id", rec.HostID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	nowStr := now.Format(time.RFC3339Nano)
	result, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (name, state, host_id, category, priority, fworker, doc, created_on, updated_on)
		 VALUES (?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		rec.Name, string(model.FireStateReady), rec.HostID, rec.Category, rec.Priority, rec.FWorker,
		nowStr, nowStr,
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	stored := *rec
	stored.ID = id
	stored.State = model.FireStateReady
	stored.CreatedOn = now
	stored.UpdatedOn = now
	stored.Launch = nil
	if err := writeDoc(ctx, tx, &stored); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	*rec = stored
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*model.JobRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "id", id)
	return getJob(ctx, s.db, id)
}

func (s *SQLiteStore) Query(ctx context.Context, p query.Predicate) ([]*model.JobRecord, error) {
	where, args := prefilter(p)
	s.logger.Debug("sql", "op", "query", "table", "jobs", "where", where)

	rows, err := s.db.QueryContext(ctx, `SELECT fw_id, doc FROM jobs`+where+` ORDER BY priority DESC, fw_id`, args...)
	if err != nil {
		return nil, err
	}
	candidates, err := s.scanDocs(rows)
	if err != nil {
		return nil, err
	}

	var out []*model.JobRecord
	for _, c := range candidates {
		if !p.Match(c.doc) {
			continue
		}
		rec, err := model.RecordFromDocument(c.doc)
		if err != nil {
			s.logger.Warn("skipping malformed job document", "id", c.id, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLiteStore) Defuse(ctx context.Context, id int64) (*model.JobRecord, error) {
	s.logger.Debug("sql", "op", "defuse", "table", "jobs", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !rec.State.CanDefuse() {
		s.logger.Debug("job not defusable", "id", id, "state", rec.State)
		return nil, nil
	}
	if rec.State == model.FireStateDefused {
		return rec, nil
	}
	rec.State = model.FireStateDefused
	rec.UpdatedOn = s.now()
	if err := writeDoc(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// Checkout claims the highest-priority READY job matching p and marks it
// RUNNING under the given launch. It returns nil, nil when nothing matches.
func (s *SQLiteStore) Checkout(ctx context.Context, p query.Predicate, launch model.Launch) (*model.JobRecord, error) {
	s.logger.Debug("sql", "op", "checkout", "worker", launch.Worker, "launch_id", launch.ID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT fw_id, doc FROM jobs WHERE state = 'READY' ORDER BY priority DESC, fw_id`)
	if err != nil {
		return nil, err
	}
	candidates, err := s.scanDocs(rows)
	if err != nil {
		return nil, err
	}

	var selected *model.JobRecord
	for _, c := range candidates {
		if !p.Match(c.doc) {
			continue
		}
		rec, err := model.RecordFromDocument(c.doc)
		if err != nil {
			s.logger.Warn("skipping malformed job document", "id", c.id, "error", err)
			continue
		}
		selected = rec
		break
	}
	if selected == nil {
		return nil, nil
	}

	now := s.now()
	if launch.StartedOn.IsZero() {
		launch.StartedOn = now
	}
	selected.State = model.FireStateRunning
	selected.UpdatedOn = now
	selected.Launch = &launch

	doc, err := json.Marshal(selected.ToDocument())
	if err != nil {
		return nil, fmt.Errorf("marshal job %d: %w", selected.ID, err)
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = 'RUNNING', doc = ?, updated_on = ? WHERE fw_id = ? AND state = 'READY'`,
		string(doc), now.Format(time.RFC3339Nano), selected.ID)
	if err != nil {
		return nil, fmt.Errorf("update job state: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO launches (launch_id, fw_id, worker, host, started_on) VALUES (?, ?, ?, ?, ?)`,
		launch.ID, selected.ID, launch.Worker, launch.Host, launch.StartedOn.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert launch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return selected, nil
}

// Complete marks a running job COMPLETED and records the run-script exit code.
// Non-zero codes are kept on the launch; they do not fizzle the job.
func (s *SQLiteStore) Complete(ctx context.Context, id int64, launchID string, exitCode int) error {
	s.logger.Debug("sql", "op", "complete", "table", "jobs", "id", id, "exit_code", exitCode)
	return s.finish(ctx, id, launchID, model.FireStateCompleted, func(l *model.Launch) {
		code := exitCode
		l.ExitCode = &code
	})
}

// Fizzle marks a running job FIZZLED after the worker failed to run it.
func (s *SQLiteStore) Fizzle(ctx context.Context, id int64, launchID string, reason string) error {
	s.logger.Debug("sql", "op", "fizzle", "table", "jobs", "id", id, "reason", reason)
	return s.finish(ctx, id, launchID, model.FireStateFizzled, func(l *model.Launch) {
		l.Error = reason
	})
}

func (s *SQLiteStore) finish(ctx context.Context, id int64, launchID string, state model.FireState, update func(*model.Launch)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := getJob(ctx, tx, id)
	if err != nil {
		return err
	}
	if rec.State != model.FireStateRunning {
		return fmt.Errorf("job %d is %s, not RUNNING", id, rec.State)
	}
	if rec.Launch == nil || rec.Launch.ID != launchID {
		return fmt.Errorf("job %d is not held by launch %s", id, launchID)
	}

	now := s.now()
	rec.State = state
	rec.UpdatedOn = now
	rec.Launch.EndedOn = &now
	update(rec.Launch)
	if err := writeDoc(ctx, tx, rec); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE launches SET ended_on = ?, exit_code = ?, error = ? WHERE launch_id = ?`,
		now.Format(time.RFC3339Nano), rec.Launch.ExitCode, rec.Launch.Error, launchID)
	if err != nil {
		return fmt.Errorf("update launch: %w", err)
	}
	return tx.Commit()
}

// --- helpers ---

// prefilter turns the state and host conditions at the top level of p into a
// WHERE clause on the indexed columns. It may keep rows p rejects, never the
// reverse: Match still runs on every row.
func prefilter(p query.Predicate) (string, []any) {
	var conds []query.Cond
	switch v := p.(type) {
	case query.Cond:
		conds = append(conds, v)
	case query.AndPred:
		for _, child := range v {
			if c, ok := child.(query.Cond); ok {
				conds = append(conds, c)
			}
		}
	}

	var clauses []string
	var args []any
	for _, c := range conds {
		var column string
		switch c.Path {
		case model.FieldState:
			column = "state"
		case model.FieldHostID:
			column = "host_id"
		default:
			continue
		}
		vals, ok := textValues(c)
		if !ok || len(vals) == 0 {
			continue
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", ")
		switch c.Op {
		case query.OpEq, query.OpIn:
			// Generic jobs store an empty host_id for a missing field.
			if column == "host_id" && containsEmpty(vals) {
				continue
			}
			clauses = append(clauses, column+" IN ("+marks+")")
		case query.OpNe, query.OpNin:
			// A missing host matches $ne, so only state can be excluded.
			if column != "state" {
				continue
			}
			clauses = append(clauses, column+" NOT IN ("+marks+")")
		default:
			continue
		}
		args = append(args, vals...)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func textValues(c query.Cond) ([]any, bool) {
	raw := []any{c.Value}
	if c.Op == query.OpIn || c.Op == query.OpNin {
		list, ok := c.Value.([]any)
		if !ok {
			return nil, false
		}
		raw = list
	}
	out := make([]any, 0, len(raw))
	for _, v := range raw {
		switch s := v.(type) {
		case string:
			out = append(out, s)
		case model.FireState:
			out = append(out, string(s))
		default:
			return nil, false
		}
	}
	return out, true
}

func containsEmpty(vals []any) bool {
	for _, v := range vals {
		if v == "" {
			return true
		}
	}
	return false
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getJob(ctx context.Context, q querier, id int64) (*model.JobRecord, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT doc FROM jobs WHERE fw_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal job %d: %w", id, err)
	}
	return model.RecordFromDocument(doc)
}

// writeDoc rewrites the document and its mirrored columns.
func writeDoc(ctx context.Context, e execer, rec *model.JobRecord) error {
	doc, err := json.Marshal(rec.ToDocument())
	if err != nil {
		return fmt.Errorf("marshal job %d: %w", rec.ID, err)
	}
	result, err := e.ExecContext(ctx,
		`UPDATE jobs SET name = ?, state = ?, host_id = ?, category = ?, priority = ?, fworker = ?,
		 doc = ?, updated_on = ? WHERE fw_id = ?`,
		rec.Name, string(rec.State), rec.HostID, rec.Category, rec.Priority, rec.FWorker,
		string(doc), rec.UpdatedOn.UTC().Format(time.RFC3339Nano), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", rec.ID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %d: %w", rec.ID, model.ErrNotFound)
	}
	return nil
}

type storedDoc struct {
	id  int64
	doc map[string]any
}

// scanDocs drains rows before returning so the single connection is free
// for the statements that follow.
func (s *SQLiteStore) scanDocs(rows *sql.Rows) ([]storedDoc, error) {
	defer rows.Close()
	var out []storedDoc
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			s.logger.Warn("skipping undecodable job document", "id", id, "error", err)
			continue
		}
		out = append(out, storedDoc{id: id, doc: doc})
	}
	return out, rows.Err()
}
