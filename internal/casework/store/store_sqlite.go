package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/platform/sqlitemigrate"
	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/sentinel"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteStore is the single-node store: same tables as the postgres store,
// timestamps as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps BEGIN IMMEDIATE from contending with itself.
	db.SetMaxOpenConns(1)
	if err := sqlitemigrate.Apply(ctx, db, sqliteMigrations, "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, state *models.CaseState) error {
	if state == nil {
		return fmt.Errorf("save case: state is required")
	}
	snapshot, err := marshalSnapshot(state)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save case: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM cases WHERE id = ?`, state.ID.String()).Scan(&stored)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read stored version: %w", err)
	}
	if err := checkVersion(exists, stored, state.Version); err != nil {
		return err
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE cases SET status = ?, version = ?, snapshot = ?, updated_at = ? WHERE id = ?`,
			string(state.Status), state.Version, string(snapshot), state.UpdatedAt.UnixMilli(), state.ID.String(),
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cases (id, subject_name, status, version, snapshot, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			state.ID.String(), state.SubjectName, string(state.Status), state.Version, string(snapshot),
			state.CreatedAt.UnixMilli(), state.UpdatedAt.UnixMilli(),
		)
	}
	if err != nil {
		return fmt.Errorf("write case snapshot: %w", err)
	}

	var lastSeq uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM case_audit_entries WHERE case_id = ?`, state.ID.String(),
	).Scan(&lastSeq); err != nil {
		return fmt.Errorf("read last audit seq: %w", err)
	}
	for _, e := range state.EntriesAfter(lastSeq) {
		var detail any
		if len(e.Detail) > 0 {
			detail = string(e.Detail)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO case_audit_entries (case_id, seq, actor, action, detail, at) VALUES (?, ?, ?, ?, ?, ?)`,
			state.ID.String(), int64(e.Seq), e.Actor, e.Action, detail, e.At.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert audit entry %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save case: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, caseID id.CaseID) (*models.CaseState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM cases WHERE id = ?`, caseID.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load case: %w", err)
	}
	state, err := unmarshalSnapshot([]byte(raw))
	if err != nil {
		return nil, err
	}
	state.Audit, err = s.readAudit(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SQLiteStore) ReadAudit(ctx context.Context, caseID id.CaseID) ([]models.AuditEntry, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM cases WHERE id = ?`, caseID.String()).Scan(&n); err != nil {
		return nil, fmt.Errorf("check case exists: %w", err)
	}
	if n == 0 {
		return nil, sentinel.ErrNotFound
	}
	return s.readAudit(ctx, caseID)
}

func (s *SQLiteStore) readAudit(ctx context.Context, caseID id.CaseID) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, actor, action, detail, at FROM case_audit_entries WHERE case_id = ? ORDER BY seq`,
		caseID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("read audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e      models.AuditEntry
			seq    int64
			detail sql.NullString
			at     int64
		)
		if err := rows.Scan(&seq, &e.Actor, &e.Action, &detail, &at); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Seq = uint64(seq)
		if detail.Valid {
			e.Detail = json.RawMessage(detail.String)
		}
		e.At = time.UnixMilli(at).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.CaseState, error) {
	statuses := statusesFor(status)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM cases WHERE status IN (`+placeholders+`) ORDER BY updated_at, id LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	var ids []id.CaseID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan case id: %w", err)
		}
		caseID, err := id.ParseCaseID(raw)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, caseID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	_ = rows.Close()

	out := make([]*models.CaseState, 0, len(ids))
	for _, caseID := range ids {
		state, err := s.Load(ctx, caseID)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}
