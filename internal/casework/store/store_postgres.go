package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"wealthcheck/internal/casework/models"
	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/sentinel"
	"wealthcheck/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

// PostgresStore persists case snapshots in PostgreSQL. The audit log lives
// in case_audit_entries and is written in the same transaction as the
// snapshot, so (case_id, seq) uniqueness backs the gap-free sequence.
type PostgresStore struct {
	db *sql.DB
	tx *tx.Runner
}

// NewPostgres constructs a PostgreSQL-backed case store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tx: tx.NewRunner(db, 0)}
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbtx {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, state *models.CaseState) error {
	if state == nil {
		return fmt.Errorf("save case: state is required")
	}
	snapshot, err := marshalSnapshot(state)
	if err != nil {
		return err
	}
	err = s.tx.RunInTx(ctx, nil, func(ctx context.Context) error {
		q := s.conn(ctx)
		if err := s.writeSnapshot(ctx, q, state, snapshot); err != nil {
			return err
		}
		var lastSeq uint64
		if err := q.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM case_audit_entries WHERE case_id = $1`,
			uuid.UUID(state.ID),
		).Scan(&lastSeq); err != nil {
			return fmt.Errorf("read last audit seq: %w", err)
		}
		for _, e := range state.EntriesAfter(lastSeq) {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO case_audit_entries (case_id, seq, actor, action, detail, at) VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.UUID(state.ID), e.Seq, e.Actor, e.Action, nullableJSON(e.Detail), e.At,
			); err != nil {
				return fmt.Errorf("insert audit entry %d: %w", e.Seq, err)
			}
		}
		return nil
	})
	return translatePQ(err)
}

func (s *PostgresStore) writeSnapshot(ctx context.Context, q dbtx, state *models.CaseState, snapshot []byte) error {
	var (
		res sql.Result
		err error
	)
	if state.Version == 1 {
		res, err = q.ExecContext(ctx,
			`INSERT INTO cases (id, subject_name, status, version, snapshot, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO NOTHING`,
			uuid.UUID(state.ID), state.SubjectName, string(state.Status), state.Version, snapshot, state.CreatedAt, state.UpdatedAt,
		)
	} else {
		res, err = q.ExecContext(ctx,
			`UPDATE cases SET status = $2, version = $3, snapshot = $4, updated_at = $5
			 WHERE id = $1 AND version = $6`,
			uuid.UUID(state.ID), string(state.Status), state.Version, snapshot, state.UpdatedAt, state.Version-1,
		)
	}
	if err != nil {
		return fmt.Errorf("write case snapshot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write case snapshot rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("case %s version %d: %w", state.ID, state.Version, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, caseID id.CaseID) (*models.CaseState, error) {
	var raw []byte
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT snapshot FROM cases WHERE id = $1`, uuid.UUID(caseID)).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load case: %w", err)
	}
	state, err := unmarshalSnapshot(raw)
	if err != nil {
		return nil, err
	}
	state.Audit, err = s.readAudit(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *PostgresStore) ReadAudit(ctx context.Context, caseID id.CaseID) ([]models.AuditEntry, error) {
	var exists bool
	if err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, uuid.UUID(caseID),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check case exists: %w", err)
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return s.readAudit(ctx, caseID)
}

func (s *PostgresStore) readAudit(ctx context.Context, caseID id.CaseID) ([]models.AuditEntry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT seq, actor, action, detail, at FROM case_audit_entries WHERE case_id = $1 ORDER BY seq`,
		uuid.UUID(caseID),
	)
	if err != nil {
		return nil, fmt.Errorf("read audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e      models.AuditEntry
			detail []byte
			at     time.Time
		)
		if err := rows.Scan(&e.Seq, &e.Actor, &e.Action, &detail, &at); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(detail) > 0 {
			e.Detail = json.RawMessage(detail)
		}
		e.At = at.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.CaseState, error) {
	statuses := statusesFor(status)
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT id FROM cases WHERE status = ANY($1) ORDER BY updated_at, id LIMIT $2`,
		pq.Array(names), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	var ids []id.CaseID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan case id: %w", err)
		}
		ids = append(ids, id.CaseID(u))
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
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// translatePQ maps a lost insert race on the audit or case key to a conflict.
func translatePQ(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", pqErr.Constraint, sentinel.ErrConflict)
	}
	return err
}
