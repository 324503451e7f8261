package audit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by PGStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ListParams narrows a timeline query. Zero values disable a filter.
type ListParams struct {
	From      time.Time
	To        time.Time
	Principal string
	Entity    string
	Action    string
	Offset    int
	Limit     int
}

// PGStore writes records into audit_records.
type PGStore struct {
	db DB
}

// NewPGStore returns a new PGStore.
func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

// Append persists the record. Records are never updated or deleted.
func (s *PGStore) Append(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return errors.New("audit store not initialised")
	}
	if rec.ID == "" || rec.EntityType == "" || rec.EntityID == "" || rec.Action == "" {
		return errors.New("audit record requires id/entity_type/entity_id/action")
	}
	fields := rec.ChangedFields
	if fields == nil {
		fields = []string{}
	}
	_, err := s.db.Exec(ctx, `INSERT INTO audit_records
		(id, principal_id, entity_type, entity_id, action, changed_fields, compliance, risk_score, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.PrincipalID, rec.EntityType, rec.EntityID, string(rec.Action), fields,
		string(rec.Compliance), rec.RiskScore, rec.Description, nullableTime(rec.CreatedAt))
	return err
}

// List returns records newest first.
func (s *PGStore) List(ctx context.Context, params ListParams) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if !params.From.IsZero() {
		add("created_at >= ?", params.From)
	}
	if !params.To.IsZero() {
		add("created_at < ?", params.To)
	}
	if v := strings.TrimSpace(params.Principal); v != "" {
		add("principal_id = ?", v)
	}
	if v := strings.TrimSpace(params.Entity); v != "" {
		add("entity_type = ?", v)
	}
	if v := strings.TrimSpace(params.Action); v != "" {
		add("action = ?", v)
	}
	query := `SELECT id, principal_id, entity_type, entity_id, action, changed_fields, compliance, risk_score, description, created_at FROM audit_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var action, compliance string
		if err := rows.Scan(&rec.ID, &rec.PrincipalID, &rec.EntityType, &rec.EntityID, &action, &rec.ChangedFields, &compliance, &rec.RiskScore, &rec.Description, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Action = Action(action)
		rec.Compliance = Compliance(compliance)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
