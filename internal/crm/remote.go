package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-crm/internal/rbac"
)

// Remote is the authoritative store of one entity type. Every error it
// returns is, or wraps, a *RemoteError.
type Remote[T Entity[T]] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, item T) (T, error)
	Delete(ctx context.Context, id string) error
}

// Querier is the subset of pgxpool.Pool used by PGRemote.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRemote stores entities of one resource as JSONB documents in the
// crm_records table. Ids are assigned by the store.
type PGRemote[T Entity[T]] struct {
	db       Querier
	resource string
}

// NewPGRemote constructs a PGRemote for resource.
func NewPGRemote[T Entity[T]](db Querier, resource string) *PGRemote[T] {
	return &PGRemote[T]{db: db, resource: resource}
}

// List returns the resource's entities, most recently updated first.
func (r *PGRemote[T]) List(ctx context.Context) ([]T, error) {
	const query = `SELECT data FROM crm_records
		WHERE resource = $1
		ORDER BY updated_at DESC, id`
	rows, err := r.db.Query(ctx, query, r.resource)
	if err != nil {
		return nil, remoteError("list", r.resource, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		var data []byte
		if err := row.Scan(&data); err != nil {
			var zero T
			return zero, err
		}
		return decode[T](data)
	})
	if err != nil {
		return nil, remoteError("list", r.resource, err)
	}
	return items, nil
}

// Create stores item under a fresh id and returns the stored entity.
func (r *PGRemote[T]) Create(ctx context.Context, item T) (T, error) {
	item = item.WithKey(uuid.NewString())
	data, err := json.Marshal(item)
	if err != nil {
		var zero T
		return zero, remoteError("create", r.resource, err)
	}
	const query = `INSERT INTO crm_records (id, resource, data, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING data`
	return r.scanOne(ctx, "create", query, item.Key(), r.resource, data)
}

// Update replaces the stored entity with the same id.
func (r *PGRemote[T]) Update(ctx context.Context, item T) (T, error) {
	if _, err := uuid.Parse(item.Key()); err != nil {
		var zero T
		return zero, remoteError("update", r.resource, fmt.Errorf("%w: %s", ErrNotFound, item.Key()))
	}
	data, err := json.Marshal(item)
	if err != nil {
		var zero T
		return zero, remoteError("update", r.resource, err)
	}
	const query = `UPDATE crm_records SET data = $3, updated_at = NOW()
		WHERE id = $1 AND resource = $2
		RETURNING data`
	return r.scanOne(ctx, "update", query, item.Key(), r.resource, data)
}

// Delete removes the entity stored under id.
func (r *PGRemote[T]) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return remoteError("delete", r.resource, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM crm_records WHERE id = $1 AND resource = $2`, id, r.resource)
	if err != nil {
		return remoteError("delete", r.resource, err)
	}
	if tag.RowsAffected() == 0 {
		return remoteError("delete", r.resource, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	return nil
}

func (r *PGRemote[T]) scanOne(ctx context.Context, op, query string, args ...any) (T, error) {
	var zero T
	var data []byte
	if err := r.db.QueryRow(ctx, query, args...).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = fmt.Errorf("%w: %v", ErrNotFound, args[0])
		}
		return zero, remoteError(op, r.resource, err)
	}
	item, err := decode[T](data)
	if err != nil {
		return zero, remoteError(op, r.resource, err)
	}
	return item, nil
}

func decode[T any](data []byte) (T, error) {
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return item, fmt.Errorf("decode: %w", err)
	}
	return item, nil
}

// Remotes bundles the remote store of every CRM resource.
type Remotes struct {
	Leads     Remote[Lead]
	Customers Remote[Customer]
	Jobs      Remote[Job]
	Estimates Remote[Estimate]
	Invoices  Remote[Invoice]
	Tasks     Remote[Task]
}

// NewPGRemotes wires a PGRemote per resource on db.
func NewPGRemotes(db Querier) Remotes {
	return Remotes{
		Leads:     NewPGRemote[Lead](db, rbac.ResourceLeads),
		Customers: NewPGRemote[Customer](db, rbac.ResourceCustomers),
		Jobs:      NewPGRemote[Job](db, rbac.ResourceJobs),
		Estimates: NewPGRemote[Estimate](db, rbac.ResourceEstimates),
		Invoices:  NewPGRemote[Invoice](db, rbac.ResourceInvoices),
		Tasks:     NewPGRemote[Task](db, rbac.ResourceTasks),
	}
}
