package rbac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool used by the Postgres adapters.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory resolves principals and their roles.
type Directory interface {
	PrincipalByID(ctx context.Context, id string) (Principal, error)
	PrincipalByToken(ctx context.Context, token string) (Principal, error)
}

// PGAuthority resolves permissions and principals from Postgres.
type PGAuthority struct {
	db Querier
}

// NewPGAuthority constructs a PGAuthority backed by the provided pool.
func NewPGAuthority(db Querier) *PGAuthority {
	return &PGAuthority{db: db}
}

// HasPermission reports whether the principal's role grants perm.
func (a *PGAuthority) HasPermission(ctx context.Context, principalID string, perm Permission) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM principals p
		JOIN role_permissions rp ON rp.role_id = p.role_id
		WHERE p.id = $1 AND rp.permission = $2
	)`
	var granted bool
	if err := a.db.QueryRow(ctx, query, principalID, strings.ToLower(string(perm))).Scan(&granted); err != nil {
		return false, err
	}
	return granted, nil
}

// PrincipalByID loads a principal with its role and permissions.
func (a *PGAuthority) PrincipalByID(ctx context.Context, id string) (Principal, error) {
	const query = `SELECT p.id, p.email, r.id, r.name
		FROM principals p JOIN roles r ON r.id = p.role_id
		WHERE p.id = $1`
	return a.loadPrincipal(ctx, query, id)
}

// PrincipalByToken resolves the principal owning an API token. Tokens are
// stored as hex encoded SHA-256 digests.
func (a *PGAuthority) PrincipalByToken(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrNotFound
	}
	const query = `SELECT p.id, p.email, r.id, r.name
		FROM api_tokens t
		JOIN principals p ON p.id = t.principal_id
		JOIN roles r ON r.id = p.role_id
		WHERE t.token_digest = $1 AND (t.expires_at IS NULL OR t.expires_at > NOW())`
	return a.loadPrincipal(ctx, query, TokenDigest(token))
}

func (a *PGAuthority) loadPrincipal(ctx context.Context, query string, arg string) (Principal, error) {
	var (
		p      Principal
		roleID int64
	)
	if err := a.db.QueryRow(ctx, query, arg).Scan(&p.ID, &p.Email, &roleID, &p.Role.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, err
	}
	perms, err := a.rolePermissions(ctx, roleID)
	if err != nil {
		return Principal{}, err
	}
	p.Role.Permissions = perms
	return p, nil
}

func (a *PGAuthority) rolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := a.db.Query(ctx, `SELECT permission FROM role_permissions WHERE role_id = $1 ORDER BY permission`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, Permission(name))
	}
	return perms, rows.Err()
}

// TokenDigest hashes an API token for lookup.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
