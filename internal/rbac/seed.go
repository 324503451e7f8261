package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-crm/internal/platform/db"
)

// DefaultRoles returns the role bundles provisioned on a fresh install.
func DefaultRoles() []Role {
	var all, reads, sales []Permission
	for _, res := range []string{ResourceLeads, ResourceCustomers, ResourceJobs, ResourceEstimates, ResourceInvoices, ResourceTasks} {
		p, _ := PermissionsFor(res)
		all = append(all, p.Read, p.Write, p.Update, p.Delete)
		reads = append(reads, p.Read)
		switch res {
		case ResourceLeads, ResourceCustomers, ResourceTasks:
			sales = append(sales, p.Read, p.Write, p.Update, p.Delete)
		case ResourceJobs, ResourceEstimates:
			sales = append(sales, p.Read, p.Write, p.Update)
		default:
			sales = append(sales, p.Read)
		}
	}
	all = append(all, PermAuditRead, PermAuditExport)
	return []Role{
		{Name: "admin", Permissions: all},
		{Name: "sales", Permissions: sales},
		{Name: "viewer", Permissions: append(reads, PermAuditRead)},
	}
}

// SeedRoles upserts roles and replaces their permission sets in a single
// transaction.
func SeedRoles(ctx context.Context, conn db.TxBeginner, roles []Role) error {
	return db.WithTx(ctx, conn, func(tx pgx.Tx) error {
		for _, role := range roles {
			var roleID int64
			err := tx.QueryRow(ctx, `INSERT INTO roles (name) VALUES ($1)
				ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
				RETURNING id`, role.Name).Scan(&roleID)
			if err != nil {
				return fmt.Errorf("rbac: seed role %s: %w", role.Name, err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
				return fmt.Errorf("rbac: reset permissions %s: %w", role.Name, err)
			}
			for _, perm := range role.Permissions {
				if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2)`, roleID, string(perm)); err != nil {
					return fmt.Errorf("rbac: grant %s to %s: %w", perm, role.Name, err)
				}
			}
		}
		return nil
	})
}
