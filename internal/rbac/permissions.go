package rbac

// CRM resources.
const (
	ResourceLeads     = "leads"
	ResourceCustomers = "customers"
	ResourceJobs      = "jobs"
	ResourceEstimates = "estimates"
	ResourceInvoices  = "invoices"
	ResourceTasks     = "tasks"
	ResourceAudit     = "audit"
)

// Actions used by the entity hooks.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionExport = "export"
)

// Lead permissions.
const (
	PermLeadsRead   Permission = "leads:read"
	PermLeadsWrite  Permission = "leads:write"
	PermLeadsUpdate Permission = "leads:update"
	PermLeadsDelete Permission = "leads:delete"
)

// Customer permissions.
const (
	PermCustomersRead   Permission = "customers:read"
	PermCustomersWrite  Permission = "customers:write"
	PermCustomersUpdate Permission = "customers:update"
	PermCustomersDelete Permission = "customers:delete"
)

// Job permissions.
const (
	PermJobsRead   Permission = "jobs:read"
	PermJobsWrite  Permission = "jobs:write"
	PermJobsUpdate Permission = "jobs:update"
	PermJobsDelete Permission = "jobs:delete"
)

// Estimate permissions.
const (
	PermEstimatesRead   Permission = "estimates:read"
	PermEstimatesWrite  Permission = "estimates:write"
	PermEstimatesUpdate Permission = "estimates:update"
	PermEstimatesDelete Permission = "estimates:delete"
)

// Invoice permissions.
const (
	PermInvoicesRead   Permission = "invoices:read"
	PermInvoicesWrite  Permission = "invoices:write"
	PermInvoicesUpdate Permission = "invoices:update"
	PermInvoicesDelete Permission = "invoices:delete"
)

// Task permissions.
const (
	PermTasksRead   Permission = "tasks:read"
	PermTasksWrite  Permission = "tasks:write"
	PermTasksUpdate Permission = "tasks:update"
	PermTasksDelete Permission = "tasks:delete"
)

// Audit permissions.
const (
	PermAuditRead   Permission = "audit:read"
	PermAuditExport Permission = "audit:export"
)

// Permissions groups the CRUD keys of one resource.
type Permissions struct {
	Read   Permission
	Write  Permission
	Update Permission
	Delete Permission
}

var resourcePermissions = map[string]Permissions{
	ResourceLeads:     {PermLeadsRead, PermLeadsWrite, PermLeadsUpdate, PermLeadsDelete},
	ResourceCustomers: {PermCustomersRead, PermCustomersWrite, PermCustomersUpdate, PermCustomersDelete},
	ResourceJobs:      {PermJobsRead, PermJobsWrite, PermJobsUpdate, PermJobsDelete},
	ResourceEstimates: {PermEstimatesRead, PermEstimatesWrite, PermEstimatesUpdate, PermEstimatesDelete},
	ResourceInvoices:  {PermInvoicesRead, PermInvoicesWrite, PermInvoicesUpdate, PermInvoicesDelete},
	ResourceTasks:     {PermTasksRead, PermTasksWrite, PermTasksUpdate, PermTasksDelete},
}

// PermissionsFor returns the CRUD permission keys of a CRM resource.
func PermissionsFor(resource string) (Permissions, bool) {
	perms, ok := resourcePermissions[resource]
	return perms, ok
}

// CRMScopes lists every permission known to the CRM.
func CRMScopes() []Permission {
	resources := []string{ResourceLeads, ResourceCustomers, ResourceJobs, ResourceEstimates, ResourceInvoices, ResourceTasks}
	scopes := make([]Permission, 0, len(resources)*4+2)
	for _, res := range resources {
		p := resourcePermissions[res]
		scopes = append(scopes, p.Read, p.Write, p.Update, p.Delete)
	}
	return append(scopes, PermAuditRead, PermAuditExport)
}
