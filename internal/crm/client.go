package crm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-crm/internal/audit"
	"github.com/odyssey-erp/odyssey-crm/internal/mutation"
	"github.com/odyssey-erp/odyssey-crm/internal/rbac"
)

// Backend holds the collaborators shared by every session.
type Backend struct {
	Authority       rbac.Authority
	BreakGlassEmail string
	Executor        *mutation.Executor
	Recorder        *audit.Recorder
	Remotes         Remotes
	// SessionIdle is how long Sessions keeps an unused client. Defaults to 30m.
	SessionIdle time.Duration
	Logger      *slog.Logger
	// Now is the clock Sessions uses for idle eviction.
	Now func() time.Time
}

// Client is the per-session bundle of a gate and one hook per entity type.
type Client struct {
	gate      *rbac.Gate
	Leads     *Hook[Lead]
	Customers *Hook[Customer]
	Jobs      *Hook[Job]
	Estimates *Hook[Estimate]
	Invoices  *Hook[Invoice]
	Tasks     *Hook[Task]
}

// NewClient builds a signed-out client with its own permission cache.
func NewClient(b Backend) (*Client, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var lookupTimeout time.Duration
	if b.Executor != nil {
		lookupTimeout = b.Executor.Timeout()
	}
	gate := rbac.NewGate(rbac.GateConfig{
		Authority:       b.Authority,
		BreakGlassEmail: b.BreakGlassEmail,
		LookupTimeout:   lookupTimeout,
		Logger:          logger,
	})
	validate := NewValidator()
	c := &Client{gate: gate}
	var err error
	if c.Leads, err = newHook(b, gate, validate, logger, rbac.ResourceLeads, "Lead", b.Remotes.Leads); err != nil {
		return nil, err
	}
	if c.Customers, err = newHook(b, gate, validate, logger, rbac.ResourceCustomers, "Customer", b.Remotes.Customers); err != nil {
		return nil, err
	}
	if c.Jobs, err = newHook(b, gate, validate, logger, rbac.ResourceJobs, "Job", b.Remotes.Jobs); err != nil {
		return nil, err
	}
	if c.Estimates, err = newHook(b, gate, validate, logger, rbac.ResourceEstimates, "Estimate", b.Remotes.Estimates); err != nil {
		return nil, err
	}
	if c.Invoices, err = newHook(b, gate, validate, logger, rbac.ResourceInvoices, "Invoice", b.Remotes.Invoices); err != nil {
		return nil, err
	}
	if c.Tasks, err = newHook(b, gate, validate, logger, rbac.ResourceTasks, "Task", b.Remotes.Tasks); err != nil {
		return nil, err
	}
	return c, nil
}

func newHook[T Entity[T]](b Backend, gate *rbac.Gate, validate *validator.Validate, logger *slog.Logger, resource, label string, remote Remote[T]) (*Hook[T], error) {
	h, err := NewHook(HookConfig[T]{
		Resource: resource,
		Label:    label,
		Gate:     gate,
		Executor: b.Executor,
		Recorder: b.Recorder,
		Remote:   remote,
		Validate: validate,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("crm: client: %w", err)
	}
	return h, nil
}

// Gate returns the session's policy gate.
func (c *Client) Gate() *rbac.Gate {
	return c.gate
}

// Principal returns the signed-in principal.
func (c *Client) Principal() rbac.Principal {
	return c.gate.Principal()
}

// SignIn replaces the principal. Cached permissions and every collection of
// the previous principal are dropped.
func (c *Client) SignIn(p rbac.Principal) {
	c.gate.SignIn(p)
	c.clear()
}

// SignOut drops the principal, its cached permissions and all collections.
func (c *Client) SignOut() {
	c.gate.SignOut()
	c.clear()
}

// Refresh applies a re-fetched principal. It reports whether the role or
// identity changed, in which case cached permissions were dropped.
func (c *Client) Refresh(p rbac.Principal) bool {
	return c.gate.Refresh(p)
}

func (c *Client) clear() {
	c.Leads.Clear()
	c.Customers.Clear()
	c.Jobs.Clear()
	c.Estimates.Clear()
	c.Invoices.Clear()
	c.Tasks.Clear()
}
