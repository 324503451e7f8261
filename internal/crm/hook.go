package crm

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-crm/internal/audit"
	"github.com/odyssey-erp/odyssey-crm/internal/mutation"
	"github.com/odyssey-erp/odyssey-crm/internal/rbac"
)

// HookConfig collects dependencies required to build a Hook.
type HookConfig[T Entity[T]] struct {
	Resource string
	// Label is the singular display name used in messages, e.g. "Lead".
	Label    string
	Gate     *rbac.Gate
	Executor *mutation.Executor
	Recorder *audit.Recorder
	Remote   Remote[T]
	Validate *validator.Validate
	Logger   *slog.Logger
}

// Hook owns the collection of one entity type and exposes its gated,
// optimistic, audited operations.
type Hook[T Entity[T]] struct {
	resource string
	label    string
	perms    rbac.Permissions
	gate     *rbac.Gate
	exec     *mutation.Executor
	recorder *audit.Recorder
	remote   Remote[T]
	validate *validator.Validate
	logger   *slog.Logger
	items    *Collection[T]
}

// NewHook constructs a hook for a known CRM resource.
func NewHook[T Entity[T]](cfg HookConfig[T]) (*Hook[T], error) {
	perms, ok := rbac.PermissionsFor(cfg.Resource)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, cfg.Resource)
	}
	if cfg.Gate == nil || cfg.Executor == nil || cfg.Remote == nil {
		return nil, fmt.Errorf("crm: hook %s: gate, executor and remote are required", cfg.Resource)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validate := cfg.Validate
	if validate == nil {
		validate = NewValidator()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = audit.NewRecorder(audit.RecorderConfig{Logger: logger})
	}
	label := cfg.Label
	if label == "" {
		label = cfg.Resource
	}
	return &Hook[T]{
		resource: cfg.Resource,
		label:    label,
		perms:    perms,
		gate:     cfg.Gate,
		exec:     cfg.Executor,
		recorder: recorder.WithPrincipal(cfg.Gate),
		remote:   cfg.Remote,
		validate: validate,
		logger:   logger,
		items:    NewCollection[T](),
	}, nil
}

// Resource returns the resource name the hook serves.
func (h *Hook[T]) Resource() string {
	return h.resource
}

// Items returns the locally held entities, newest first.
func (h *Hook[T]) Items() []T {
	return h.items.Items()
}

// Get returns the locally held entity with id.
func (h *Hook[T]) Get(id string) (T, bool) {
	return h.items.Get(id)
}

// Clear forgets every locally held entity.
func (h *Hook[T]) Clear() {
	h.items.Reset(nil)
}

// Load replaces the local collection with the remote one.
func (h *Hook[T]) Load(ctx context.Context) ([]T, error) {
	return rbac.EnforcePolicy(ctx, h.gate, h.perms.Read, func(ctx context.Context) ([]T, error) {
		loadCtx, cancel := context.WithTimeout(ctx, h.exec.Timeout())
		defer cancel()
		items, err := h.remote.List(loadCtx)
		if err != nil {
			return nil, err
		}
		h.items.Reset(items)
		return h.items.Items(), nil
	})
}

// Create shows item under a temporary id, stores it remotely and swaps in
// the stored entity. The temporary entry is dropped when the store rejects it.
func (h *Hook[T]) Create(ctx context.Context, item T) (T, error) {
	return rbac.EnforcePolicy(ctx, h.gate, h.perms.Write, func(ctx context.Context) (T, error) {
		if err := h.check(item); err != nil {
			var zero T
			return zero, err
		}
		tempID := mutation.NewTempID()
		cp := h.items.Checkpoint(tempID)
		created, err := mutation.Execute(ctx, h.exec,
			func() error {
				h.items.Upsert(item.WithKey(tempID))
				return nil
			},
			func(ctx context.Context) (T, error) {
				stored, err := h.remote.Create(ctx, item.WithKey(""))
				if err != nil {
					return stored, err
				}
				h.items.Reconcile(tempID, stored)
				return stored, nil
			},
			func() { h.items.Revert(cp) },
			mutation.Options[T]{
				Entity:         h.resource,
				TempID:         tempID,
				PrincipalID:    h.gate.PrincipalID(),
				SuccessMessage: h.label + " created",
				ErrorMessage:   "Failed to create " + strings.ToLower(h.label),
			})
		if err != nil {
			return created, err
		}
		h.record(ctx, created.Key(), audit.ActionCreated, nil, &created)
		return created, nil
	})
}

// Update shows the new value immediately and restores the prior value and
// position when the store rejects it. Only locally held entities can be
// updated.
func (h *Hook[T]) Update(ctx context.Context, item T) (T, error) {
	return rbac.EnforcePolicy(ctx, h.gate, h.perms.Update, func(ctx context.Context) (T, error) {
		var zero T
		if err := h.check(item); err != nil {
			return zero, err
		}
		id := item.Key()
		cp := h.items.Checkpoint(id)
		updated, err := mutation.Execute(ctx, h.exec,
			func() error {
				if !cp.Present() {
					return fmt.Errorf("%w: %s %s", ErrNotFound, h.resource, id)
				}
				h.items.Upsert(item)
				return nil
			},
			func(ctx context.Context) (T, error) {
				stored, err := h.remote.Update(ctx, item)
				if err != nil {
					return stored, err
				}
				h.items.Reconcile(id, stored)
				return stored, nil
			},
			func() { h.items.Revert(cp) },
			mutation.Options[T]{
				Entity:         h.resource,
				TempID:         id,
				PrincipalID:    h.gate.PrincipalID(),
				SuccessMessage: h.label + " updated",
				ErrorMessage:   "Failed to update " + strings.ToLower(h.label),
			})
		if err != nil {
			return zero, err
		}
		before := cp.Item()
		h.record(ctx, id, audit.ActionUpdated, &before, &updated)
		return updated, nil
	})
}

// Delete hides the entity immediately and restores it at its prior position
// when the store rejects the deletion.
func (h *Hook[T]) Delete(ctx context.Context, id string) error {
	_, err := rbac.EnforcePolicy(ctx, h.gate, h.perms.Delete, func(ctx context.Context) (struct{}, error) {
		cp := h.items.Checkpoint(id)
		_, err := mutation.Execute(ctx, h.exec,
			func() error {
				if !cp.Present() {
					return fmt.Errorf("%w: %s %s", ErrNotFound, h.resource, id)
				}
				h.items.Remove(id)
				return nil
			},
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, h.remote.Delete(ctx, id)
			},
			func() { h.items.Revert(cp) },
			mutation.Options[struct{}]{
				Entity:         h.resource,
				TempID:         id,
				PrincipalID:    h.gate.PrincipalID(),
				SuccessMessage: h.label + " deleted",
				ErrorMessage:   "Failed to delete " + strings.ToLower(h.label),
			})
		if err != nil {
			return struct{}{}, err
		}
		before := cp.Item()
		h.record(ctx, id, audit.ActionDeleted, &before, nil)
		return struct{}{}, nil
	})
	return err
}

func (h *Hook[T]) check(item T) error {
	if err := h.validate.Struct(item); err != nil {
		return validationError(err)
	}
	return nil
}

func (h *Hook[T]) record(ctx context.Context, id string, action audit.Action, before, after *T) {
	beforeSnap := h.snapshot(before)
	afterSnap := h.snapshot(after)
	h.recorder.Record(ctx, h.resource, id, action, beforeSnap, afterSnap, fmt.Sprintf("%s %s %s", h.label, id, action))
}

func (h *Hook[T]) snapshot(v *T) audit.Snapshot {
	if v == nil {
		return nil
	}
	snap, err := audit.SnapshotOf(*v)
	if err != nil {
		h.logger.Warn("audit snapshot", slog.String("resource", h.resource), slog.Any("error", err))
	}
	return snap
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}
