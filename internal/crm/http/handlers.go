// Package crmhttp exposes the CRM entity hooks over JSON REST.
package crmhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-crm/internal/crm"
	"github.com/odyssey-erp/odyssey-crm/internal/mutation"
	"github.com/odyssey-erp/odyssey-crm/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-crm/internal/rbac"
)

// Handler serves the CRM resources of the caller's session.
type Handler struct {
	logger    *slog.Logger
	directory rbac.Directory
	sessions  *crm.Sessions
}

// NewHandler membuat handler CRM baru.
func NewHandler(logger *slog.Logger, directory rbac.Directory, sessions *crm.Sessions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, directory: directory, sessions: sessions}
}

// Authenticate resolves the bearer token to a principal and attaches the
// principal's session client and gate to the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		principal, err := h.directory.PrincipalByToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			h.logger.Error("resolve principal", slog.Any("error", err))
			httpx.RespondError(w, httpx.ErrUpstream)
			return
		}
		client, err := h.sessions.Resolve(principal)
		if err != nil {
			h.logger.Error("resolve session", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(crm.ContextWithClient(r.Context(), client)))
	})
}

// MountRoutes registers the session and resource routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.handleSession)
	r.Delete("/session", h.handleSignOut)
	mountResource(r, h, rbac.ResourceLeads, func(c *crm.Client) *crm.Hook[crm.Lead] { return c.Leads })
	mountResource(r, h, rbac.ResourceCustomers, func(c *crm.Client) *crm.Hook[crm.Customer] { return c.Customers })
	mountResource(r, h, rbac.ResourceJobs, func(c *crm.Client) *crm.Hook[crm.Job] { return c.Jobs })
	mountResource(r, h, rbac.ResourceEstimates, func(c *crm.Client) *crm.Hook[crm.Estimate] { return c.Estimates })
	mountResource(r, h, rbac.ResourceInvoices, func(c *crm.Client) *crm.Hook[crm.Invoice] { return c.Invoices })
	mountResource(r, h, rbac.ResourceTasks, func(c *crm.Client) *crm.Hook[crm.Task] { return c.Tasks })
}

type sessionView struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Role        string            `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	client := crm.ClientFromContext(r.Context())
	if client == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	p := client.Principal()
	view := sessionView{ID: p.ID, Email: p.Email, Role: p.Role.Name, Permissions: []rbac.Permission{}}
	for _, perm := range rbac.CRMScopes() {
		if client.Gate().Can(r.Context(), perm) {
			view.Permissions = append(view.Permissions, perm)
		}
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	client := crm.ClientFromContext(r.Context())
	if client == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	h.sessions.Drop(client.Principal().ID)
	w.WriteHeader(http.StatusNoContent)
}

type resourceHandler[T crm.Entity[T]] struct {
	*Handler
	pick func(*crm.Client) *crm.Hook[T]
}

func mountResource[T crm.Entity[T]](r chi.Router, h *Handler, resource string, pick func(*crm.Client) *crm.Hook[T]) {
	rh := resourceHandler[T]{Handler: h, pick: pick}
	r.Route("/"+resource, func(r chi.Router) {
		r.Get("/", rh.list)
		r.Post("/", rh.create)
		r.Patch("/{id}", rh.update)
		r.Delete("/{id}", rh.remove)
	})
}

func (rh resourceHandler[T]) hook(w http.ResponseWriter, r *http.Request) (*crm.Hook[T], bool) {
	client := crm.ClientFromContext(r.Context())
	if client == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return nil, false
	}
	return rh.pick(client), true
}

func (rh resourceHandler[T]) list(w http.ResponseWriter, r *http.Request) {
	hook, ok := rh.hook(w, r)
	if !ok {
		return
	}
	items, err := hook.Load(r.Context())
	if err != nil {
		rh.respondError(w, hook.Resource(), err)
		return
	}
	if items == nil {
		items = []T{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rh resourceHandler[T]) create(w http.ResponseWriter, r *http.Request) {
	hook, ok := rh.hook(w, r)
	if !ok {
		return
	}
	var item T
	if err := httpx.DecodeJSON(r, &item); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	created, err := hook.Create(r.Context(), item)
	if err != nil {
		rh.respondError(w, hook.Resource(), err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (rh resourceHandler[T]) update(w http.ResponseWriter, r *http.Request) {
	hook, ok := rh.hook(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var item T
	if err := httpx.DecodeJSON(r, &item); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := ensureLoaded(r.Context(), hook, id); err != nil {
		rh.respondError(w, hook.Resource(), err)
		return
	}
	updated, err := hook.Update(r.Context(), item.WithKey(id))
	if err != nil {
		rh.respondError(w, hook.Resource(), err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (rh resourceHandler[T]) remove(w http.ResponseWriter, r *http.Request) {
	hook, ok := rh.hook(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := ensureLoaded(r.Context(), hook, id); err != nil {
		rh.respondError(w, hook.Resource(), err)
		return
	}
	if err := hook.Delete(r.Context(), id); err != nil {
		rh.respondError(w, hook.Resource(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ensureLoaded pulls the collection when id is not held locally, so that
// requests against a fresh session can still mutate.
func ensureLoaded[T crm.Entity[T]](ctx context.Context, hook *crm.Hook[T], id string) error {
	if _, ok := hook.Get(id); ok {
		return nil
	}
	_, err := hook.Load(ctx)
	return err
}

type validationProblem struct {
	httpx.ProblemDetail
	Fields map[string]string `json:"fields"`
}

func (h *Handler) respondError(w http.ResponseWriter, resource string, err error) {
	var denied *rbac.PermissionDeniedError
	var invalid *crm.ValidationError
	switch {
	case errors.As(err, &denied):
		if denied.Cause != nil && !errors.Is(denied.Cause, rbac.ErrNoPrincipal) {
			h.logger.Warn("crm authorize", slog.String("resource", resource), slog.Any("error", denied.Cause))
		}
		httpx.Problem(w, http.StatusForbidden, "Forbidden", denied.Message())
	case errors.As(err, &invalid):
		httpx.JSON(w, http.StatusUnprocessableEntity, validationProblem{
			ProblemDetail: httpx.ProblemDetail{
				Title:  "Validation Failed",
				Status: http.StatusUnprocessableEntity,
				Detail: invalid.Error(),
			},
			Fields: invalid.Fields,
		})
	case errors.Is(err, crm.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, crm.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, crm.ErrRemote), errors.Is(err, context.DeadlineExceeded):
		h.logger.Error("crm remote", slog.String("resource", resource), slog.Any("error", err))
		if mutation.IsRetryable(err) {
			httpx.RetryableProblem(w, http.StatusBadGateway, "Upstream Error", err.Error())
			return
		}
		httpx.Problem(w, http.StatusBadGateway, "Upstream Error", err.Error())
	default:
		h.logger.Error("crm request", slog.String("resource", resource), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
