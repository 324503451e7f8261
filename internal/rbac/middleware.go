package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-crm/internal/platform/httpx"
)

type gateContextKey struct{}

// ContextWithGate stores the session gate in context.
func ContextWithGate(ctx context.Context, g *Gate) context.Context {
	return context.WithValue(ctx, gateContextKey{}, g)
}

// GateFromContext extracts the session gate from context.
func GateFromContext(ctx context.Context) *Gate {
	g, _ := ctx.Value(gateContextKey{}).(*Gate)
	return g
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the current principal has at least one of the required
// permissions. A denial reports the first permission.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			gate := GateFromContext(r.Context())
			if gate == nil {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			var firstErr error
			for _, perm := range normalized {
				err := gate.EnforcePermission(r.Context(), perm)
				if err == nil {
					next.ServeHTTP(w, r)
					return
				}
				if firstErr == nil {
					firstErr = err
				}
			}
			m.deny(w, firstErr)
		})
	}
}

// RequireAll ensures the current principal has all required permissions.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gate := GateFromContext(r.Context())
			if gate == nil {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			for _, perm := range normalized {
				if err := gate.EnforcePermission(r.Context(), perm); err != nil {
					m.deny(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, err error) {
	var denied *PermissionDeniedError
	if errors.As(err, &denied) {
		if denied.Cause != nil && m.Logger != nil {
			m.Logger.Error("rbac lookup failed", slog.String("permission", denied.Permission.String()), slog.Any("error", denied.Cause))
		}
		httpx.Problem(w, http.StatusForbidden, "Forbidden", denied.Message())
		return
	}
	httpx.RespondError(w, httpx.ErrForbidden)
}

func normalizePermissions(perms []Permission) []Permission {
	unique := make(map[Permission]struct{}, len(perms))
	normalized := make([]Permission, 0, len(perms))
	for _, p := range perms {
		p = Permission(strings.TrimSpace(strings.ToLower(string(p))))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
