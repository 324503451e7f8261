package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Authority answers permission questions the cache cannot.
type Authority interface {
	HasPermission(ctx context.Context, principalID string, perm Permission) (bool, error)
}

// GateConfig collects the dependencies of a Gate.
type GateConfig struct {
	Authority Authority
	Cache     *PermissionCache
	// BreakGlassEmail names the principal that bypasses every check.
	BreakGlassEmail string
	// LookupTimeout bounds a shared authority lookup. Defaults to 10s.
	LookupTimeout time.Duration
	Logger        *slog.Logger
}

const defaultLookupTimeout = 10 * time.Second

// Gate is the single choke point every gated operation passes through. It
// owns the session principal so that the principal swap and the cache
// invalidation happen in the same transition.
type Gate struct {
	authority  Authority
	cache      *PermissionCache
	breakGlass string
	timeout    time.Duration
	logger     *slog.Logger
	lookups    singleflight.Group

	mu        sync.RWMutex
	principal Principal
}

// NewGate builds a Gate. A nil cache is replaced by a fresh one.
func NewGate(cfg GateConfig) *Gate {
	cache := cfg.Cache
	if cache == nil {
		cache = NewPermissionCache()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Gate{
		authority:  cfg.Authority,
		cache:      cache,
		breakGlass: normalizeEmail(cfg.BreakGlassEmail),
		timeout:    timeout,
		logger:     logger,
	}
}

// SignIn replaces the principal and invalidates the cache.
func (g *Gate) SignIn(p Principal) {
	g.mu.Lock()
	g.principal = p
	g.cache.Reset(p.ID)
	g.mu.Unlock()
}

// SignOut clears the principal and invalidates the cache.
func (g *Gate) SignOut() {
	g.SignIn(Principal{})
}

// Refresh swaps in a refetched principal. The cache is only invalidated when
// the identity or the role changed.
func (g *Gate) Refresh(p Principal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if samePrincipal(g.principal, p) {
		return false
	}
	g.principal = p
	g.cache.Reset(p.ID)
	return true
}

// Principal returns the current principal.
func (g *Gate) Principal() Principal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.principal
}

// PrincipalID returns the id of the current principal.
func (g *Gate) PrincipalID() string {
	return g.Principal().ID
}

// Cache exposes the backing permission cache.
func (g *Gate) Cache() *PermissionCache {
	return g.cache
}

// IsBreakGlass reports whether p is the configured break-glass principal.
func (g *Gate) IsBreakGlass(p Principal) bool {
	if g.breakGlass == "" || p.IsZero() {
		return false
	}
	return normalizeEmail(p.Email) == g.breakGlass
}

// CheckPermission resolves perm for the current principal: break-glass
// bypass, then cache, then the authority. A failed lookup denies and returns
// an error wrapping ErrAuthorityUnavailable; an explicit refusal returns
// false with a nil error.
func (g *Gate) CheckPermission(ctx context.Context, perm Permission) (bool, error) {
	g.mu.RLock()
	principal := g.principal
	if g.IsBreakGlass(principal) {
		g.mu.RUnlock()
		return true, nil
	}
	if principal.IsZero() {
		g.mu.RUnlock()
		return false, ErrNoPrincipal
	}
	if allowed, ok := g.cache.Get(perm); ok {
		g.mu.RUnlock()
		return allowed, nil
	}
	generation := g.cache.Generation()
	g.mu.RUnlock()

	if g.authority == nil {
		return false, fmt.Errorf("%w: not configured", ErrAuthorityUnavailable)
	}
	// Callers of one generation share a lookup. The lookup outlives any single
	// caller's cancellation so the others are not denied with it.
	key := strconv.FormatUint(generation, 10) + "\x00" + principal.ID + "\x00" + string(perm)
	ch := g.lookups.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.authority.HasPermission(lookupCtx, principal.ID, perm)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, ctx.Err())
	}
	if res.Err != nil {
		g.logger.Warn("rbac permission lookup", slog.String("permission", perm.String()), slog.String("principal", principal.ID), slog.Any("error", res.Err))
		return false, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, res.Err)
	}
	allowed := res.Val.(bool)
	g.cache.setFor(generation, perm, allowed)
	return allowed, nil
}

// Can is CheckPermission without the error detail.
func (g *Gate) Can(ctx context.Context, perm Permission) bool {
	allowed, _ := g.CheckPermission(ctx, perm)
	return allowed
}

// EnforcePermission returns a *PermissionDeniedError unless perm is granted.
func (g *Gate) EnforcePermission(ctx context.Context, perm Permission) error {
	allowed, err := g.CheckPermission(ctx, perm)
	if err != nil {
		return &PermissionDeniedError{Permission: perm, Cause: err}
	}
	if !allowed {
		g.logger.Debug("rbac denied", slog.String("permission", perm.String()))
		return &PermissionDeniedError{Permission: perm}
	}
	return nil
}

// EnforcePolicy runs op only when perm is granted.
func EnforcePolicy[T any](ctx context.Context, g *Gate, perm Permission, op func(context.Context) (T, error)) (T, error) {
	if err := g.EnforcePermission(ctx, perm); err != nil {
		var zero T
		return zero, err
	}
	return op(ctx)
}

// HasRole reports whether the current principal holds the named role.
func (g *Gate) HasRole(name string) bool {
	return g.HasAnyRole(name)
}

// HasAnyRole reports whether the current principal holds one of the roles.
func (g *Gate) HasAnyRole(names ...string) bool {
	p := g.Principal()
	if g.IsBreakGlass(p) {
		return true
	}
	if p.IsZero() {
		return false
	}
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), p.Role.Name) {
			return true
		}
	}
	return false
}

// IsDenied reports whether err is a gate rejection.
func IsDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func samePrincipal(a, b Principal) bool {
	if a.ID != b.ID || normalizeEmail(a.Email) != normalizeEmail(b.Email) || a.Role.Name != b.Role.Name {
		return false
	}
	if len(a.Role.Permissions) != len(b.Role.Permissions) {
		return false
	}
	for _, p := range b.Role.Permissions {
		if !a.Role.Grants(p) {
			return false
		}
	}
	return true
}
