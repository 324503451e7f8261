package rbac

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveGuarded(guard func(http.Handler) http.Handler, gate *Gate) *httptest.ResponseRecorder {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if gate != nil {
		req = req.WithContext(ContextWithGate(req.Context(), gate))
	}
	rr := httptest.NewRecorder()
	guard(ok).ServeHTTP(rr, req)
	return rr
}

func TestRequireAnyPassesOnAnyGrant(t *testing.T) {
	auth := newStubAuthority()
	auth.grant(staff.ID, PermAuditExport, true)
	gate := newTestGate(auth)
	gate.SignIn(staff)

	rr := serveGuarded(Middleware{}.RequireAny(PermAuditRead, PermAuditExport), gate)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAnyReportsFirstPermission(t *testing.T) {
	gate := newTestGate(newStubAuthority())
	gate.SignIn(staff)

	rr := serveGuarded(Middleware{}.RequireAny(" AUDIT:READ ", PermAuditExport, PermAuditRead), gate)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "You don't have permission to read audit")
}

func TestRequireAllNeedsEveryGrant(t *testing.T) {
	auth := newStubAuthority()
	auth.grant(staff.ID, PermLeadsRead, true)
	gate := newTestGate(auth)
	gate.SignIn(staff)

	assert.Equal(t, http.StatusNoContent, serveGuarded(Middleware{}.RequireAll(PermLeadsRead), gate).Code)
	assert.Equal(t, http.StatusForbidden, serveGuarded(Middleware{}.RequireAll(PermLeadsRead, PermLeadsDelete), gate).Code)
}

func TestGuardsRequireGate(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, serveGuarded(Middleware{}.RequireAny(PermLeadsRead), nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serveGuarded(Middleware{}.RequireAll(PermLeadsRead), nil).Code)
}

func TestGuardFailsClosedOnAuthorityError(t *testing.T) {
	auth := newStubAuthority()
	auth.err = errors.New("db down")
	gate := newTestGate(auth)
	gate.SignIn(staff)

	assert.Equal(t, http.StatusForbidden, serveGuarded(Middleware{}.RequireAll(PermLeadsRead), gate).Code)
}
