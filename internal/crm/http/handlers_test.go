package crmhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-crm/internal/crm"
	"github.com/odyssey-erp/odyssey-crm/internal/mutation"
	"github.com/odyssey-erp/odyssey-crm/internal/rbac"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeDirectory struct {
	principals map[string]rbac.Principal
	err        error
}

func (d fakeDirectory) PrincipalByID(ctx context.Context, id string) (rbac.Principal, error) {
	for _, p := range d.principals {
		if p.ID == id {
			return p, nil
		}
	}
	return rbac.Principal{}, rbac.ErrNotFound
}

func (d fakeDirectory) PrincipalByToken(ctx context.Context, token string) (rbac.Principal, error) {
	if d.err != nil {
		return rbac.Principal{}, d.err
	}
	p, ok := d.principals[token]
	if !ok {
		return rbac.Principal{}, rbac.ErrNotFound
	}
	return p, nil
}

// roleAuthority grants whatever the principal's role bundles.
type roleAuthority struct {
	directory fakeDirectory
}

func (a roleAuthority) HasPermission(ctx context.Context, principalID string, perm rbac.Permission) (bool, error) {
	p, err := a.directory.PrincipalByID(ctx, principalID)
	if err != nil {
		return false, err
	}
	return p.Role.Grants(perm), nil
}

type sliceRemote[T crm.Entity[T]] struct {
	mu    sync.Mutex
	items []T
	seq   int
	err   error
}

func (s *sliceRemote[T]) List(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.items...), nil
}

func (s *sliceRemote[T]) Create(ctx context.Context, item T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		var zero T
		return zero, s.err
	}
	s.seq++
	item = item.WithKey(fmt.Sprintf("id-%d", s.seq))
	s.items = append(s.items, item)
	return item, nil
}

func (s *sliceRemote[T]) Update(ctx context.Context, item T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		var zero T
		return zero, s.err
	}
	for i := range s.items {
		if s.items[i].Key() == item.Key() {
			s.items[i] = item
		}
	}
	return item, nil
}

func (s *sliceRemote[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for i := range s.items {
		if s.items[i].Key() == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return nil
}

type fixture struct {
	router    http.Handler
	sessions  *crm.Sessions
	customers *sliceRemote[crm.Customer]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	directory := fakeDirectory{principals: map[string]rbac.Principal{
		"sales-token": {ID: "u-1", Email: "sales@odyssey.test", Role: rbac.Role{
			Name:        "sales",
			Permissions: []rbac.Permission{rbac.PermLeadsWrite, rbac.PermCustomersRead, rbac.PermCustomersUpdate},
		}},
		"viewer-token": {ID: "u-2", Email: "viewer@odyssey.test", Role: rbac.Role{Name: "viewer"}},
	}}
	customers := &sliceRemote[crm.Customer]{items: []crm.Customer{{ID: "c-1", Name: "Acme", Status: "active"}}}
	sessions := crm.NewSessions(crm.Backend{
		Authority: roleAuthority{directory: directory},
		Executor:  mutation.NewExecutor(mutation.Config{Logger: discard}),
		Logger:    discard,
		Remotes: crm.Remotes{
			Leads:     &sliceRemote[crm.Lead]{},
			Customers: customers,
			Jobs:      &sliceRemote[crm.Job]{},
			Estimates: &sliceRemote[crm.Estimate]{},
			Invoices:  &sliceRemote[crm.Invoice]{},
			Tasks:     &sliceRemote[crm.Task]{},
		},
	})
	handler := NewHandler(discard, directory, sessions)
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(handler.Authenticate)
		handler.MountRoutes(r)
	})
	return &fixture{router: r, sessions: sessions, customers: customers}
}

func (f *fixture) do(method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestAuthenticateRejectsMissingAndUnknownTokens(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/leads", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/leads", "nope", "").Code)
	assert.Zero(t, f.sessions.Len())
}

func TestAuthenticateDirectoryFailure(t *testing.T) {
	handler := NewHandler(discard, fakeDirectory{err: errors.New("db down")}, crm.NewSessions(crm.Backend{}))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	handler.Authenticate(http.NotFoundHandler()).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestCreateLead(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPost, "/api/leads", "sales-token", `{"name":"Ada Lovelace","email":"ada@example.com"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, "id-1", body["id"])
	assert.Equal(t, "Ada Lovelace", body["name"])
}

func TestListDeniedShowsPermissionMessage(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/api/leads", "sales-token", "")
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "You don't have permission to read leads", decodeBody(t, rr)["detail"])
}

func TestCreateValidationFailure(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPost, "/api/leads", "sales-token", `{"email":"broken"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	fields := decodeBody(t, rr)["fields"].(map[string]any)
	assert.Equal(t, "required", fields["name"])
	assert.Equal(t, "email", fields["email"])
}

func TestCreateRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPost, "/api/leads", "sales-token", `{"name":"Ada","favourite":"tea"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateCustomerLoadsThenUpdates(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPatch, "/api/customers/c-1", "sales-token", `{"name":"Acme Corp","status":"active"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Acme Corp", decodeBody(t, rr)["name"])
}

func TestUpdateCustomerRemoteFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.customers.err = &crm.RemoteError{Op: "update", Resource: "customers", Err: errors.New("503"), Transient: true}

	rr := f.do(http.MethodPatch, "/api/customers/c-1", "sales-token", `{"name":"Acme Corp"}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["retryable"])

	client, ok := f.sessions.Get("u-1")
	require.True(t, ok)
	got, _ := client.Customers.Get("c-1")
	assert.Equal(t, "Acme", got.Name)
}

func TestUpdateUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPatch, "/api/customers/c-404", "sales-token", `{"name":"Nobody"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionListsGrantedPermissions(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/api/session", "sales-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "sales", body["role"])
	assert.ElementsMatch(t, []any{"leads:write", "customers:read", "customers:update"}, body["permissions"])

	rr = f.do(http.MethodGet, "/api/session", "viewer-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody(t, rr)["permissions"])
}

func TestSignOutDropsSession(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/session", "sales-token", "").Code)
	require.Equal(t, 1, f.sessions.Len())

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/session", "sales-token", "").Code)
	assert.Zero(t, f.sessions.Len())
}
