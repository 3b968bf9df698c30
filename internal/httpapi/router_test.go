package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
)

func TestHealthzReturnsOK(t *testing.T) {
	s := New(nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestDisabledFilesystemRoutesReturn501(t *testing.T) {
	s := New(nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/fs/list?path=/", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for an unconfigured facade, got %d", rec.Code)
	}
}

func TestDisabledTaskRoutesReturn501(t *testing.T) {
	s := New(nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/", strings.NewReader(`{"taskType":"copy","payload":{}}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for an unconfigured orchestrator, got %d", rec.Code)
	}
}

type fakeKeyStore struct {
	principal perm.Principal
	found     bool
}

func (f fakeKeyStore) PrincipalForToken(ctx context.Context, token string) (perm.Principal, bool) {
	return f.principal, f.found
}

func TestMissingCredentialResolvesToGuestPrincipal(t *testing.T) {
	s := New(nil, nil, nil, fakeKeyStore{found: false}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBearerTokenResolvesConfiguredPrincipal(t *testing.T) {
	s := New(nil, nil, nil, fakeKeyStore{principal: perm.NewAdminPrincipal("admin-1"), found: true}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
