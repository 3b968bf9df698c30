package perm

import "testing"

func TestPathScopeSatisfiedOperationMode(t *testing.T) {
	if !PathScopeSatisfied("/team", "/team", PathModeOperation) {
		t.Fatalf("equal path must satisfy operation mode")
	}
	if !PathScopeSatisfied("/team", "/team/docs", PathModeOperation) {
		t.Fatalf("descendant must satisfy operation mode")
	}
	if PathScopeSatisfied("/team", "/other", PathModeOperation) {
		t.Fatalf("unrelated path must not satisfy operation mode")
	}
	if PathScopeSatisfied("/team", "/", PathModeOperation) {
		t.Fatalf("ancestor must not satisfy operation mode")
	}
}

func TestPathScopeSatisfiedNavigationMode(t *testing.T) {
	if !PathScopeSatisfied("/team", "/", PathModeNavigation) {
		t.Fatalf("ancestor must satisfy navigation mode")
	}
	if !PathScopeSatisfied("/team", "/team/docs", PathModeNavigation) {
		t.Fatalf("descendant must satisfy navigation mode")
	}
	if PathScopeSatisfied("/team", "/other", PathModeNavigation) {
		t.Fatalf("unrelated path must not satisfy navigation mode")
	}
}

func TestAuthorizeScenario(t *testing.T) {
	table := NewTable()
	p := NewAPIKeyPrincipal("key1", MountView|MountUpload, "/team", "GENERAL")

	// Upload under /team/docs -> allow.
	d := Authorize(p, table["fs.upload"], []string{"/team/docs"})
	if !d.Allowed {
		t.Fatalf("expected allow, got reason %s", d.Reason)
	}

	// Upload under /other -> 403 path_scope.
	d = Authorize(p, table["fs.upload"], []string{"/other"})
	if d.Allowed || d.Reason != ReasonPathScope {
		t.Fatalf("expected path_scope denial, got %+v", d)
	}

	// Listing /team in navigation mode -> allow.
	d = Authorize(p, table["fs.read"], []string{"/team"})
	if !d.Allowed {
		t.Fatalf("expected allow for own scope navigation, got %+v", d)
	}

	// Listing / in operation-mode policy -> deny.
	opPolicy := &Policy{ID: "fs.read.op", Permissions: []Permission{MountView}, Mode: ModeAll, PathCheck: true, PathMode: PathModeOperation, RequireAuth: true}
	d = Authorize(p, opPolicy, []string{"/"})
	if d.Allowed {
		t.Fatalf("expected deny for ancestor in operation mode")
	}

	// Listing / in navigation mode -> allow (ancestor of basicPath).
	d = Authorize(p, table["fs.read"], []string{"/"})
	if !d.Allowed {
		t.Fatalf("expected allow for ancestor in navigation mode, got %+v", d)
	}
}

func TestAuthorizeUnauthenticated(t *testing.T) {
	table := NewTable()
	guest := NewGuestPrincipal()
	d := Authorize(guest, table["fs.upload"], []string{"/team"})
	if d.Allowed || d.Reason != ReasonUnauthenticated {
		t.Fatalf("expected unauthenticated denial, got %+v", d)
	}
}

func TestAuthorizeAdminBypass(t *testing.T) {
	table := NewTable()
	admin := NewAdminPrincipal("root")
	d := Authorize(admin, table["admin.all"], nil)
	if !d.Allowed {
		t.Fatalf("admin bypass must allow")
	}
}

func TestAuthorizeCustomCheck(t *testing.T) {
	policy := &Policy{
		ID:          "custom.example",
		RequireAuth: true,
		Custom: func(p Principal, paths []string) bool {
			return p.ID == "allowed-id"
		},
		Message: "custom failed",
	}
	ok := NewAPIKeyPrincipal("allowed-id", MountView, "/", "GENERAL")
	bad := NewAPIKeyPrincipal("other-id", MountView, "/", "GENERAL")

	if d := Authorize(ok, policy, nil); !d.Allowed {
		t.Fatalf("expected custom check to pass")
	}
	if d := Authorize(bad, policy, nil); d.Allowed || d.Reason != ReasonCustomCheck {
		t.Fatalf("expected custom_check denial, got %+v", d)
	}
}
