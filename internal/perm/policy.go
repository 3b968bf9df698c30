package perm

import (
	"strings"
)

// Mode selects how a policy's permission list is combined.
type Mode string

const (
	ModeAny Mode = "any"
	ModeAll Mode = "all"
)

// PathMode selects how a target path is compared against a
// principal's basicPath scope.
type PathMode string

const (
	// PathModeOperation requires the target to equal basicPath or be
	// a strict descendant of it.
	PathModeOperation PathMode = "operation"
	// PathModeNavigation additionally allows ancestors of basicPath,
	// so a scoped principal can walk down to its own scope.
	PathModeNavigation PathMode = "navigation"
)

// CustomCheck is a named predicate evaluated after the structural
// checks pass. Registered per policy id, looked up by name so the
// Policy value itself stays comparable/serializable.
type CustomCheck func(Principal, []string) bool

// Policy is one named, reusable authorization rule.
type Policy struct {
	ID            string
	Permissions   []Permission
	Mode          Mode
	AdminBypass   bool
	PathCheck     bool
	PathMode      PathMode
	RequireAuth   bool
	Custom        CustomCheck
	Message       string
}

// Table is the set of policies known to the process, keyed by id.
type Table map[string]*Policy

// NewTable builds the table of policies named in spec §4.A.
func NewTable() Table {
	t := Table{}
	t["fs.read"] = &Policy{ID: "fs.read", Permissions: []Permission{MountView}, Mode: ModeAll, PathCheck: true, PathMode: PathModeNavigation, RequireAuth: true, Message: "mount view required"}
	t["fs.upload"] = &Policy{ID: "fs.upload", Permissions: []Permission{MountUpload}, Mode: ModeAll, PathCheck: true, PathMode: PathModeOperation, RequireAuth: true, Message: "mount upload required"}
	t["fs.copy"] = &Policy{ID: "fs.copy", Permissions: []Permission{MountCopy}, Mode: ModeAll, PathCheck: true, PathMode: PathModeOperation, RequireAuth: true, Message: "mount copy required"}
	t["fs.rename"] = &Policy{ID: "fs.rename", Permissions: []Permission{MountRename}, Mode: ModeAll, PathCheck: true, PathMode: PathModeOperation, RequireAuth: true, Message: "mount rename required"}
	t["fs.delete"] = &Policy{ID: "fs.delete", Permissions: []Permission{MountDelete}, Mode: ModeAll, PathCheck: true, PathMode: PathModeOperation, RequireAuth: true, Message: "mount delete required"}
	t["webdav.read"] = &Policy{ID: "webdav.read", Permissions: []Permission{WebDAVRead}, Mode: ModeAll, PathCheck: true, PathMode: PathModeOperation, RequireAuth: true, Message: "webdav read required"}
	t["webdav.manage"] = &Policy{ID: "webdav.manage", Permissions: []Permission{WebDAVManage}, Mode: ModeAll, PathCheck: true, PathMode: PathModeOperation, RequireAuth: true, Message: "webdav manage required"}
	t["admin.all"] = &Policy{ID: "admin.all", AdminBypass: true, RequireAuth: true, Message: "admin only"}
	t["auth.authenticated"] = &Policy{ID: "auth.authenticated", RequireAuth: true, Message: "authentication required"}
	return t
}

// Principal is the resolved identity of a request, per spec §4.A step 1.
type Principal struct {
	Kind       PrincipalKind
	ID         string
	Authorities Permission
	BasicPath  string
	Role       string
	KeyInfo    interface{}
}

// PrincipalKind mirrors model.PrincipalKind without importing it, to
// keep perm dependency-free of the entity layer.
type PrincipalKind string

const (
	KindAdmin  PrincipalKind = "admin"
	KindAPIKey PrincipalKind = "apikey"
	KindGuest  PrincipalKind = "guest"
)

// NewAdminPrincipal builds a Principal with every permission bit set,
// per spec §4.A step 1 ("admin = all bits").
func NewAdminPrincipal(id string) Principal {
	return Principal{Kind: KindAdmin, ID: id, Authorities: All, BasicPath: "/"}
}

// NewGuestPrincipal builds the unauthenticated default.
func NewGuestPrincipal() Principal {
	return Principal{Kind: KindGuest, Authorities: RoleGuestPermissions, BasicPath: "/"}
}

// NewAPIKeyPrincipal builds a Principal scoped to an API key's own
// permission bitmask and path prefix.
func NewAPIKeyPrincipal(id string, authorities Permission, basicPath, role string) Principal {
	if basicPath == "" {
		basicPath = "/"
	}
	return Principal{Kind: KindAPIKey, ID: id, Authorities: authorities, BasicPath: basicPath, Role: role}
}

// FailureReason is the authorization-layer failure taxonomy, spec §4.A.
type FailureReason string

const (
	ReasonUnauthenticated  FailureReason = "unauthenticated"
	ReasonMissingPermission FailureReason = "missing_permission"
	ReasonPathScope        FailureReason = "path_scope"
	ReasonCustomCheck      FailureReason = "custom_check"
	ReasonNone             FailureReason = ""
)

// Decision is the outcome of evaluating a policy, plus the audit trail
// fields required by spec §4.A step 7.
type Decision struct {
	Allowed bool
	Reason  FailureReason
	Policy  string
	Message string
}

// Authorize implements spec §4.A steps 2-6. targetPaths is the set of
// paths resolved from the request when policy.PathCheck is set (query
// param or WebDAV-protocol-parsed path); it may be nil otherwise.
func Authorize(p Principal, policy *Policy, targetPaths []string) Decision {
	if policy.RequireAuth && p.Kind == KindGuest {
		return Decision{Allowed: false, Reason: ReasonUnauthenticated, Policy: policy.ID, Message: policy.Message}
	}

	if policy.AdminBypass && p.Kind == KindAdmin {
		return Decision{Allowed: true, Policy: policy.ID}
	}

	if len(policy.Permissions) > 0 {
		if !permissionSatisfied(p.Authorities, policy.Permissions, policy.Mode) {
			return Decision{Allowed: false, Reason: ReasonMissingPermission, Policy: policy.ID, Message: policy.Message}
		}
	}

	if policy.PathCheck {
		for _, target := range targetPaths {
			if !PathScopeSatisfied(p.BasicPath, target, policy.PathMode) {
				return Decision{Allowed: false, Reason: ReasonPathScope, Policy: policy.ID, Message: "path outside scope"}
			}
		}
	}

	if policy.Custom != nil {
		if !policy.Custom(p, targetPaths) {
			return Decision{Allowed: false, Reason: ReasonCustomCheck, Policy: policy.ID, Message: policy.Message}
		}
	}

	return Decision{Allowed: true, Policy: policy.ID}
}

func permissionSatisfied(authorities Permission, required []Permission, mode Mode) bool {
	if mode == ModeAny {
		for _, r := range required {
			if HasAny(authorities, r) {
				return true
			}
		}
		return false
	}
	// default / ModeAll
	for _, r := range required {
		if !Has(authorities, r) {
			return false
		}
	}
	return true
}

// PathScopeSatisfied implements the path-scope predicate of spec §4.A
// step 5. operation mode: target == basicPath or strict descendant.
// navigation mode: additionally allows strict ancestors of basicPath.
func PathScopeSatisfied(basicPath, target string, mode PathMode) bool {
	basicPath = normalizePath(basicPath)
	target = normalizePath(target)

	if target == basicPath {
		return true
	}
	if isDescendant(basicPath, target) {
		return true
	}
	if mode == PathModeNavigation && isDescendant(target, basicPath) {
		return true
	}
	return false
}

// isDescendant reports whether child is a strict descendant of parent.
func isDescendant(parent, child string) bool {
	if parent == "/" {
		return child != "/"
	}
	return strings.HasPrefix(child, parent+"/")
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
