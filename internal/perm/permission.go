// Package perm implements the bit-flag permission set, role presets
// and the policy-table authorization core of spec §4.A.
package perm

// Permission is a 32-bit flag set. Bit positions are fixed by the
// wire contract in spec §4.A and must never be renumbered.
type Permission uint32

// Basic region (bits 0-3).
const (
	TextShare Permission = 1 << iota
	FileShare
	TextManage
	FileManage
)

// Mount region (bits 8-12).
const (
	MountView Permission = 1 << (8 + iota)
	MountUpload
	MountCopy
	MountRename
	MountDelete
)

// WebDAV region (bits 16-17).
const (
	WebDAVRead Permission = 1 << (16 + iota)
	WebDAVManage
)

// All is the full permission set (ADMIN role).
const All Permission = TextShare | FileShare | TextManage | FileManage |
	MountView | MountUpload | MountCopy | MountRename | MountDelete |
	WebDAVRead | WebDAVManage

// Role presets from spec §4.A.
var (
	RoleGuestPermissions   = MountView
	RoleGeneralPermissions = TextShare | FileShare | TextManage | FileManage |
		MountView | MountUpload | WebDAVRead
	RoleAdminPermissions = All
)

// Has reports whether p carries every bit of q: has(p,q) ⇔ (p&q)==q.
func Has(p, q Permission) bool { return p&q == q }

// HasAny reports whether p carries at least one bit of q.
func HasAny(p, q Permission) bool { return p&q != 0 }

// HasAll is an alias of Has kept for readability at call sites that
// check a whole set rather than a single flag.
func HasAll(p, q Permission) bool { return Has(p, q) }

// Add returns p with every bit of q set: add(p,q) = p|q.
func Add(p, q Permission) Permission { return p | q }

// Remove returns p with every bit of q cleared: remove(p,q) = p & ~q.
func Remove(p, q Permission) Permission { return p &^ q }
