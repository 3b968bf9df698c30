// Package model holds the persisted entities of §3, as plain structs.
// No behavior lives here beyond small invariants that are cheap to
// keep next to the field they guard.
package model

import "time"

// DriverKind tags which driver a StorageConfig instantiates.
type DriverKind string

// Driver kinds implemented (spec §3: "S3|WEBDAV|LOCAL|…").
const (
	DriverS3     DriverKind = "S3"
	DriverWebDAV DriverKind = "WEBDAV"
	DriverLocal  DriverKind = "LOCAL"
)

// StorageConfig is the private, owner-scoped configuration of a
// backing object store.
type StorageConfig struct {
	ID            string
	Name          string
	Kind          DriverKind
	ConfigBlob    []byte // JSON; secret fields encrypted-at-rest, see internal/secret
	IsPublic      bool
	IsDefault     bool
	QuotaHint     int64
	OwnerAdminID  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WebDAVPolicy controls how a mount proxies WebDAV requests.
type WebDAVPolicy string

const (
	WebDAVRedirect302  WebDAVPolicy = "302_redirect"
	WebDAVUseProxyURL  WebDAVPolicy = "use_proxy_url"
	WebDAVNativeProxy  WebDAVPolicy = "native_proxy"
)

// StorageMount exposes a StorageConfig under a virtual path prefix.
type StorageMount struct {
	ID            string
	Name          string
	StorageConfigID string
	MountPath     string
	IsActive      bool
	WebProxy      bool
	EnableSign    bool
	SignExpires   time.Duration
	WebDAVPolicy  WebDAVPolicy
	SortOrder     int
	CacheTTL      time.Duration
	CreatedBy     string
	CreatedAt     time.Time
}

// Role is a permission preset, see internal/perm.
type Role string

const (
	RoleGuest   Role = "GUEST"
	RoleGeneral Role = "GENERAL"
	RoleAdmin   Role = "ADMIN"
)

// ApiKey is a bearer credential scoped to a permission bitmask and a
// path prefix.
type ApiKey struct {
	ID         string
	Name       string
	Secret     string
	Permissions uint32
	Role       Role
	BasicPath  string
	IsEnabled  bool
	ExpiresAt  *time.Time
	LastUsed   *time.Time
}

// AdminAccount is a console user.
type AdminAccount struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AdminToken is a short-lived bearer session for an AdminAccount.
type AdminToken struct {
	Token     string
	AdminID   string
	ExpiresAt time.Time
}

// PrincipalKind distinguishes who created a share or owns a row.
type PrincipalKind string

const (
	PrincipalAdmin  PrincipalKind = "admin"
	PrincipalAPIKey PrincipalKind = "apikey"
	PrincipalGuest  PrincipalKind = "guest"
)

// FileShare is a publicly reachable file artifact.
type FileShare struct {
	ID              string
	Slug            string
	PasswordHash    string
	PasswordPlain   string // creator-side view, per spec §3
	ExpiresAt       *time.Time
	MaxViews        int
	Views           int
	StorageConfigID *string
	StoragePath     *string
	CreatedBy       string // "<kind>:<id>"
	CreatedAt       time.Time
}

// PasteShare is a publicly reachable text artifact.
type PasteShare struct {
	ID            string
	Slug          string
	Content       string
	PasswordHash  string
	PasswordPlain string
	ExpiresAt     *time.Time
	MaxViews      int
	Views         int
	CreatedBy     string
	CreatedAt     time.Time
}

// UploadStrategy selects how an UploadSession hands out write URLs.
type UploadStrategy string

const (
	StrategyPerPartURL    UploadStrategy = "per_part_url"
	StrategySingleSession UploadStrategy = "single_session"
)

// UploadStatus is the lifecycle state of an UploadSession.
type UploadStatus string

const (
	UploadActive    UploadStatus = "active"
	UploadCompleted UploadStatus = "completed"
	UploadAborted   UploadStatus = "aborted"
	UploadExpired   UploadStatus = "expired"
	UploadError     UploadStatus = "error"
)

// UploadSession tracks a (possibly multipart) in-progress upload.
type UploadSession struct {
	ID               string
	UserID           string
	UserKind         PrincipalKind
	MountID          string
	FSPath           string
	FileSize         int64
	Mime             string
	FingerprintAlgo  string
	FingerprintValue string
	Strategy         UploadStrategy
	PartSize         int64
	TotalParts       int
	UploadedParts    int
	UploadedBytes    int64
	ProviderUploadID string
	ProviderURL      string
	ProviderMeta     []byte // JSON
	Status           UploadStatus
	ExpiresAt        time.Time
}

// PrincipalStorageACL grants an API key access to a private StorageConfig.
type PrincipalStorageACL struct {
	PrincipalKind   PrincipalKind
	PrincipalID     string
	StorageConfigID string
}

// FsMeta is path-keyed presentation metadata, inherited from the
// nearest ancestor that defines it.
type FsMeta struct {
	Path              string
	HeaderMarkdown    string
	FooterMarkdown    string
	HideRegex         []string
	InheritToChildren bool
	Password          string
}

// ScheduledJob is a cron-like schedule record naming a task type and
// payload. No code in this module fires it or enqueues its TaskRecords.
type ScheduledJob struct {
	ID         string
	TaskType   string
	Payload    []byte
	CronExpr   string
	Enabled    bool
	LastRunAt  *time.Time
	NextRunAt  *time.Time
}

// ScheduledJobRun records one firing of a ScheduledJob.
type ScheduledJobRun struct {
	ID             string
	ScheduledJobID string
	TaskID         string
	FiredAt        time.Time
}

// SystemSetting is a flat admin-editable tunable.
type SystemSetting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
