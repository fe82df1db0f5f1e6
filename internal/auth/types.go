package auth

import (
	"io"
	"strings"
	"time"
)

// Kind discriminates the two principal populations.
type Kind string

const (
	KindUser  Kind = "user"
	KindAdmin Kind = "admin"
)

func (k Kind) label() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

// Principal is an authenticable account. Admins additionally carry roles,
// which are loaded on demand by the Resolver.
type Principal struct {
	ID             int64      `json:"id"`
	Kind           Kind       `json:"kind"`
	Username       string     `json:"username"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	PasswordHash   string     `json:"-"`
	Avatar         string     `json:"avatar,omitempty"`
	IsActive       bool       `json:"is_active"`
	FailedAttempts int        `json:"failed_login_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Locked reports whether a lock is in force at now.
func (p *Principal) Locked(now time.Time) bool {
	return p.LockedUntil != nil && p.LockedUntil.After(now)
}

// Deleted reports whether the principal has been soft-deleted.
func (p *Principal) Deleted() bool {
	return p.DeletedAt != nil
}

// Role groups permissions.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsActive    bool         `json:"is_active"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Permission is a (resource, action) capability.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Capability is a requested (resource, action) pair.
type Capability struct {
	Resource string
	Action   string
}

// AuditAction enumerates the audited event kinds.
type AuditAction string

const (
	AuditLogin          AuditAction = "login"
	AuditLogout         AuditAction = "logout"
	AuditRegister       AuditAction = "register"
	AuditUpdate         AuditAction = "update"
	AuditDelete         AuditAction = "delete"
	AuditCreate         AuditAction = "create"
	AuditActivate       AuditAction = "activate"
	AuditDeactivate     AuditAction = "deactivate"
	AuditBlock          AuditAction = "block"
	AuditUnblock        AuditAction = "unblock"
	AuditSoftDelete     AuditAction = "soft_delete"
	AuditRestore        AuditAction = "restore"
	AuditPasswordChange AuditAction = "password_change"
	AuditSettingsUpdate AuditAction = "settings_update"
	AuditOther          AuditAction = "other"
)

// AuditEntry is an append-only record of a security-relevant event.
// Empty strings and nil pointers are stored as NULL.
type AuditEntry struct {
	ID           int64          `json:"id"`
	Action       AuditAction    `json:"action"`
	EntityType   string         `json:"entity_type,omitempty"`
	EntityID     *int64         `json:"entity_id,omitempty"`
	UserID       *int64         `json:"user_id,omitempty"`
	AdminID      *int64         `json:"admin_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Description  string         `json:"description,omitempty"`
	ExtraData    map[string]any `json:"extra_data,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Upload is a file handed to an Uploader.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
