package auth

import (
	"context"
	"time"
)

// PrincipalStore persists principals of a single Kind. Lookups exclude
// soft-deleted rows unless includeDeleted is set and return ErrNotFound when
// nothing matches. Implementations must enforce uniqueness of username, email
// and phone among non-deleted rows and report collisions as *ConflictError.
type PrincipalStore interface {
	Kind() Kind
	FindByID(ctx context.Context, id int64, includeDeleted bool) (*Principal, error)
	FindByUsername(ctx context.Context, username string, includeDeleted bool) (*Principal, error)
	FindByEmail(ctx context.Context, email string, includeDeleted bool) (*Principal, error)
	FindByPhone(ctx context.Context, phone string, includeDeleted bool) (*Principal, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string, includeDeleted bool) (*Principal, error)
	List(ctx context.Context, limit, offset int) ([]*Principal, int, error)
	Create(ctx context.Context, p *Principal) error
	// IncrementFailedAttempts bumps the counter in place and returns the new value.
	IncrementFailedAttempts(ctx context.Context, id int64) (int, error)
	// ResetFailedAttempts zeroes the counter and clears any lock.
	ResetFailedAttempts(ctx context.Context, id int64) error
	SetLockedUntil(ctx context.Context, id int64, until *time.Time) error
	Save(ctx context.Context, p *Principal) error
}

// RoleLoader is the read side used by the Resolver.
type RoleLoader interface {
	RolesForAdmin(ctx context.Context, adminID int64) ([]Role, error)
}

// RoleStore manages roles, the permission catalog and admin assignments.
type RoleStore interface {
	RoleLoader
	ListRoles(ctx context.Context) ([]Role, error)
	FindRole(ctx context.Context, id int64) (*Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	CreateRole(ctx context.Context, role *Role) error
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	AssignRoles(ctx context.Context, adminID int64, roleIDs []int64) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermissions(ctx context.Context, perms []Permission) error
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, limit, offset int) ([]AuditEntry, int, error)
}

// AuditSink records entries on a fire-and-forget basis; failures are
// handled by the sink and never reach the caller.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Uploader stores an uploaded image and returns the stored filename.
type Uploader interface {
	SaveImage(ctx context.Context, u Upload) (string, error)
}
