package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gatehouse.dev/internal/auth"
)

// RoleStore persists roles, the permission catalog and admin assignments.
type RoleStore struct {
	db *sql.DB
}

var _ auth.RoleStore = (*RoleStore)(nil)

const roleWithPermissions = `
	select r.id, r.name, coalesce(r.description, ''), r.is_active, r.created_at, r.updated_at,
	       p.id, p.name, p.resource, p.action, p.description, p.created_at
	from roles r
	left join role_permissions rp on rp.role_id = r.id
	left join permissions p on p.id = rp.permission_id
`

// queryRoles folds the flattened role/permission join back into roles.
func (s *RoleStore) queryRoles(ctx context.Context, query string, args ...any) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.Role{}
	for rows.Next() {
		var (
			r        auth.Role
			permID   sql.NullInt64
			permName sql.NullString
			resource sql.NullString
			action   sql.NullString
			permDesc sql.NullString
			permAt   sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
			&permID, &permName, &resource, &action, &permDesc, &permAt); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != r.ID {
			r.Permissions = []auth.Permission{}
			out = append(out, r)
		}
		if permID.Valid {
			last := &out[len(out)-1]
			last.Permissions = append(last.Permissions, auth.Permission{
				ID:          permID.Int64,
				Name:        permName.String,
				Resource:    resource.String,
				Action:      action.String,
				Description: permDesc.String,
				CreatedAt:   permAt.Time,
			})
		}
	}
	return out, rows.Err()
}

func (s *RoleStore) RolesForAdmin(ctx context.Context, adminID int64) ([]auth.Role, error) {
	return s.queryRoles(ctx, roleWithPermissions+`
		join admin_roles ar on ar.role_id = r.id
		where ar.admin_id = $1
		order by r.id, p.id
	`, adminID)
}

func (s *RoleStore) ListRoles(ctx context.Context) ([]auth.Role, error) {
	return s.queryRoles(ctx, roleWithPermissions+` order by r.id, p.id`)
}

func (s *RoleStore) FindRole(ctx context.Context, id int64) (*auth.Role, error) {
	return s.one(s.queryRoles(ctx, roleWithPermissions+` where r.id = $1 order by p.id`, id))
}

func (s *RoleStore) FindRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	return s.one(s.queryRoles(ctx, roleWithPermissions+` where r.name = $1 order by p.id`, name))
}

func (s *RoleStore) one(roles []auth.Role, err error) (*auth.Role, error) {
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, auth.ErrNotFound
	}
	return &roles[0], nil
}

func (s *RoleStore) CreateRole(ctx context.Context, role *auth.Role) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		insert into roles (name, description, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $4)
		returning id, created_at, updated_at
	`, role.Name, nullIfEmpty(role.Description), role.IsActive, now).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if _, ok := isUniqueViolation(err); ok {
		return &auth.ConflictError{Field: "name", Message: "Role already exists"}
	}
	return err
}

// SetRolePermissions replaces the role's permission set in one transaction.
func (s *RoleStore) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from roles where id = $1)`, roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("role %d: %w", roleID, auth.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
			on conflict do nothing
		`, roleID, pid); err != nil {
			return mapReferenceError(err, "permission", pid)
		}
	}
	if _, err := tx.ExecContext(ctx, `update roles set updated_at = $2 where id = $1`, roleID, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// AssignRoles replaces the admin's role set in one transaction.
func (s *RoleStore) AssignRoles(ctx context.Context, adminID int64, roleIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from admin_roles where admin_id = $1`, adminID); err != nil {
		return err
	}
	for _, rid := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into admin_roles (admin_id, role_id) values ($1, $2)
			on conflict do nothing
		`, adminID, rid); err != nil {
			return mapReferenceError(err, "role", rid)
		}
	}
	return tx.Commit()
}

func (s *RoleStore) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, resource, action, coalesce(description, ''), created_at
		from permissions
		order by resource, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.Permission{}
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EnsurePermissions inserts any catalog entries that are missing.
func (s *RoleStore) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (name, resource, action, description)
			values ($1, $2, $3, $4)
			on conflict (resource, action) do nothing
		`, p.Name, p.Resource, p.Action, nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func mapReferenceError(err error, what string, id int64) error {
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("%w: %s %d does not exist", auth.ErrInvalidInput, what, id)
	}
	return err
}
