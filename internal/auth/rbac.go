package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// RBACService administers roles, the permission catalog and admin role
// assignments. Evaluation lives in Resolver.
type RBACService struct {
	store RoleStore
}

// NewRBACService constructs an RBACService.
func NewRBACService(store RoleStore) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("role store is required")
	}
	return &RBACService{store: store}, nil
}

// Seed ensures the builtin permissions exist and that the Super Admin role
// grants all of them. It is idempotent.
func (s *RBACService) Seed(ctx context.Context) (*Role, error) {
	if err := s.store.EnsurePermissions(ctx, BuiltinPermissions); err != nil {
		return nil, fmt.Errorf("ensure permissions: %w", err)
	}
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	role, err := s.store.FindRoleByName(ctx, SuperAdminRole)
	switch {
	case errors.Is(err, ErrNotFound):
		role = &Role{Name: SuperAdminRole, Description: "Full access to every resource", IsActive: true}
		if err := s.store.CreateRole(ctx, role); err != nil {
			return nil, fmt.Errorf("create super admin role: %w", err)
		}
	case err != nil:
		return nil, err
	}
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	if err := s.store.SetRolePermissions(ctx, role.ID, ids); err != nil {
		return nil, fmt.Errorf("grant super admin permissions: %w", err)
	}
	role.Permissions = perms
	return role, nil
}

// CreateRole creates an active role with the given permissions.
func (s *RBACService) CreateRole(ctx context.Context, name, description string, permissionIDs []int64) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if len(name) > 50 {
		return nil, fmt.Errorf("%w: role name must be at most 50 characters", ErrInvalidInput)
	}
	if _, err := s.store.FindRoleByName(ctx, name); err == nil {
		return nil, newConflict("name", "Role already exists")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	role := &Role{Name: name, Description: strings.TrimSpace(description), IsActive: true}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	if len(permissionIDs) > 0 {
		if err := s.SetRolePermissions(ctx, role.ID, permissionIDs); err != nil {
			return nil, err
		}
	}
	return s.store.FindRole(ctx, role.ID)
}

// ListRoles returns all roles with their permissions.
func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole returns a role by id.
func (s *RBACService) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	if roleID <= 0 {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.FindRole(ctx, roleID)
}

// RoleByName returns a role by its unique name.
func (s *RBACService) RoleByName(ctx context.Context, name string) (*Role, error) {
	return s.store.FindRoleByName(ctx, strings.TrimSpace(name))
}

// ListPermissions returns the permission catalog.
func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// SetRolePermissions replaces the permission set of a role. Unknown
// permission ids are rejected.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if roleID <= 0 {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if _, err := s.store.FindRole(ctx, roleID); err != nil {
		return err
	}
	permissionIDs = dedupeIDs(permissionIDs)
	if len(permissionIDs) > 0 {
		catalog, err := s.store.ListPermissions(ctx)
		if err != nil {
			return err
		}
		known := make(map[int64]struct{}, len(catalog))
		for _, p := range catalog {
			known[p.ID] = struct{}{}
		}
		for _, id := range permissionIDs {
			if _, ok := known[id]; !ok {
				return fmt.Errorf("%w: unknown permission %d", ErrInvalidInput, id)
			}
		}
	}
	return s.store.SetRolePermissions(ctx, roleID, permissionIDs)
}

// AssignRoles replaces the roles held by an admin.
func (s *RBACService) AssignRoles(ctx context.Context, adminID int64, roleIDs []int64) error {
	if adminID <= 0 {
		return fmt.Errorf("%w: admin_id is required", ErrInvalidInput)
	}
	roleIDs = dedupeIDs(roleIDs)
	for _, id := range roleIDs {
		if _, err := s.store.FindRole(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: unknown role %d", ErrInvalidInput, id)
			}
			return err
		}
	}
	return s.store.AssignRoles(ctx, adminID, roleIDs)
}

// RolesForAdmin returns the roles assigned to an admin.
func (s *RBACService) RolesForAdmin(ctx context.Context, adminID int64) ([]Role, error) {
	return s.store.RolesForAdmin(ctx, adminID)
}

func dedupeIDs(values []int64) []int64 {
	out := make([]int64, 0, len(values))
	for _, v := range values {
		if v <= 0 || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
