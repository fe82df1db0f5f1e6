package auth

import (
	"context"
	"fmt"
)

// Resolver evaluates whether an admin's active roles grant a capability.
// Matching is exact and case-sensitive; there are no wildcards.
type Resolver struct {
	roles RoleLoader
}

// NewResolver constructs a Resolver over roles.
func NewResolver(roles RoleLoader) *Resolver {
	return &Resolver{roles: roles}
}

// HasPermission reports whether p holds (resource, action).
func (r *Resolver) HasPermission(ctx context.Context, p *Principal, resource, action string) (bool, error) {
	roles, err := r.load(ctx, p)
	if err != nil {
		return false, err
	}
	return Grants(roles, resource, action), nil
}

// HasAny reports whether p holds at least one of caps.
func (r *Resolver) HasAny(ctx context.Context, p *Principal, caps ...Capability) (bool, error) {
	roles, err := r.load(ctx, p)
	if err != nil {
		return false, err
	}
	for _, c := range caps {
		if Grants(roles, c.Resource, c.Action) {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether p holds every one of caps.
func (r *Resolver) HasAll(ctx context.Context, p *Principal, caps ...Capability) (bool, error) {
	roles, err := r.load(ctx, p)
	if err != nil {
		return false, err
	}
	for _, c := range caps {
		if !Grants(roles, c.Resource, c.Action) {
			return false, nil
		}
	}
	return true, nil
}

// Require returns ErrPermissionDenied unless p holds (resource, action).
func (r *Resolver) Require(ctx context.Context, p *Principal, resource, action string) error {
	ok, err := r.HasPermission(ctx, p, resource, action)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrPermissionDenied, resource, action)
	}
	return nil
}

func (r *Resolver) load(ctx context.Context, p *Principal) ([]Role, error) {
	if p == nil || p.Kind != KindAdmin || r.roles == nil {
		return nil, nil
	}
	roles, err := r.roles.RolesForAdmin(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return roles, nil
}

// Grants reports whether any active role in roles carries (resource, action).
func Grants(roles []Role, resource, action string) bool {
	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		for _, perm := range role.Permissions {
			if perm.Resource == resource && perm.Action == action {
				return true
			}
		}
	}
	return false
}
