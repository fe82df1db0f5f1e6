package auth

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type bootstrapFile struct {
	Admins []struct {
		Username string   `yaml:"username"`
		Name     string   `yaml:"name"`
		Email    string   `yaml:"email"`
		Phone    string   `yaml:"phone"`
		Password string   `yaml:"password"`
		Roles    []string `yaml:"roles"`
	} `yaml:"admins"`
}

// SeedFromFile registers the admins listed in a YAML file and assigns their
// roles by name. Admins whose username already exists are left untouched.
// It returns the number of admins created.
func (s *Service) SeedFromFile(ctx context.Context, path string, rbac *RBACService) (int, error) {
	if s.Kind() != KindAdmin {
		return 0, fmt.Errorf("%w: bootstrap file seeds admins only", ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var bf bootstrapFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	created := 0
	for _, a := range bf.Admins {
		if a.Username == "" || a.Password == "" {
			continue
		}
		if _, err := s.store.FindByUsername(ctx, a.Username, false); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return created, err
		}
		name := a.Name
		if name == "" {
			name = a.Username
		}
		p, err := s.Register(ctx, Registration{
			Username: a.Username,
			Name:     name,
			Email:    a.Email,
			Phone:    a.Phone,
			Password: a.Password,
		})
		if err != nil {
			return created, fmt.Errorf("bootstrap admin %q: %w", a.Username, err)
		}
		created++
		if len(a.Roles) == 0 || rbac == nil {
			continue
		}
		ids := make([]int64, 0, len(a.Roles))
		for _, roleName := range a.Roles {
			role, err := rbac.RoleByName(ctx, roleName)
			if err != nil {
				return created, fmt.Errorf("bootstrap admin %q: role %q: %w", a.Username, roleName, err)
			}
			ids = append(ids, role.ID)
		}
		if err := rbac.AssignRoles(ctx, p.ID, ids); err != nil {
			return created, err
		}
	}
	return created, nil
}
