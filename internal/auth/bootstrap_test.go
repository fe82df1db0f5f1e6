package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSeedFromFile(t *testing.T) {
	env := newTestEnv(t, KindAdmin)
	rbac, err := NewRBACService(NewMemoryRoleStore())
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	if _, err := rbac.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "admins.yaml")
	body := `admins:
  - username: root
    email: root@example.com
    password: correct-horse
    roles: ["Super Admin"]
  - username: ""
    password: skipped
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write bootstrap file: %v", err)
	}

	n, err := env.svc.SeedFromFile(context.Background(), path, rbac)
	if err != nil {
		t.Fatalf("SeedFromFile: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 admin created, got %d", n)
	}
	root, err := env.store.FindByUsername(context.Background(), "root", false)
	if err != nil {
		t.Fatalf("root not stored: %v", err)
	}
	if root.Name != "root" {
		t.Fatalf("name should default to username, got %q", root.Name)
	}
	roles, err := rbac.RolesForAdmin(context.Background(), root.ID)
	if err != nil || len(roles) != 1 || roles[0].Name != SuperAdminRole {
		t.Fatalf("unexpected roles: %+v, %v", roles, err)
	}

	n, err = env.svc.SeedFromFile(context.Background(), path, rbac)
	if err != nil || n != 0 {
		t.Fatalf("second run should be a no-op, got %d, %v", n, err)
	}
}

func TestSeedFromFileUnknownRole(t *testing.T) {
	env := newTestEnv(t, KindAdmin)
	rbac, _ := NewRBACService(NewMemoryRoleStore())
	path := filepath.Join(t.TempDir(), "admins.yaml")
	body := "admins:\n  - username: ops\n    email: ops@example.com\n    password: correct-horse\n    roles: [Auditor]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write bootstrap file: %v", err)
	}
	if _, err := env.svc.SeedFromFile(context.Background(), path, rbac); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestSeedFromFileRejectsUsers(t *testing.T) {
	env := newTestEnv(t, KindUser)
	if _, err := env.svc.SeedFromFile(context.Background(), "unused.yaml", nil); err == nil {
		t.Fatalf("expected error for user service")
	}
}
