package auth

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryPrincipalStore is an in-process PrincipalStore. Returned principals
// are copies; mutations become visible only through Save or the counter
// methods.
type MemoryPrincipalStore struct {
	mu     sync.RWMutex
	kind   Kind
	nextID int64
	rows   map[int64]*Principal
	now    func() time.Time
}

var _ PrincipalStore = (*MemoryPrincipalStore)(nil)

// NewMemoryPrincipalStore returns an empty store for kind.
func NewMemoryPrincipalStore(kind Kind) *MemoryPrincipalStore {
	return &MemoryPrincipalStore{kind: kind, rows: make(map[int64]*Principal), now: time.Now}
}

func (s *MemoryPrincipalStore) Kind() Kind { return s.kind }

func (s *MemoryPrincipalStore) FindByID(_ context.Context, id int64, includeDeleted bool) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rows[id]
	if !ok || (p.Deleted() && !includeDeleted) {
		return nil, ErrNotFound
	}
	return clonePrincipal(p), nil
}

func (s *MemoryPrincipalStore) FindByUsername(_ context.Context, username string, includeDeleted bool) (*Principal, error) {
	return s.findFirst(includeDeleted, func(p *Principal) bool { return p.Username == username })
}

func (s *MemoryPrincipalStore) FindByEmail(_ context.Context, email string, includeDeleted bool) (*Principal, error) {
	return s.findFirst(includeDeleted, func(p *Principal) bool { return p.Email == email })
}

func (s *MemoryPrincipalStore) FindByPhone(_ context.Context, phone string, includeDeleted bool) (*Principal, error) {
	if phone == "" {
		return nil, ErrNotFound
	}
	return s.findFirst(includeDeleted, func(p *Principal) bool { return p.Phone == phone })
}

func (s *MemoryPrincipalStore) FindByUsernameOrEmail(_ context.Context, identifier string, includeDeleted bool) (*Principal, error) {
	if identifier == "" {
		return nil, ErrNotFound
	}
	return s.findFirst(includeDeleted, func(p *Principal) bool {
		return p.Username == identifier || p.Email == identifier
	})
}

func (s *MemoryPrincipalStore) findFirst(includeDeleted bool, match func(*Principal) bool) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.sortedIDs() {
		p := s.rows[id]
		if p.Deleted() && !includeDeleted {
			continue
		}
		if match(p) {
			return clonePrincipal(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryPrincipalStore) List(_ context.Context, limit, offset int) ([]*Principal, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var live []*Principal
	for _, id := range s.sortedIDs() {
		if p := s.rows[id]; !p.Deleted() {
			live = append(live, clonePrincipal(p))
		}
	}
	total := len(live)
	if offset >= total {
		return []*Principal{}, total, nil
	}
	end := min(offset+limit, total)
	return live[offset:end], total, nil
}

func (s *MemoryPrincipalStore) Create(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnique(p); err != nil {
		return err
	}
	s.nextID++
	p.ID = s.nextID
	p.Kind = s.kind
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.rows[p.ID] = clonePrincipal(p)
	return nil
}

func (s *MemoryPrincipalStore) Save(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; !ok {
		return ErrNotFound
	}
	if !p.Deleted() {
		if err := s.checkUnique(p); err != nil {
			return err
		}
	}
	s.rows[p.ID] = clonePrincipal(p)
	return nil
}

// checkUnique must be called with the write lock held.
func (s *MemoryPrincipalStore) checkUnique(p *Principal) error {
	for id, other := range s.rows {
		if id == p.ID || other.Deleted() {
			continue
		}
		switch {
		case other.Username == p.Username:
			return newConflict("username", "Username already exists")
		case other.Email == p.Email:
			return newConflict("email", "Email already exists")
		case p.Phone != "" && other.Phone == p.Phone:
			return newConflict("phone", "Phone number already exists")
		}
	}
	return nil
}

func (s *MemoryPrincipalStore) IncrementFailedAttempts(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return 0, ErrNotFound
	}
	p.FailedAttempts++
	return p.FailedAttempts, nil
}

func (s *MemoryPrincipalStore) ResetFailedAttempts(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	return nil
}

func (s *MemoryPrincipalStore) SetLockedUntil(_ context.Context, id int64, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if until == nil {
		p.LockedUntil = nil
		return nil
	}
	t := *until
	p.LockedUntil = &t
	return nil
}

func (s *MemoryPrincipalStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func clonePrincipal(p *Principal) *Principal {
	cp := *p
	if p.LockedUntil != nil {
		t := *p.LockedUntil
		cp.LockedUntil = &t
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// MemoryRoleStore is an in-process RoleStore.
type MemoryRoleStore struct {
	mu          sync.RWMutex
	nextRole    int64
	nextPerm    int64
	roles       map[int64]*Role
	permissions map[int64]Permission
	rolePerms   map[int64][]int64
	adminRoles  map[int64][]int64
	now         func() time.Time
}

var _ RoleStore = (*MemoryRoleStore)(nil)

// NewMemoryRoleStore returns an empty role store.
func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{
		roles:       make(map[int64]*Role),
		permissions: make(map[int64]Permission),
		rolePerms:   make(map[int64][]int64),
		adminRoles:  make(map[int64][]int64),
		now:         time.Now,
	}
}

func (s *MemoryRoleStore) RolesForAdmin(_ context.Context, adminID int64) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.adminRoles[adminID]))
	for _, id := range s.adminRoles[adminID] {
		if r, ok := s.roles[id]; ok {
			out = append(out, s.hydrate(r))
		}
	}
	return out, nil
}

func (s *MemoryRoleStore) ListRoles(_ context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, s.hydrate(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryRoleStore) FindRole(_ context.Context, id int64) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	role := s.hydrate(r)
	return &role, nil
}

func (s *MemoryRoleStore) FindRoleByName(_ context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			role := s.hydrate(r)
			return &role, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryRoleStore) CreateRole(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == role.Name {
			return newConflict("name", "Role already exists")
		}
	}
	s.nextRole++
	now := s.now().UTC()
	role.ID = s.nextRole
	role.CreatedAt, role.UpdatedAt = now, now
	cp := *role
	cp.Permissions = nil
	s.roles[role.ID] = &cp
	return nil
}

// SetRoleActive toggles a role's active flag.
func (s *MemoryRoleStore) SetRoleActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.roles[id]; ok {
		r.IsActive = active
	}
}

func (s *MemoryRoleStore) SetRolePermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	s.rolePerms[roleID] = slices.Clone(permissionIDs)
	return nil
}

func (s *MemoryRoleStore) AssignRoles(_ context.Context, adminID int64, roleIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminRoles[adminID] = slices.Clone(roleIDs)
	return nil
}

func (s *MemoryRoleStore) ListPermissions(_ context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryRoleStore) EnsurePermissions(_ context.Context, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]struct{}, len(s.permissions))
	for _, p := range s.permissions {
		existing[p.Resource+":"+p.Action] = struct{}{}
	}
	for _, p := range perms {
		key := p.Resource + ":" + p.Action
		if _, ok := existing[key]; ok {
			continue
		}
		s.nextPerm++
		p.ID = s.nextPerm
		if p.Name == "" {
			p.Name = key
		}
		p.CreatedAt = s.now().UTC()
		s.permissions[p.ID] = p
		existing[key] = struct{}{}
	}
	return nil
}

// hydrate must be called with a lock held.
func (s *MemoryRoleStore) hydrate(r *Role) Role {
	role := *r
	role.Permissions = make([]Permission, 0, len(s.rolePerms[r.ID]))
	for _, id := range s.rolePerms[r.ID] {
		if p, ok := s.permissions[id]; ok {
			role.Permissions = append(role.Permissions, p)
		}
	}
	return role
}

// MemoryAuditStore is an in-process AuditStore.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []AuditEntry
	now     func() time.Time
}

var _ AuditStore = (*MemoryAuditStore)(nil)

// NewMemoryAuditStore returns an empty audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{now: time.Now}
}

func (s *MemoryAuditStore) Append(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.entries) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

// List returns entries newest first.
func (s *MemoryAuditStore) List(_ context.Context, limit, offset int) ([]AuditEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.entries)
	out := make([]AuditEntry, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, total, nil
}

// Entries returns a snapshot in insertion order.
func (s *MemoryAuditStore) Entries() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// Filter returns entries whose action matches.
func (s *MemoryAuditStore) Filter(action AuditAction) []AuditEntry {
	var out []AuditEntry
	for _, e := range s.Entries() {
		if strings.EqualFold(string(e.Action), string(action)) {
			out = append(out, e)
		}
	}
	return out
}
