package settings

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"gatehouse.dev/internal/auth"
)

// Setting is a key/value configuration entry. Public settings are readable
// without authentication.
type Setting struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	IsPublic    bool      `json:"is_public"`
	IsEncrypted bool      `json:"is_encrypted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists settings keyed by Key. Get returns auth.ErrNotFound for
// unknown keys; Delete reports whether a row was removed.
type Store interface {
	Get(ctx context.Context, key string) (*Setting, error)
	List(ctx context.Context, publicOnly bool) ([]Setting, error)
	Upsert(ctx context.Context, s *Setting) error
	Delete(ctx context.Context, key string) (bool, error)
}

// Input updates a setting. Nil fields keep their current value.
type Input struct {
	Value       string
	Description *string
	IsPublic    *bool
	IsEncrypted *bool
}

// Service implements settings management.
type Service struct {
	store Store
	audit auth.AuditSink
	now   func() time.Time
}

func NewService(store Store, audit auth.AuditSink) *Service {
	return &Service{store: store, audit: audit, now: time.Now}
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,100}$`)

func validKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: key must be 1 to 100 characters of letters, digits, '.', '_' or '-'", auth.ErrInvalidInput)
	}
	return nil
}

// Public returns the public settings as a key/value map.
func (s *Service) Public(ctx context.Context) (map[string]string, error) {
	rows, err := s.store.List(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *Service) List(ctx context.Context) ([]Setting, error) {
	return s.store.List(ctx, false)
}

func (s *Service) Get(ctx context.Context, key string) (*Setting, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, key)
}

// Put creates or updates key.
func (s *Service) Put(ctx context.Context, actor *auth.Principal, key string, in Input) (*Setting, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	setting, created, err := s.upsert(ctx, key, in)
	if err != nil {
		return nil, err
	}
	verb := "updated"
	if created {
		verb = "created"
	}
	s.record(ctx, actor, fmt.Sprintf("Setting '%s' %s", key, verb), map[string]any{"key": key})
	return setting, nil
}

// PutMany upserts every pair with shared flags and records one audit entry.
func (s *Service) PutMany(ctx context.Context, actor *auth.Principal, values map[string]string, description *string, isPublic *bool) (created, updated int, err error) {
	if len(values) == 0 {
		return 0, 0, fmt.Errorf("%w: settings are required", auth.ErrInvalidInput)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if err := validKey(k); err != nil {
			return 0, 0, err
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		_, isNew, err := s.upsert(ctx, k, Input{Value: values[k], Description: description, IsPublic: isPublic})
		if err != nil {
			return created, updated, err
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	s.record(ctx, actor, fmt.Sprintf("Bulk settings update: %d created, %d updated", created, updated), map[string]any{
		"created": created,
		"updated": updated,
		"keys":    keys,
	})
	return created, updated, nil
}

func (s *Service) upsert(ctx context.Context, key string, in Input) (*Setting, bool, error) {
	now := s.now().UTC()
	setting, err := s.store.Get(ctx, key)
	created := false
	switch {
	case err == nil:
	case isNotFound(err):
		created = true
		setting = &Setting{Key: key, CreatedAt: now}
	default:
		return nil, false, err
	}
	setting.Value = in.Value
	if in.Description != nil {
		setting.Description = strings.TrimSpace(*in.Description)
	}
	if in.IsPublic != nil {
		setting.IsPublic = *in.IsPublic
	}
	if in.IsEncrypted != nil {
		setting.IsEncrypted = *in.IsEncrypted
	}
	setting.UpdatedAt = now
	if err := s.store.Upsert(ctx, setting); err != nil {
		return nil, false, err
	}
	return setting, created, nil
}

// Delete removes key.
func (s *Service) Delete(ctx context.Context, actor *auth.Principal, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	ok, err := s.store.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("setting %q: %w", key, auth.ErrNotFound)
	}
	if s.audit != nil {
		entry := auth.AuditEntry{
			Action:      auth.AuditDelete,
			EntityType:  "setting",
			Description: fmt.Sprintf("Setting '%s' deleted", key),
			ExtraData:   map[string]any{"key": key},
			Success:     true,
		}
		if actor != nil {
			entry.AdminID = auth.Int64(actor.ID)
		}
		s.audit.Record(ctx, entry)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor *auth.Principal, desc string, extra map[string]any) {
	if s.audit == nil {
		return
	}
	entry := auth.AuditEntry{
		Action:      auth.AuditSettingsUpdate,
		EntityType:  "setting",
		Description: desc,
		ExtraData:   extra,
		Success:     true,
	}
	if actor != nil {
		entry.AdminID = auth.Int64(actor.ID)
	}
	s.audit.Record(ctx, entry)
}
