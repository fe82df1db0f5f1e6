package collections

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gatehouse.dev/internal/auth"
)

// Collection is an admin-managed catalog entry.
type Collection struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	Description      string     `json:"description,omitempty"`
	Image            string     `json:"image,omitempty"`
	IsActive         bool       `json:"is_active"`
	SortOrder        int        `json:"sort_order"`
	CreatedByAdminID *int64     `json:"created_by_admin_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"-"`
}

// Filter narrows a listing.
type Filter struct {
	Limit    int
	Offset   int
	IsActive *bool
}

// Store persists collections. Lookups exclude soft-deleted rows and return
// auth.ErrNotFound when nothing matches.
type Store interface {
	FindByID(ctx context.Context, id int64) (*Collection, error)
	FindBySlug(ctx context.Context, slug string) (*Collection, error)
	List(ctx context.Context, f Filter) ([]Collection, int, error)
	Create(ctx context.Context, c *Collection) error
	Update(ctx context.Context, c *Collection) error
}

// Input carries create and update fields. Nil means unchanged.
type Input struct {
	Name        *string
	Slug        *string
	Description *string
	IsActive    *bool
	SortOrder   *int
	Image       *auth.Upload
}

// Service implements collection management.
type Service struct {
	store   Store
	audit   auth.AuditSink
	uploads auth.Uploader
	now     func() time.Time
}

// NewService wires a Service. audit and uploads may be nil.
func NewService(store Store, audit auth.AuditSink, uploads auth.Uploader) *Service {
	return &Service{store: store, audit: audit, uploads: uploads, now: time.Now}
}

var (
	nonSlug   = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugSpace = regexp.MustCompile(`[-\s]+`)
)

// Slugify lowercases text, drops punctuation and joins words with dashes.
func Slugify(text string) string {
	s := strings.ToLower(text)
	s = nonSlug.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func (s *Service) Get(ctx context.Context, id int64) (*Collection, error) {
	return s.store.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Collection, int, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		return nil, 0, fmt.Errorf("%w: limit must be between 1 and 1000", auth.ErrInvalidInput)
	}
	if f.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset must not be negative", auth.ErrInvalidInput)
	}
	return s.store.List(ctx, f)
}

// Create adds a collection on behalf of actor. The slug defaults to the
// slugified name.
func (s *Service) Create(ctx context.Context, actor *auth.Principal, in Input) (*Collection, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", auth.ErrInvalidInput)
	}
	c := &Collection{Name: strings.TrimSpace(*in.Name), IsActive: true}
	if len(c.Name) > 200 {
		return nil, fmt.Errorf("%w: name must be at most 200 characters", auth.ErrInvalidInput)
	}
	slug := ""
	if in.Slug != nil {
		slug = strings.TrimSpace(*in.Slug)
	}
	if slug == "" {
		slug = Slugify(c.Name)
	}
	if err := s.claimSlug(ctx, slug, 0); err != nil {
		return nil, err
	}
	c.Slug = slug
	applyInput(c, in)
	if in.Image != nil {
		name, err := s.saveImage(ctx, *in.Image)
		if err != nil {
			return nil, err
		}
		c.Image = name
	}
	if actor != nil {
		c.CreatedByAdminID = auth.Int64(actor.ID)
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.record(ctx, actor, auth.AuditCreate, c, fmt.Sprintf("Collection '%s' created", c.Name))
	return c, nil
}

// Update modifies an existing collection.
func (s *Service) Update(ctx context.Context, actor *auth.Principal, id int64, in Input) (*Collection, error) {
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || len(name) > 200 {
			return nil, fmt.Errorf("%w: name must be 1 to 200 characters", auth.ErrInvalidInput)
		}
		c.Name = name
	}
	if in.Slug != nil {
		slug := strings.TrimSpace(*in.Slug)
		if slug != "" && slug != c.Slug {
			if err := s.claimSlug(ctx, slug, c.ID); err != nil {
				return nil, err
			}
			c.Slug = slug
		}
	}
	applyInput(c, in)
	if in.Image != nil {
		name, err := s.saveImage(ctx, *in.Image)
		if err != nil {
			return nil, err
		}
		c.Image = name
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}
	s.record(ctx, actor, auth.AuditUpdate, c, fmt.Sprintf("Collection '%s' updated", c.Name))
	return c, nil
}

// Delete soft-deletes a collection.
func (s *Service) Delete(ctx context.Context, actor *auth.Principal, id int64) error {
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	c.DeletedAt = &now
	c.UpdatedAt = now
	if err := s.store.Update(ctx, c); err != nil {
		return err
	}
	s.record(ctx, actor, auth.AuditDelete, c, fmt.Sprintf("Collection '%s' deleted", c.Name))
	return nil
}

func (s *Service) claimSlug(ctx context.Context, slug string, self int64) error {
	if slug == "" {
		return fmt.Errorf("%w: slug is required", auth.ErrInvalidInput)
	}
	if len(slug) > 200 {
		return fmt.Errorf("%w: slug must be at most 200 characters", auth.ErrInvalidInput)
	}
	existing, err := s.store.FindBySlug(ctx, slug)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID == self:
		return nil
	}
	return &auth.ConflictError{Field: "slug", Message: fmt.Sprintf("Collection with slug '%s' already exists", slug)}
}

func (s *Service) saveImage(ctx context.Context, u auth.Upload) (string, error) {
	if s.uploads == nil {
		return "", fmt.Errorf("%w: image uploads are not configured", auth.ErrInvalidInput)
	}
	return s.uploads.SaveImage(ctx, u)
}

func applyInput(c *Collection, in Input) {
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if in.SortOrder != nil {
		c.SortOrder = *in.SortOrder
	}
}

func (s *Service) record(ctx context.Context, actor *auth.Principal, action auth.AuditAction, c *Collection, desc string) {
	if s.audit == nil {
		return
	}
	entry := auth.AuditEntry{
		Action:      action,
		EntityType:  "collection",
		EntityID:    auth.Int64(c.ID),
		Description: desc,
		Success:     true,
	}
	if actor != nil {
		entry.AdminID = auth.Int64(actor.ID)
	}
	s.audit.Record(ctx, entry)
}
