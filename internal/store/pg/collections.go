package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/collections"
)

const collectionColumns = `id, name, slug, description, image, is_active, sort_order, created_by_admin_id,
	created_at, updated_at, deleted_at`

// CollectionStore persists collections.
type CollectionStore struct {
	db *sql.DB
}

var _ collections.Store = (*CollectionStore)(nil)

func scanCollection(row scanner) (*collections.Collection, error) {
	var (
		c       collections.Collection
		desc    sql.NullString
		image   sql.NullString
		creator sql.NullInt64
		deleted sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Slug, &desc, &image, &c.IsActive, &c.SortOrder, &creator,
		&c.CreatedAt, &c.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	c.Description = desc.String
	c.Image = image.String
	c.CreatedByAdminID = int64Ptr(creator)
	c.DeletedAt = timePtr(deleted)
	return &c, nil
}

func (s *CollectionStore) find(ctx context.Context, where string, arg any) (*collections.Collection, error) {
	c, err := scanCollection(s.db.QueryRowContext(ctx,
		`select `+collectionColumns+` from collections where `+where+` and deleted_at is null`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return c, err
}

func (s *CollectionStore) FindByID(ctx context.Context, id int64) (*collections.Collection, error) {
	return s.find(ctx, `id = $1`, id)
}

func (s *CollectionStore) FindBySlug(ctx context.Context, slug string) (*collections.Collection, error) {
	return s.find(ctx, `slug = $1`, slug)
}

// List orders by sort_order then name. A nil IsActive matches both states.
func (s *CollectionStore) List(ctx context.Context, f collections.Filter) ([]collections.Collection, int, error) {
	var active sql.NullBool
	if f.IsActive != nil {
		active = sql.NullBool{Bool: *f.IsActive, Valid: true}
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `
		select count(*) from collections
		where deleted_at is null and ($1::boolean is null or is_active = $1)
	`, active).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+collectionColumns+` from collections
		where deleted_at is null and ($1::boolean is null or is_active = $1)
		order by sort_order, name
		limit $2 offset $3
	`, active, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []collections.Collection{}
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *CollectionStore) Create(ctx context.Context, c *collections.Collection) error {
	err := s.db.QueryRowContext(ctx, `
		insert into collections (name, slug, description, image, is_active, sort_order, created_by_admin_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning id
	`, c.Name, c.Slug, nullIfEmpty(c.Description), nullIfEmpty(c.Image), c.IsActive, c.SortOrder,
		nullInt64(c.CreatedByAdminID), createdAt(c.CreatedAt), createdAt(c.UpdatedAt)).Scan(&c.ID)
	return mapSlugError(err, c.Slug)
}

func (s *CollectionStore) Update(ctx context.Context, c *collections.Collection) error {
	res, err := s.db.ExecContext(ctx, `
		update collections set
			name = $2, slug = $3, description = $4, image = $5, is_active = $6, sort_order = $7,
			updated_at = $8, deleted_at = $9
		where id = $1
	`, c.ID, c.Name, c.Slug, nullIfEmpty(c.Description), nullIfEmpty(c.Image), c.IsActive, c.SortOrder,
		createdAt(c.UpdatedAt), nullTime(c.DeletedAt))
	if err != nil {
		return mapSlugError(err, c.Slug)
	}
	return affectedOne(res)
}

func mapSlugError(err error, slug string) error {
	if _, ok := isUniqueViolation(err); ok {
		return &auth.ConflictError{Field: "slug", Message: "Collection with slug '" + slug + "' already exists"}
	}
	return err
}
