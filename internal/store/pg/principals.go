package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.dev/internal/auth"
)

const principalColumns = `id, username, name, email, phone, password_hash, avatar, is_active,
	failed_login_attempts, locked_until, created_at, deleted_at`

// PrincipalStore persists one principal kind in its own table.
type PrincipalStore struct {
	db    *sql.DB
	table string
	kind  auth.Kind
}

var _ auth.PrincipalStore = (*PrincipalStore)(nil)

func (s *PrincipalStore) Kind() auth.Kind { return s.kind }

func (s *PrincipalStore) scan(row scanner) (*auth.Principal, error) {
	var (
		p       auth.Principal
		phone   sql.NullString
		avatar  sql.NullString
		locked  sql.NullTime
		deleted sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Username, &p.Name, &p.Email, &phone, &p.PasswordHash, &avatar, &p.IsActive,
		&p.FailedAttempts, &locked, &p.CreatedAt, &deleted); err != nil {
		return nil, err
	}
	p.Kind = s.kind
	p.Phone = phone.String
	p.Avatar = avatar.String
	p.LockedUntil = timePtr(locked)
	p.DeletedAt = timePtr(deleted)
	return &p, nil
}

func (s *PrincipalStore) findOne(ctx context.Context, where string, includeDeleted bool, args ...any) (*auth.Principal, error) {
	query := fmt.Sprintf(`select %s from %s where %s`, principalColumns, s.table, where)
	if !includeDeleted {
		query += ` and deleted_at is null`
	}
	query += ` order by id limit 1`
	p, err := s.scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return p, err
}

func (s *PrincipalStore) FindByID(ctx context.Context, id int64, includeDeleted bool) (*auth.Principal, error) {
	return s.findOne(ctx, `id = $1`, includeDeleted, id)
}

func (s *PrincipalStore) FindByUsername(ctx context.Context, username string, includeDeleted bool) (*auth.Principal, error) {
	return s.findOne(ctx, `username = $1`, includeDeleted, username)
}

func (s *PrincipalStore) FindByEmail(ctx context.Context, email string, includeDeleted bool) (*auth.Principal, error) {
	return s.findOne(ctx, `email = $1`, includeDeleted, email)
}

func (s *PrincipalStore) FindByPhone(ctx context.Context, phone string, includeDeleted bool) (*auth.Principal, error) {
	if phone == "" {
		return nil, auth.ErrNotFound
	}
	return s.findOne(ctx, `phone = $1`, includeDeleted, phone)
}

func (s *PrincipalStore) FindByUsernameOrEmail(ctx context.Context, identifier string, includeDeleted bool) (*auth.Principal, error) {
	if identifier == "" {
		return nil, auth.ErrNotFound
	}
	return s.findOne(ctx, `(username = $1 or email = $1)`, includeDeleted, identifier)
}

func (s *PrincipalStore) List(ctx context.Context, limit, offset int) ([]*auth.Principal, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`select count(*) from %s where deleted_at is null`, s.table)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select %s from %s
		where deleted_at is null
		order by id
		limit $1 offset $2
	`, principalColumns, s.table), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []*auth.Principal{}
	for rows.Next() {
		p, err := s.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PrincipalStore) Create(ctx context.Context, p *auth.Principal) error {
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		insert into %s (username, name, email, phone, password_hash, avatar, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning id, created_at
	`, s.table), p.Username, p.Name, p.Email, nullIfEmpty(p.Phone), p.PasswordHash, nullIfEmpty(p.Avatar),
		p.IsActive, createdAt(p.CreatedAt)).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return s.mapError(err)
	}
	p.Kind = s.kind
	return nil
}

func (s *PrincipalStore) Save(ctx context.Context, p *auth.Principal) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		update %s set
			username = $2, name = $3, email = $4, phone = $5, password_hash = $6, avatar = $7,
			is_active = $8, failed_login_attempts = $9, locked_until = $10, deleted_at = $11
		where id = $1
	`, s.table), p.ID, p.Username, p.Name, p.Email, nullIfEmpty(p.Phone), p.PasswordHash, nullIfEmpty(p.Avatar),
		p.IsActive, p.FailedAttempts, nullTime(p.LockedUntil), nullTime(p.DeletedAt))
	if err != nil {
		return s.mapError(err)
	}
	return affectedOne(res)
}

func (s *PrincipalStore) IncrementFailedAttempts(ctx context.Context, id int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		update %s set failed_login_attempts = failed_login_attempts + 1
		where id = $1
		returning failed_login_attempts
	`, s.table), id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrNotFound
	}
	return count, err
}

func (s *PrincipalStore) ResetFailedAttempts(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		update %s set failed_login_attempts = 0, locked_until = null
		where id = $1
	`, s.table), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (s *PrincipalStore) SetLockedUntil(ctx context.Context, id int64, until *time.Time) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`update %s set locked_until = $2 where id = $1`, s.table), id, nullTime(until))
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// mapError turns unique violations on the partial indexes into the same
// conflict errors the service raises.
func (s *PrincipalStore) mapError(err error) error {
	pgErr, ok := isUniqueViolation(err)
	if !ok {
		return err
	}
	switch c := pgErr.ConstraintName; {
	case strings.Contains(c, "username"):
		return &auth.ConflictError{Field: "username", Message: "Username already exists"}
	case strings.Contains(c, "email"):
		return &auth.ConflictError{Field: "email", Message: "Email already exists"}
	case strings.Contains(c, "phone"):
		return &auth.ConflictError{Field: "phone", Message: "Phone number already exists"}
	}
	return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
