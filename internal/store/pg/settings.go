package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/settings"
)

// SettingStore persists key/value settings.
type SettingStore struct {
	db *sql.DB
}

var _ settings.Store = (*SettingStore)(nil)

const settingColumns = `id, key, value, description, is_public, is_encrypted, created_at, updated_at`

func scanSetting(row scanner) (*settings.Setting, error) {
	var (
		st   settings.Setting
		desc sql.NullString
	)
	if err := row.Scan(&st.ID, &st.Key, &st.Value, &desc, &st.IsPublic, &st.IsEncrypted, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Description = desc.String
	return &st, nil
}

func (s *SettingStore) Get(ctx context.Context, key string) (*settings.Setting, error) {
	st, err := scanSetting(s.db.QueryRowContext(ctx, `select `+settingColumns+` from settings where key = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return st, err
}

func (s *SettingStore) List(ctx context.Context, publicOnly bool) ([]settings.Setting, error) {
	query := `select ` + settingColumns + ` from settings`
	if publicOnly {
		query += ` where is_public`
	}
	rows, err := s.db.QueryContext(ctx, query+` order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []settings.Setting{}
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// Upsert writes the row keyed by Key and fills ID and CreatedAt from the stored row.
func (s *SettingStore) Upsert(ctx context.Context, st *settings.Setting) error {
	return s.db.QueryRowContext(ctx, `
		insert into settings (key, value, description, is_public, is_encrypted, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (key) do update set
			value = excluded.value,
			description = excluded.description,
			is_public = excluded.is_public,
			is_encrypted = excluded.is_encrypted,
			updated_at = excluded.updated_at
		returning id, created_at
	`, st.Key, st.Value, nullIfEmpty(st.Description), st.IsPublic, st.IsEncrypted,
		createdAt(st.CreatedAt), createdAt(st.UpdatedAt)).Scan(&st.ID, &st.CreatedAt)
}

func (s *SettingStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from settings where key = $1`, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
