package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"gatehouse.dev/internal/auth"
)

// AuditStore appends to audit_logs. Rows are never updated.
type AuditStore struct {
	db *sql.DB
}

var _ auth.AuditStore = (*AuditStore)(nil)

func (s *AuditStore) Append(ctx context.Context, e *auth.AuditEntry) error {
	var extra []byte
	if len(e.ExtraData) > 0 {
		b, err := json.Marshal(e.ExtraData)
		if err != nil {
			return err
		}
		extra = b
	}
	return s.db.QueryRowContext(ctx, `
		insert into audit_logs (action, entity_type, entity_id, user_id, admin_id, ip_address, user_agent,
			description, extra_data, success, error_message, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		returning id
	`, string(e.Action), nullIfEmpty(e.EntityType), nullInt64(e.EntityID), nullInt64(e.UserID), nullInt64(e.AdminID),
		nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent), nullIfEmpty(e.Description), extra, e.Success,
		nullIfEmpty(e.ErrorMessage), createdAt(e.CreatedAt)).Scan(&e.ID)
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]auth.AuditEntry, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, action, entity_type, entity_id, user_id, admin_id, ip_address, user_agent,
			description, extra_data, success, error_message, created_at
		from audit_logs
		order by created_at desc, id desc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []auth.AuditEntry{}
	for rows.Next() {
		var (
			e                                auth.AuditEntry
			action                           string
			entityType, ip, ua, desc, errMsg sql.NullString
			entityID, userID, adminID        sql.NullInt64
			extra                            []byte
		)
		if err := rows.Scan(&e.ID, &action, &entityType, &entityID, &userID, &adminID, &ip, &ua,
			&desc, &extra, &e.Success, &errMsg, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Action = auth.AuditAction(action)
		e.EntityType = entityType.String
		e.EntityID = int64Ptr(entityID)
		e.UserID = int64Ptr(userID)
		e.AdminID = int64Ptr(adminID)
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		e.Description = desc.String
		e.ErrorMessage = errMsg.String
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &e.ExtraData); err != nil {
				return nil, 0, err
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
