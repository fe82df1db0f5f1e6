package auth

import (
	"context"
	"fmt"
	"strings"
)

// ProfileUpdate carries a partial change to a principal. Nil fields are left
// as they are; an empty Phone clears it.
type ProfileUpdate struct {
	Name      *string
	Email     *string
	Phone     *string
	Password  *string
	IsActive  *bool
	Avatar    *Upload
	ClientIP  string
	UserAgent string
}

func (u ProfileUpdate) empty() bool {
	return u.Name == nil && u.Email == nil && u.Phone == nil &&
		u.Password == nil && u.IsActive == nil && u.Avatar == nil
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func validateUpdate(u ProfileUpdate) error {
	switch {
	case u.Name != nil && *u.Name == "":
		return fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	case u.Name != nil && len(*u.Name) > maxNameLength:
		return fmt.Errorf("%w: name must be at most %d characters", ErrInvalidInput, maxNameLength)
	case u.Email != nil && (*u.Email == "" || !strings.Contains(*u.Email, "@")):
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	case u.Email != nil && len(*u.Email) > maxEmailLength:
		return fmt.Errorf("%w: email must be at most %d characters", ErrInvalidInput, maxEmailLength)
	case u.Phone != nil && len(*u.Phone) > maxPhoneLength:
		return fmt.Errorf("%w: phone must be at most %d characters", ErrInvalidInput, maxPhoneLength)
	case u.Password != nil && len(*u.Password) < minPasswordLength:
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}

// Update applies upd to the principal with id on behalf of actor, which is
// the principal itself for self-service edits. Email and phone are re-checked
// against other live rows; a new password is rehashed and audited separately.
func (s *Service) Update(ctx context.Context, actor *Principal, id int64, upd ProfileUpdate) (*Principal, error) {
	upd.Name, upd.Email, upd.Phone = trimPtr(upd.Name), trimPtr(upd.Email), trimPtr(upd.Phone)
	if err := validateUpdate(upd); err != nil {
		return nil, err
	}
	p, err := s.store.FindByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if upd.empty() {
		return p, nil
	}

	if upd.Email != nil && *upd.Email != p.Email {
		if err := s.ensureFree(ctx, s.store.FindByEmail, *upd.Email, "email", "Email already exists"); err != nil {
			return nil, err
		}
	}
	if upd.Phone != nil && *upd.Phone != "" && *upd.Phone != p.Phone {
		if err := s.ensureFree(ctx, s.store.FindByPhone, *upd.Phone, "phone", "Phone number already exists"); err != nil {
			return nil, err
		}
	}

	if upd.Avatar != nil {
		if s.uploads == nil {
			return nil, fmt.Errorf("%w: avatar uploads are not configured", ErrInvalidInput)
		}
		name, err := s.uploads.SaveImage(ctx, *upd.Avatar)
		if err != nil {
			return nil, err
		}
		p.Avatar = name
	}
	if upd.Password != nil {
		hash, err := s.hasher.Hash(*upd.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		p.PasswordHash = hash
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Email != nil {
		p.Email = *upd.Email
	}
	if upd.Phone != nil {
		p.Phone = *upd.Phone
	}
	if upd.IsActive != nil {
		p.IsActive = *upd.IsActive
	}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, err
	}

	s.recordUpdate(ctx, actor, AuditUpdate, p, upd, "updated")
	if upd.Password != nil {
		s.recordUpdate(ctx, actor, AuditPasswordChange, p, upd, "changed password")
	}
	s.log.Info().Int64("id", p.ID).Bool("password", upd.Password != nil).Msg("principal updated")
	return p, nil
}

func (s *Service) recordUpdate(ctx context.Context, actor *Principal, action AuditAction, target *Principal, upd ProfileUpdate, verb string) {
	entry := AuditEntry{
		Action:      action,
		EntityType:  string(s.Kind()),
		EntityID:    Int64(target.ID),
		IPAddress:   upd.ClientIP,
		UserAgent:   upd.UserAgent,
		Description: fmt.Sprintf("%s '%s' %s", s.Kind().label(), target.Username, verb),
		Success:     true,
	}
	if actor != nil {
		switch actor.Kind {
		case KindAdmin:
			entry.AdminID = Int64(actor.ID)
		case KindUser:
			entry.UserID = Int64(actor.ID)
		}
	}
	s.record(ctx, entry)
}
