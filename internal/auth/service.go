package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultFailureDelay = 500 * time.Millisecond
	minPasswordLength   = 8
	maxUsernameLength   = 50
	maxNameLength       = 100
	maxEmailLength      = 100
	maxPhoneLength      = 20
)

// Service runs registration and login for one principal kind.
type Service struct {
	store   PrincipalStore
	tokens  *TokenCodec
	hasher  *Hasher
	limiter *RateLimiter
	lockout *LockoutTracker
	audit   AuditSink
	uploads Uploader
	log     zerolog.Logger

	now          func() time.Time
	sleep        func(time.Duration)
	failureDelay time.Duration
	maxAttempts  int
	lockDuration time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithHasher overrides the credential hasher.
func WithHasher(h *Hasher) ServiceOption {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithRateLimiter enables per-address login throttling.
func WithRateLimiter(l *RateLimiter) ServiceOption {
	return func(s *Service) { s.limiter = l }
}

// WithLockout configures the lockout threshold and duration.
func WithLockout(maxAttempts int, duration time.Duration) ServiceOption {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if duration > 0 {
			s.lockDuration = duration
		}
	}
}

// WithAuditSink sets where login and registration outcomes are recorded.
func WithAuditSink(a AuditSink) ServiceOption {
	return func(s *Service) { s.audit = a }
}

// WithUploader sets the avatar upload collaborator.
func WithUploader(u Uploader) ServiceOption {
	return func(s *Service) { s.uploads = u }
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithFailureDelay sets the pause applied to unknown-principal and
// wrong-password rejections.
func WithFailureDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.failureDelay = d
		}
	}
}

// WithSleep overrides how the failure delay is served.
func WithSleep(fn func(time.Duration)) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// NewService constructs a Service over store, issuing tokens with tokens.
func NewService(store PrincipalStore, tokens *TokenCodec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: principal store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token codec is required")
	}
	s := &Service{
		store:        store,
		tokens:       tokens,
		hasher:       NewHasher(DefaultHashParams()),
		log:          zerolog.Nop(),
		now:          time.Now,
		sleep:        time.Sleep,
		failureDelay: defaultFailureDelay,
		maxAttempts:  5,
		lockDuration: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lockout = NewLockoutTracker(store, s.maxAttempts, s.lockDuration, s.now)
	s.log = s.log.With().Str("component", "auth").Str("kind", string(store.Kind())).Logger()
	return s, nil
}

// Kind returns the principal kind served.
func (s *Service) Kind() Kind { return s.store.Kind() }

// Hasher returns the credential hasher.
func (s *Service) Hasher() *Hasher { return s.hasher }

// LoginRequest carries credentials and client metadata.
type LoginRequest struct {
	Identifier string
	Password   string
	ClientIP   string
	UserAgent  string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Principal *Principal
}

// Login authenticates identifier (username or email) and password.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if s.limiter != nil {
		if ok, retry := s.limiter.Allow(req.ClientIP); !ok {
			s.log.Warn().Str("ip", req.ClientIP).Msg("login rate limited")
			s.recordLogin(ctx, req, nil, false, "Rate limit exceeded")
			return LoginResult{}, &RateLimitError{RetryAfter: retry}
		}
	}

	p, err := s.store.FindByUsernameOrEmail(ctx, strings.TrimSpace(req.Identifier), false)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error().Err(err).Msg("principal lookup failed")
			s.recordLogin(ctx, req, nil, false, "Internal error")
			return LoginResult{}, fmt.Errorf("lookup principal: %w", err)
		}
		s.sleep(s.failureDelay)
		s.recordLogin(ctx, req, nil, false, s.Kind().label()+" not found")
		return LoginResult{}, ErrInvalidCredentials
	}

	now := s.now()
	if s.lockout.IsLocked(p, now) {
		s.log.Warn().Int64("id", p.ID).Msg("login rejected: account locked")
		s.recordLogin(ctx, req, p, false, "Account locked until "+p.LockedUntil.UTC().Format(time.RFC3339))
		return LoginResult{}, &LockedError{Kind: s.Kind(), Remaining: s.lockout.Remaining(p, now)}
	}

	if !s.hasher.Verify(req.Password, p.PasswordHash) {
		tripped, err := s.lockout.RecordFailure(ctx, p)
		if err != nil {
			s.log.Error().Err(err).Int64("id", p.ID).Msg("record failed attempt")
			s.recordLogin(ctx, req, p, false, "Internal error")
			return LoginResult{}, err
		}
		if tripped {
			s.log.Warn().Int64("id", p.ID).Int("attempts", p.FailedAttempts).Msg("account locked after repeated failures")
		}
		s.sleep(s.failureDelay)
		s.recordLogin(ctx, req, p, false, "Invalid password")
		return LoginResult{}, ErrInvalidCredentials
	}

	if !p.IsActive {
		s.recordLogin(ctx, req, p, false, "Account inactive")
		return LoginResult{}, ErrAccountInactive
	}

	if err := s.lockout.RecordSuccess(ctx, p); err != nil {
		s.log.Error().Err(err).Int64("id", p.ID).Msg("reset failed attempts")
		s.recordLogin(ctx, req, p, false, "Internal error")
		return LoginResult{}, err
	}

	token, exp, err := s.tokens.Issue(p.Username, p.ID)
	if err != nil {
		s.log.Error().Err(err).Int64("id", p.ID).Msg("token issuance failed")
		s.recordLogin(ctx, req, p, false, "Token issuance failed")
		return LoginResult{}, err
	}
	s.recordLogin(ctx, req, p, true, "")
	return LoginResult{Token: token, ExpiresAt: exp, Principal: p}, nil
}

func (s *Service) recordLogin(ctx context.Context, req LoginRequest, p *Principal, success bool, errMsg string) {
	var id int64
	if p != nil {
		id = p.ID
	}
	entry := AuditEntry{
		Action:       AuditLogin,
		EntityType:   string(s.Kind()),
		EntityID:     Int64(id),
		IPAddress:    req.ClientIP,
		UserAgent:    req.UserAgent,
		Description:  s.Kind().label() + " login attempt",
		Success:      success,
		ErrorMessage: errMsg,
	}
	s.setActor(&entry, id)
	s.record(ctx, entry)
}

func (s *Service) setActor(entry *AuditEntry, id int64) {
	switch s.Kind() {
	case KindUser:
		entry.UserID = Int64(id)
	case KindAdmin:
		entry.AdminID = Int64(id)
	}
}

func (s *Service) record(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, entry)
}

// Registration is the input to Register. Phone and Avatar are optional.
type Registration struct {
	Username  string
	Name      string
	Email     string
	Phone     string
	Password  string
	Avatar    *Upload
	ClientIP  string
	UserAgent string
}

// Register creates a principal after checking username, email and phone
// uniqueness in that order.
func (s *Service) Register(ctx context.Context, reg Registration) (*Principal, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.TrimSpace(reg.Email)
	reg.Phone = strings.TrimSpace(reg.Phone)
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}

	if err := s.ensureFree(ctx, s.store.FindByUsername, reg.Username, "username", "Username already exists"); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, s.store.FindByEmail, reg.Email, "email", "Email already exists"); err != nil {
		return nil, err
	}
	if reg.Phone != "" {
		if err := s.ensureFree(ctx, s.store.FindByPhone, reg.Phone, "phone", "Phone number already exists"); err != nil {
			return nil, err
		}
	}

	var avatar string
	if reg.Avatar != nil {
		if s.uploads == nil {
			return nil, fmt.Errorf("%w: avatar uploads are not configured", ErrInvalidInput)
		}
		name, err := s.uploads.SaveImage(ctx, *reg.Avatar)
		if err != nil {
			return nil, err
		}
		avatar = name
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	p := &Principal{
		Kind:         s.Kind(),
		Username:     reg.Username,
		Name:         reg.Name,
		Email:        reg.Email,
		Phone:        reg.Phone,
		PasswordHash: hash,
		Avatar:       avatar,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	entry := AuditEntry{
		Action:      AuditRegister,
		EntityType:  string(s.Kind()),
		EntityID:    Int64(p.ID),
		IPAddress:   reg.ClientIP,
		UserAgent:   reg.UserAgent,
		Description: fmt.Sprintf("%s '%s' registered", s.Kind().label(), p.Username),
		Success:     true,
	}
	s.setActor(&entry, p.ID)
	s.record(ctx, entry)
	s.log.Info().Int64("id", p.ID).Str("username", p.Username).Msg("principal registered")
	return p, nil
}

type finder func(ctx context.Context, value string, includeDeleted bool) (*Principal, error)

func (s *Service) ensureFree(ctx context.Context, find finder, value, field, message string) error {
	_, err := find(ctx, value, false)
	switch {
	case err == nil:
		return newConflict(field, message)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check %s: %w", field, err)
	}
}

func validateRegistration(reg Registration) error {
	switch {
	case reg.Username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	case len(reg.Username) > maxUsernameLength:
		return fmt.Errorf("%w: username must be at most %d characters", ErrInvalidInput, maxUsernameLength)
	case reg.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case len(reg.Name) > maxNameLength:
		return fmt.Errorf("%w: name must be at most %d characters", ErrInvalidInput, maxNameLength)
	case reg.Email == "" || !strings.Contains(reg.Email, "@"):
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	case len(reg.Email) > maxEmailLength:
		return fmt.Errorf("%w: email must be at most %d characters", ErrInvalidInput, maxEmailLength)
	case len(reg.Phone) > maxPhoneLength:
		return fmt.Errorf("%w: phone must be at most %d characters", ErrInvalidInput, maxPhoneLength)
	case len(reg.Password) < minPasswordLength:
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}

// Authenticate resolves a bearer token to an active, non-deleted principal.
// The token must name both the row id and the username it was issued for.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	p, err := s.store.FindByID(ctx, claims.PrincipalID, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}
	if p.Username != claims.Subject || !p.IsActive {
		return nil, ErrInvalidToken
	}
	return p, nil
}

// Get returns a non-deleted principal by id.
func (s *Service) Get(ctx context.Context, id int64) (*Principal, error) {
	return s.store.FindByID(ctx, id, false)
}

// List pages through non-deleted principals.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Principal, int, error) {
	if limit <= 0 || limit > 1000 {
		return nil, 0, fmt.Errorf("%w: limit must be between 1 and 1000", ErrInvalidInput)
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset must not be negative", ErrInvalidInput)
	}
	return s.store.List(ctx, limit, offset)
}

// SetActive flips the administrative active flag on behalf of actor.
// Lockout counters are left untouched.
func (s *Service) SetActive(ctx context.Context, actor *Principal, id int64, active bool) (*Principal, error) {
	p, err := s.store.FindByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if p.IsActive != active {
		p.IsActive = active
		if err := s.store.Save(ctx, p); err != nil {
			return nil, err
		}
	}
	action, verb := AuditActivate, "activated"
	if !active {
		action, verb = AuditBlock, "blocked"
	}
	s.recordAdmin(ctx, actor, action, p, verb)
	return p, nil
}

// Unlock clears any lockout on the principal.
func (s *Service) Unlock(ctx context.Context, actor *Principal, id int64) (*Principal, error) {
	p, err := s.store.FindByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if err := s.lockout.Unlock(ctx, p); err != nil {
		return nil, err
	}
	s.recordAdmin(ctx, actor, AuditUnblock, p, "unlocked")
	return p, nil
}

// SoftDelete marks the principal deleted. It can no longer authenticate and
// its unique fields become available again.
func (s *Service) SoftDelete(ctx context.Context, actor *Principal, id int64) error {
	p, err := s.store.FindByID(ctx, id, false)
	if err != nil {
		return err
	}
	at := s.now().UTC()
	p.DeletedAt = &at
	if err := s.store.Save(ctx, p); err != nil {
		return err
	}
	s.recordAdmin(ctx, actor, AuditSoftDelete, p, "deleted")
	return nil
}

// recordAdmin audits an administrative change to target made by actor,
// which may be the target itself.
func (s *Service) recordAdmin(ctx context.Context, actor *Principal, action AuditAction, target *Principal, verb string) {
	entry := AuditEntry{
		Action:      action,
		EntityType:  string(s.Kind()),
		EntityID:    Int64(target.ID),
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
