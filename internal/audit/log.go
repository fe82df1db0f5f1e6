package audit

import (
	"context"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/ids"
)

// Sink persists audit entries and mirrors them to the structured log.
// Persistence failures are logged and swallowed so the primary action
// always proceeds.
type Sink struct {
	store auth.AuditStore
	log   zerolog.Logger
	now   func() time.Time
}

var _ auth.AuditSink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(s *Sink) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSink returns a Sink over store. A nil store only logs.
func NewSink(store auth.AuditStore, log zerolog.Logger, opts ...Option) *Sink {
	s := &Sink{store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record writes entry, enriched with the request id carried by ctx.
func (s *Sink) Record(ctx context.Context, entry auth.AuditEntry) {
	if entry.Action == "" {
		entry.Action = auth.AuditOther
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if rid := ids.RequestIDFromContext(ctx); rid != "" {
		extra := make(map[string]any, len(entry.ExtraData)+1)
		maps.Copy(extra, entry.ExtraData)
		extra["request_id"] = rid
		entry.ExtraData = extra
	}

	s.mirror(entry)

	if s.store == nil {
		return
	}
	if err := s.store.Append(context.WithoutCancel(ctx), &entry); err != nil {
		s.log.Error().Err(err).
			Str("type", "audit").
			Str("action", string(entry.Action)).
			Msg("audit write failed")
	}
}

func (s *Sink) mirror(e auth.AuditEntry) {
	ev := s.log.Info()
	if !e.Success {
		ev = s.log.Warn()
	}
	ev = ev.Str("type", "audit").
		Str("action", string(e.Action)).
		Bool("success", e.Success)
	if e.EntityType != "" {
		ev = ev.Str("entity_type", e.EntityType)
	}
	if e.EntityID != nil {
		ev = ev.Int64("entity_id", *e.EntityID)
	}
	if e.UserID != nil {
		ev = ev.Int64("user_id", *e.UserID)
	}
	if e.AdminID != nil {
		ev = ev.Int64("admin_id", *e.AdminID)
	}
	if e.IPAddress != "" {
		ev = ev.Str("ip", e.IPAddress)
	}
	if e.ErrorMessage != "" {
		ev = ev.Str("error_message", e.ErrorMessage)
	}
	if len(e.ExtraData) > 0 {
		ev = ev.Interface("extra", e.ExtraData)
	}
	ev.Msg(e.Description)
}

// Lister exposes the read side for operators.
type Lister struct {
	store auth.AuditStore
}

// NewLister wraps store for paginated listing.
func NewLister(store auth.AuditStore) *Lister {
	return &Lister{store: store}
}

// List returns entries newest first.
func (l *Lister) List(ctx context.Context, limit, offset int) ([]auth.AuditEntry, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.List(ctx, limit, offset)
}
