package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/collections"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/settings"
)

const serviceName = "gatehouse"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Users       *auth.Service
	Admins      *auth.Service
	RBAC        *auth.RBACService
	Resolver    *auth.Resolver
	Collections *collections.Service
	Settings    *settings.Service
	AuditLog    *audit.Lister
	Ready       readinessChecker
}

// Options tune the middleware chain.
type Options struct {
	Version      string
	RatePerSec   float64
	RateBurst    int
	CORSOrigins  []string
	TrustProxy   bool
	MaxBodyBytes int64
	UploadDir    string
	Logger       zerolog.Logger
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps
	opts Options
	log  zerolog.Logger
}

func New(deps Deps, opts Options) (*API, error) {
	if deps.Users == nil || deps.Admins == nil {
		return nil, errors.New("user and admin services are required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("permission resolver is required")
	}
	if deps.Ready == nil {
		deps.Ready = ReadyProbe{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 12 << 20
	}
	a := &API{
		mux:  http.NewServeMux(),
		deps: deps,
		opts: opts,
		log:  opts.Logger,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	m := a.mux

	m.HandleFunc("GET /healthz", a.Healthz)
	m.HandleFunc("GET /readyz", a.Ready)
	m.HandleFunc("GET /v1/info", a.Info)
	m.Handle("GET /metrics", obs.Handler())
	if a.opts.UploadDir != "" {
		m.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(a.opts.UploadDir))))
	}

	users, admins := a.deps.Users, a.deps.Admins

	// users
	m.HandleFunc("POST /v1/users/register", a.handleRegister(users))
	m.HandleFunc("POST /v1/users/login", a.handleLogin(users))
	m.Handle("GET /v1/users/me", a.authenticated(users, http.HandlerFunc(a.handleMe)))
	m.Handle("PUT /v1/users/me", a.authenticated(users, a.handleUpdateMe(users)))
	m.Handle("DELETE /v1/users/me", a.authenticated(users, http.HandlerFunc(a.handleDeleteMe(users))))

	// admin accounts
	m.HandleFunc("POST /v1/admin/login", a.handleLogin(admins))
	m.Handle("GET /v1/admin/me", a.authenticated(admins, http.HandlerFunc(a.handleMe)))
	m.Handle("PUT /v1/admin/me", a.authenticated(admins, a.handleUpdateMe(admins)))
	m.Handle("GET /v1/admin/admins", a.admin(auth.ResourceAdmins, auth.ActionRead, a.handleListPrincipals(admins)))
	m.Handle("POST /v1/admin/admins", a.admin(auth.ResourceAdmins, auth.ActionCreate, a.handleRegister(admins)))
	m.Handle("PUT /v1/admin/admins/{id}", a.admin(auth.ResourceAdmins, auth.ActionUpdate, a.handleUpdatePrincipal(admins)))

	// user management
	m.Handle("GET /v1/admin/users", a.admin(auth.ResourceUsers, auth.ActionRead, a.handleListPrincipals(users)))
	m.Handle("GET /v1/admin/users/{id}", a.admin(auth.ResourceUsers, auth.ActionRead, a.handleGetPrincipal(users)))
	m.Handle("PUT /v1/admin/users/{id}", a.admin(auth.ResourceUsers, auth.ActionUpdate, a.handleUpdatePrincipal(users)))
	m.Handle("PATCH /v1/admin/users/{id}/activate", a.admin(auth.ResourceUsers, auth.ActionUpdate, a.handleSetActive(users, true)))
	m.Handle("PATCH /v1/admin/users/{id}/block", a.admin(auth.ResourceUsers, auth.ActionUpdate, a.handleSetActive(users, false)))
	m.Handle("PATCH /v1/admin/users/{id}/unlock", a.admin(auth.ResourceUsers, auth.ActionUpdate, a.handleUnlock(users)))

	// roles and permissions
	if a.deps.RBAC != nil {
		m.Handle("GET /v1/admin/permissions", a.admin(auth.ResourceRoles, auth.ActionRead, a.handleListPermissions))
		m.Handle("GET /v1/admin/roles", a.admin(auth.ResourceRoles, auth.ActionRead, a.handleListRoles))
		m.Handle("POST /v1/admin/roles", a.admin(auth.ResourceRoles, auth.ActionCreate, a.handleCreateRole))
		m.Handle("GET /v1/admin/roles/{id}", a.admin(auth.ResourceRoles, auth.ActionRead, a.handleGetRole))
		m.Handle("PUT /v1/admin/roles/{id}/permissions", a.admin(auth.ResourceRoles, auth.ActionUpdate, a.handleSetRolePermissions))
		m.Handle("POST /v1/admin/admins/{id}/roles", a.admin(auth.ResourceRoles, auth.ActionUpdate, a.handleAssignRoles))
	}

	// collections
	if a.deps.Collections != nil {
		m.Handle("GET /v1/admin/collections", a.admin(auth.ResourceCollections, auth.ActionRead, a.handleListCollections))
		m.Handle("POST /v1/admin/collections", a.admin(auth.ResourceCollections, auth.ActionCreate, a.handleCreateCollection))
		m.Handle("GET /v1/admin/collections/{id}", a.admin(auth.ResourceCollections, auth.ActionRead, a.handleGetCollection))
		m.Handle("PUT /v1/admin/collections/{id}", a.admin(auth.ResourceCollections, auth.ActionUpdate, a.handleUpdateCollection))
		m.Handle("DELETE /v1/admin/collections/{id}", a.admin(auth.ResourceCollections, auth.ActionDelete, a.handleDeleteCollection))
	}

	// settings
	if a.deps.Settings != nil {
		m.HandleFunc("GET /v1/settings/public", a.handlePublicSettings)
		m.Handle("GET /v1/admin/settings", a.admin(auth.ResourceSettings, auth.ActionRead, a.handleListSettings))
		m.Handle("PUT /v1/admin/settings", a.admin(auth.ResourceSettings, auth.ActionUpdate, a.handleBulkSettings))
		m.Handle("GET /v1/admin/settings/{key}", a.admin(auth.ResourceSettings, auth.ActionRead, a.handleGetSetting))
		m.Handle("PUT /v1/admin/settings/{key}", a.admin(auth.ResourceSettings, auth.ActionUpdate, a.handlePutSetting))
		m.Handle("DELETE /v1/admin/settings/{key}", a.admin(auth.ResourceSettings, auth.ActionDelete, a.handleDeleteSetting))
	}

	if a.deps.AuditLog != nil {
		m.Handle("GET /v1/admin/audit-logs", a.admin(auth.ResourceAuditLogs, auth.ActionRead, a.handleListAudit))
	}

	m.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	})
}

// Handler wraps the mux in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h, a.opts.CORSOrigins)
	h = SecurityHeaders(h)
	if a.opts.RatePerSec > 0 && a.opts.RateBurst > 0 {
		h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec, a.opts.TrustProxy)
	}
	h = LoggingJSON(h, a.opts.TrustProxy)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
