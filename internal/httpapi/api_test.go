package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/collections"
	"gatehouse.dev/internal/settings"
)

const testPassword = "correct-horse"

type stubUploader struct{ name string }

func (u stubUploader) SaveImage(_ context.Context, up auth.Upload) (string, error) {
	_, _ = io.Copy(io.Discard, up.Body)
	return u.name, nil
}

type apiEnv struct {
	t       *testing.T
	handler http.Handler
	users   *auth.Service
	admins  *auth.Service
	rbac    *auth.RBACService
	audit   *auth.MemoryAuditStore
}

func newAPIEnv(t *testing.T, userOpts ...auth.ServiceOption) *apiEnv {
	t.Helper()
	ctx := context.Background()

	hasher := auth.NewHasher(auth.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1})
	auditStore := auth.NewMemoryAuditStore()
	sink := audit.NewSink(auditStore, zerolog.Nop())

	codec := func(issuer string) *auth.TokenCodec {
		c, err := auth.NewTokenCodec("test-secret", time.Hour, auth.WithTokenIssuer(issuer))
		require.NoError(t, err)
		return c
	}
	base := []auth.ServiceOption{
		auth.WithHasher(hasher),
		auth.WithFailureDelay(0),
		auth.WithAuditSink(sink),
		auth.WithUploader(stubUploader{name: "avatar.png"}),
	}
	users, err := auth.NewService(auth.NewMemoryPrincipalStore(auth.KindUser), codec("gatehouse-user"), append(base, userOpts...)...)
	require.NoError(t, err)
	admins, err := auth.NewService(auth.NewMemoryPrincipalStore(auth.KindAdmin), codec("gatehouse-admin"), base...)
	require.NoError(t, err)

	roles := auth.NewMemoryRoleStore()
	rbac, err := auth.NewRBACService(roles)
	require.NoError(t, err)
	super, err := rbac.Seed(ctx)
	require.NoError(t, err)

	root, err := admins.Register(ctx, auth.Registration{Username: "root", Name: "Root", Email: "root@example.com", Password: testPassword})
	require.NoError(t, err)
	require.NoError(t, rbac.AssignRoles(ctx, root.ID, []int64{super.ID}))
	_, err = admins.Register(ctx, auth.Registration{Username: "viewer", Name: "Viewer", Email: "viewer@example.com", Password: testPassword})
	require.NoError(t, err)

	api, err := New(Deps{
		Users:       users,
		Admins:      admins,
		RBAC:        rbac,
		Resolver:    auth.NewResolver(roles),
		Collections: collections.NewService(collections.NewMemoryStore(), sink, nil),
		Settings:    settings.NewService(settings.NewMemoryStore(), sink),
		AuditLog:    audit.NewLister(auditStore),
	}, Options{Version: "test"})
	require.NoError(t, err)

	return &apiEnv{t: t, handler: api.Handler(), users: users, admins: admins, rbac: rbac, audit: auditStore}
}

func (e *apiEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "192.0.2.10:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *apiEnv) login(path, identifier string) string {
	e.t.Helper()
	rr := e.do(http.MethodPost, path, "", map[string]string{"identifier": identifier, "password": testPassword})
	require.Equal(e.t, http.StatusOK, rr.Code, rr.Body.String())
	var tok tokenResponse
	require.NoError(e.t, json.Unmarshal(rr.Body.Bytes(), &tok))
	require.Equal(e.t, "bearer", tok.TokenType)
	require.NotEmpty(e.t, tok.AccessToken)
	return tok.AccessToken
}

func (e *apiEnv) registerUser(username string) {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/v1/users/register", "", map[string]string{
		"username": username,
		"name":     username,
		"email":    username + "@example.com",
		"password": testPassword,
	})
	require.Equal(e.t, http.StatusCreated, rr.Code, rr.Body.String())
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func requireError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	require.Equal(t, status, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	require.Equal(t, code, body["code"])
	require.NotEmpty(t, body["request_id"])
	return body
}

func TestUserRegisterLoginMe(t *testing.T) {
	env := newAPIEnv(t)
	env.registerUser("alice")

	rr := env.do(http.MethodPost, "/v1/users/register", "", map[string]string{
		"username": "alice", "name": "Alice", "email": "other@example.com", "password": testPassword,
	})
	body := requireError(t, rr, http.StatusConflict, codeConflict)
	require.Equal(t, "Username already exists", body["error"])

	token := env.login("/v1/users/login", "alice@example.com")

	rr = env.do(http.MethodGet, "/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	me := decodeBody(t, rr)
	require.Equal(t, "alice", me["username"])
	require.NotContains(t, me, "PasswordHash")

	rr = env.do(http.MethodGet, "/v1/users/me", "", nil)
	requireError(t, rr, http.StatusUnauthorized, codeUnauthorized)
	require.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	rr = env.do(http.MethodPost, "/v1/users/login", "", map[string]string{"identifier": "alice", "password": "wrong-password"})
	body = requireError(t, rr, http.StatusUnauthorized, codeInvalidCredentials)
	require.Equal(t, "Invalid credentials", body["error"])
}

func TestRegisterValidationAndUnknownFields(t *testing.T) {
	env := newAPIEnv(t)

	rr := env.do(http.MethodPost, "/v1/users/register", "", map[string]string{
		"username": "bob", "name": "Bob", "email": "bob@example.com", "password": "short",
	})
	body := requireError(t, rr, http.StatusBadRequest, codeValidation)
	require.Equal(t, "password must be at least 8 characters", body["error"])

	rr = env.do(http.MethodPost, "/v1/users/register", "", map[string]string{"username": "bob", "role": "admin"})
	requireError(t, rr, http.StatusBadRequest, codeValidation)
}

func TestRegisterMultipartAvatar(t *testing.T) {
	env := newAPIEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"username": "carol", "name": "Carol", "email": "carol@example.com", "password": testPassword} {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("\x89PNG\r\n\x1a\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/users/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, "avatar.png", decodeBody(t, rr)["avatar"])
}

func TestTokensDoNotCrossPrincipalKinds(t *testing.T) {
	env := newAPIEnv(t)
	// a user sharing the admin's username must not reach admin routes
	env.registerUser("root")
	userToken := env.login("/v1/users/login", "root")

	rr := env.do(http.MethodGet, "/v1/admin/me", userToken, nil)
	requireError(t, rr, http.StatusUnauthorized, codeUnauthorized)

	adminToken := env.login("/v1/admin/login", "root")
	rr = env.do(http.MethodGet, "/v1/users/me", adminToken, nil)
	requireError(t, rr, http.StatusUnauthorized, codeUnauthorized)
}

func TestLockoutAndAdminUnlock(t *testing.T) {
	env := newAPIEnv(t, auth.WithLockout(2, 30*time.Minute))
	env.registerUser("dave")

	for i := 0; i < 2; i++ {
		rr := env.do(http.MethodPost, "/v1/users/login", "", map[string]string{"identifier": "dave", "password": "wrong-password"})
		requireError(t, rr, http.StatusUnauthorized, codeInvalidCredentials)
	}
	rr := env.do(http.MethodPost, "/v1/users/login", "", map[string]string{"identifier": "dave", "password": testPassword})
	body := requireError(t, rr, http.StatusUnauthorized, codeAccountLocked)
	require.Contains(t, body["error"], "Please try again in")

	adminToken := env.login("/v1/admin/login", "root")
	list := env.do(http.MethodGet, "/v1/admin/users?limit=10", adminToken, nil)
	require.Equal(t, http.StatusOK, list.Code)
	items := decodeBody(t, list)["items"].([]any)
	require.Len(t, items, 1)
	id := int64(items[0].(map[string]any)["id"].(float64))

	rr = env.do(http.MethodPatch, "/v1/admin/users/"+itoa(id)+"/unlock", adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	env.login("/v1/users/login", "dave")

	unblocks := env.audit.Filter(auth.AuditUnblock)
	require.Len(t, unblocks, 1)
	require.NotNil(t, unblocks[0].AdminID)
}

func TestBlockedUserIsInactive(t *testing.T) {
	env := newAPIEnv(t)
	env.registerUser("erin")
	adminToken := env.login("/v1/admin/login", "root")

	rr := env.do(http.MethodPatch, "/v1/admin/users/1/block", adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, false, decodeBody(t, rr)["is_active"])

	rr = env.do(http.MethodPost, "/v1/users/login", "", map[string]string{"identifier": "erin", "password": testPassword})
	body := requireError(t, rr, http.StatusForbidden, codeAccountInactive)
	require.Equal(t, "User account is inactive", body["error"])

	rr = env.do(http.MethodPatch, "/v1/admin/users/1/activate", adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	env.login("/v1/users/login", "erin")

	rr = env.do(http.MethodPatch, "/v1/admin/users/99/block", adminToken, nil)
	requireError(t, rr, http.StatusNotFound, codeNotFound)
	rr = env.do(http.MethodPatch, "/v1/admin/users/abc/block", adminToken, nil)
	requireError(t, rr, http.StatusBadRequest, codeValidation)
}

func TestAdminPermissionGate(t *testing.T) {
	env := newAPIEnv(t)
	viewer := env.login("/v1/admin/login", "viewer")
	root := env.login("/v1/admin/login", "root")

	rr := env.do(http.MethodGet, "/v1/admin/users", viewer, nil)
	body := requireError(t, rr, http.StatusForbidden, codeForbidden)
	require.Equal(t, "Permission denied", body["error"])

	rr = env.do(http.MethodGet, "/v1/admin/me", root, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	roles := decodeBody(t, rr)["roles"].([]any)
	require.Len(t, roles, 1)
	require.Equal(t, auth.SuperAdminRole, roles[0].(map[string]any)["name"])

	// grant the viewer a read-only role over users
	perms := env.do(http.MethodGet, "/v1/admin/permissions", root, nil)
	require.Equal(t, http.StatusOK, perms.Code)
	var catalog []auth.Permission
	require.NoError(t, json.Unmarshal(perms.Body.Bytes(), &catalog))
	var usersRead int64
	for _, p := range catalog {
		if p.Resource == auth.ResourceUsers && p.Action == auth.ActionRead {
			usersRead = p.ID
		}
	}
	require.NotZero(t, usersRead)

	rr = env.do(http.MethodPost, "/v1/admin/roles", root, map[string]any{"name": "Support", "permission_ids": []int64{usersRead}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	roleID := int64(decodeBody(t, rr)["id"].(float64))

	rr = env.do(http.MethodPost, "/v1/admin/roles", root, map[string]any{"name": "Support"})
	requireError(t, rr, http.StatusConflict, codeConflict)

	rr = env.do(http.MethodPost, "/v1/admin/admins/2/roles", root, map[string]any{"role_ids": []int64{roleID}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(http.MethodGet, "/v1/admin/users", viewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(http.MethodPatch, "/v1/admin/users/1/block", viewer, nil)
	requireError(t, rr, http.StatusForbidden, codeForbidden)
}

func TestAdminCreatesAdmin(t *testing.T) {
	env := newAPIEnv(t)
	root := env.login("/v1/admin/login", "root")

	rr := env.do(http.MethodPost, "/v1/admin/admins", root, map[string]string{
		"username": "ops", "name": "Ops", "email": "ops@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, "admin", decodeBody(t, rr)["kind"])
	env.login("/v1/admin/login", "ops")

	rr = env.do(http.MethodPost, "/v1/admin/admins", "", map[string]string{"username": "x"})
	requireError(t, rr, http.StatusUnauthorized, codeUnauthorized)
}

func TestDeleteMeReleasesUsername(t *testing.T) {
	env := newAPIEnv(t)
	env.registerUser("frank")
	token := env.login("/v1/users/login", "frank")

	rr := env.do(http.MethodDelete, "/v1/users/me", token, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(http.MethodGet, "/v1/users/me", token, nil)
	requireError(t, rr, http.StatusUnauthorized, codeUnauthorized)

	env.registerUser("frank")
	require.Len(t, env.audit.Filter(auth.AuditSoftDelete), 1)

	rr = env.do(http.MethodGet, "/v1/users/me", token, nil)
	requireError(t, rr, http.StatusUnauthorized, codeUnauthorized)
}

func TestUpdateMe(t *testing.T) {
	env := newAPIEnv(t)
	env.registerUser("gina")
	env.registerUser("hank")
	token := env.login("/v1/users/login", "gina")

	rr := env.do(http.MethodPut, "/v1/users/me", token, map[string]any{"email": "hank@example.com"})
	body := requireError(t, rr, http.StatusConflict, codeConflict)
	require.Equal(t, "Email already exists", body["error"])

	rr = env.do(http.MethodPut, "/v1/users/me", token, map[string]any{"is_active": false})
	requireError(t, rr, http.StatusBadRequest, codeValidation)

	rr = env.do(http.MethodPut, "/v1/users/me", token, map[string]any{"name": "Gina G", "password": "another-secret"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "Gina G", decodeBody(t, rr)["name"])
	require.Len(t, env.audit.Filter(auth.AuditUpdate), 1)
	require.Len(t, env.audit.Filter(auth.AuditPasswordChange), 1)

	rr = env.do(http.MethodPost, "/v1/users/login", "", map[string]string{"identifier": "gina", "password": testPassword})
	requireError(t, rr, http.StatusUnauthorized, codeUnauthorized)
	rr = env.do(http.MethodPost, "/v1/users/login", "", map[string]string{"identifier": "gina", "password": "another-secret"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("phone", "+15550100"))
	fw, err := mw.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("\x89PNG"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPut, "/v1/users/me", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decodeBody(t, rec)
	require.Equal(t, "+15550100", me["phone"])
	require.Equal(t, "avatar.png", me["avatar"])
}

func TestAdminUpdatesUser(t *testing.T) {
	env := newAPIEnv(t)
	env.registerUser("ivan")
	root := env.login("/v1/admin/login", "root")
	viewer := env.login("/v1/admin/login", "viewer")

	rr := env.do(http.MethodPut, "/v1/admin/users/1", viewer, map[string]any{"name": "Nope"})
	requireError(t, rr, http.StatusForbidden, codeForbidden)

	rr = env.do(http.MethodPut, "/v1/admin/users/1", root, map[string]any{"name": "Ivan I", "is_active": false})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	require.Equal(t, "Ivan I", body["name"])
	require.Equal(t, false, body["is_active"])

	entries := env.audit.Filter(auth.AuditUpdate)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].AdminID)
	require.EqualValues(t, 1, *entries[0].AdminID)

	rr = env.do(http.MethodPut, "/v1/admin/users/99", root, map[string]any{"name": "Ghost"})
	requireError(t, rr, http.StatusNotFound, codeNotFound)

	rr = env.do(http.MethodPut, "/v1/admin/me", root, map[string]any{"name": "Root Admin"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "Root Admin", decodeBody(t, rr)["name"])
}

func TestCollectionsCRUD(t *testing.T) {
	env := newAPIEnv(t)
	root := env.login("/v1/admin/login", "root")

	rr := env.do(http.MethodPost, "/v1/admin/collections", root, map[string]any{"name": "Summer Sale!", "sort_order": 2})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody(t, rr)
	require.Equal(t, "summer-sale", created["slug"])
	path := "/v1/admin/collections/" + itoa(int64(created["id"].(float64)))

	rr = env.do(http.MethodPost, "/v1/admin/collections", root, map[string]any{"name": "Other", "slug": "summer-sale"})
	body := requireError(t, rr, http.StatusConflict, codeConflict)
	require.Equal(t, "Collection with slug 'summer-sale' already exists", body["error"])

	rr = env.do(http.MethodPut, path, root, map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, decodeBody(t, rr)["is_active"])

	rr = env.do(http.MethodGet, "/v1/admin/collections?is_active=false", root, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 1, decodeBody(t, rr)["total"])

	rr = env.do(http.MethodDelete, path, root, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(http.MethodGet, path, root, nil)
	requireError(t, rr, http.StatusNotFound, codeNotFound)
}

func TestSettingsPublicAndAdmin(t *testing.T) {
	env := newAPIEnv(t)
	root := env.login("/v1/admin/login", "root")

	rr := env.do(http.MethodPut, "/v1/admin/settings/site.name", root, map[string]any{"value": "Gatehouse", "is_public": true})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = env.do(http.MethodPut, "/v1/admin/settings", root, map[string]any{
		"settings": map[string]string{"smtp.host": "mail.internal", "smtp.port": "25"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.EqualValues(t, 2, decodeBody(t, rr)["created"])

	rr = env.do(http.MethodGet, "/v1/settings/public", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, map[string]any{"site.name": "Gatehouse"}, decodeBody(t, rr))

	rr = env.do(http.MethodDelete, "/v1/admin/settings/smtp.port", root, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(http.MethodGet, "/v1/admin/settings/smtp.port", root, nil)
	requireError(t, rr, http.StatusNotFound, codeNotFound)
}

func TestAuditLogListing(t *testing.T) {
	env := newAPIEnv(t)
	root := env.login("/v1/admin/login", "root")

	rr := env.do(http.MethodGet, "/v1/admin/audit-logs?limit=5", root, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	require.GreaterOrEqual(t, body["total"].(float64), float64(3))
	items := body["items"].([]any)
	require.Equal(t, "login", items[0].(map[string]any)["action"])

	rr = env.do(http.MethodGet, "/v1/admin/audit-logs?limit=0", root, nil)
	requireError(t, rr, http.StatusBadRequest, codeValidation)
}

func TestHealthAndUnknownRoute(t *testing.T) {
	env := newAPIEnv(t)

	rr := env.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", decodeBody(t, rr)["status"])

	rr = env.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodGet, "/nope", "", nil)
	requireError(t, rr, http.StatusNotFound, codeNotFound)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
