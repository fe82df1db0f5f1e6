package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatehouse.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticated resolves the bearer token against svc and stores the
// principal and raw token in the request context.
func (a *API) authenticated(svc *auth.Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse"`)
			writeError(w, r, http.StatusUnauthorized, codeUnauthorized, err.Error())
			return
		}
		principal, err := svc.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse", error="invalid_token"`)
			}
			respondErr(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// admin authenticates an admin token and requires resource:action before
// calling next.
func (a *API) admin(resource, action string, next http.HandlerFunc) http.Handler {
	return a.authenticated(a.deps.Admins, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			respondErr(w, r, auth.ErrUnauthorized)
			return
		}
		if err := a.deps.Resolver.Require(r.Context(), p, resource, action); err != nil {
			if errors.Is(err, auth.ErrPermissionDenied) {
				a.log.Warn().
					Int64("admin_id", p.ID).
					Str("resource", resource).
					Str("action", action).
					Msg("permission denied")
			}
			respondErr(w, r, err)
			return
		}
		next(w, r)
	}))
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
