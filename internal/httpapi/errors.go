package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/ids"
	"gatehouse.dev/internal/obs"
)

const (
	codeRateLimited        = "RATE_LIMIT_EXCEEDED"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeAccountLocked      = "ACCOUNT_LOCKED"
	codeAccountInactive    = "ACCOUNT_INACTIVE"
	codeConflict           = "CONFLICT"
	codeForbidden          = "FORBIDDEN"
	codeNotFound           = "NOT_FOUND"
	codeValidation         = "VALIDATION_ERROR"
	codeUnauthorized       = "UNAUTHORIZED"
	codeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	codeInternal           = "INTERNAL_ERROR"
)

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := ids.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// respondErr maps the auth error taxonomy onto stable status codes. Anything
// unrecognised is logged and reported as a bare internal error.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		locked   *auth.LockedError
		limited  *auth.RateLimitError
		conflict *auth.ConflictError
	)
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds()+0.5)))
		writeError(w, r, http.StatusTooManyRequests, codeRateLimited, limited.Error())
	case errors.As(err, &locked):
		writeError(w, r, http.StatusUnauthorized, codeAccountLocked, locked.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, codeInvalidCredentials, "Invalid credentials")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, codeAccountInactive, inactiveMessage(r))
	case errors.As(err, &conflict):
		writeError(w, r, http.StatusConflict, codeConflict, conflict.Message)
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, codeConflict, "Resource conflict")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, codeForbidden, "Permission denied")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "Resource not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeValidation, publicMessage(err, auth.ErrInvalidInput))
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "Invalid or expired token")
	default:
		l := obs.Logger()
		l.Error().Err(err).
			Str("request_id", ids.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// publicMessage strips the sentinel prefix from a wrapped validation error so
// only the caller-facing detail remains.
func publicMessage(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}

func inactiveMessage(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/v1/admin/") {
		return "Admin account is inactive"
	}
	return "User account is inactive"
}
