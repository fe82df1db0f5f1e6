package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

type registerRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// loginRequest accepts either "identifier" or the form-style "username";
// both may carry a username or an email.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

type updateRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type adminView struct {
	*auth.Principal
	Roles []auth.Role `json:"roles"`
}

func (a *API) handleRegister(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg := auth.Registration{
			ClientIP:  clientIP(r, a.opts.TrustProxy),
			UserAgent: r.UserAgent(),
		}
		if isMultipart(r) {
			if err := parseForm(r); err != nil {
				respondErr(w, r, err)
				return
			}
			reg.Username = r.FormValue("username")
			reg.Name = r.FormValue("name")
			reg.Email = r.FormValue("email")
			reg.Phone = r.FormValue("phone")
			reg.Password = r.FormValue("password")
			avatar, f, err := formFile(r, "avatar")
			if err != nil {
				respondErr(w, r, err)
				return
			}
			if f != nil {
				defer f.Close()
			}
			reg.Avatar = avatar
		} else {
			var req registerRequest
			if err := decodeJSON(w, r, &req); err != nil {
				respondErr(w, r, err)
				return
			}
			reg.Username, reg.Name, reg.Email = req.Username, req.Name, req.Email
			reg.Phone, reg.Password = req.Phone, req.Password
		}

		p, err := svc.Register(r.Context(), reg)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func (a *API) handleLogin(svc *auth.Service) http.HandlerFunc {
	kind := string(svc.Kind())
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if isMultipart(r) {
			if err := parseForm(r); err != nil {
				respondErr(w, r, err)
				return
			}
			req.Username = r.FormValue("username")
			req.Password = r.FormValue("password")
		} else if err := decodeJSON(w, r, &req); err != nil {
			respondErr(w, r, err)
			return
		}
		ident := strings.TrimSpace(req.Identifier)
		if ident == "" {
			ident = strings.TrimSpace(req.Username)
		}
		if ident == "" || req.Password == "" {
			obs.RecordLogin(kind, "invalid_request")
			writeError(w, r, http.StatusBadRequest, codeValidation, "identifier and password are required")
			return
		}

		res, err := svc.Login(r.Context(), auth.LoginRequest{
			Identifier: ident,
			Password:   req.Password,
			ClientIP:   clientIP(r, a.opts.TrustProxy),
			UserAgent:  r.UserAgent(),
		})
		obs.RecordLogin(kind, loginOutcome(err))
		if err != nil {
			respondErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: res.Token,
			TokenType:   "bearer",
			ExpiresAt:   res.ExpiresAt,
		})
	}
}

func loginOutcome(err error) string {
	var (
		locked  *auth.LockedError
		limited *auth.RateLimitError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.As(err, &locked):
		return "locked"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrAccountInactive):
		return "inactive"
	default:
		return "error"
	}
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondErr(w, r, auth.ErrUnauthorized)
		return
	}
	if p.Kind != auth.KindAdmin || a.deps.RBAC == nil {
		writeJSON(w, http.StatusOK, p)
		return
	}
	roles, err := a.deps.RBAC.RolesForAdmin(r.Context(), p.ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, adminView{Principal: p, Roles: roles})
}

// profileInput reads a partial profile from JSON or from a form carrying an
// optional "avatar" file. is_active is only honoured when allowActive is set.
// The returned func releases the upload.
func (a *API) profileInput(w http.ResponseWriter, r *http.Request, allowActive bool) (auth.ProfileUpdate, func(), error) {
	noop := func() {}
	upd := auth.ProfileUpdate{
		ClientIP:  clientIP(r, a.opts.TrustProxy),
		UserAgent: r.UserAgent(),
	}
	if !isMultipart(r) {
		var req updateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return upd, noop, err
		}
		upd.Name, upd.Email, upd.Phone, upd.Password = req.Name, req.Email, req.Phone, req.Password
		upd.IsActive = req.IsActive
	} else {
		if err := parseForm(r); err != nil {
			return upd, noop, err
		}
		upd.Name = formString(r, "name")
		upd.Email = formString(r, "email")
		upd.Phone = formString(r, "phone")
		if _, ok := r.Form["password"]; ok {
			pw := r.FormValue("password")
			upd.Password = &pw
		}
		var err error
		if upd.IsActive, err = formBool(r, "is_active"); err != nil {
			return upd, noop, err
		}
	}
	if upd.IsActive != nil && !allowActive {
		return upd, noop, fmt.Errorf("%w: is_active cannot be changed here", auth.ErrInvalidInput)
	}
	if r.MultipartForm == nil {
		return upd, noop, nil
	}
	avatar, f, err := formFile(r, "avatar")
	if err != nil {
		return upd, noop, err
	}
	if f == nil {
		return upd, noop, nil
	}
	upd.Avatar = avatar
	return upd, func() { _ = f.Close() }, nil
}

func (a *API) handleUpdateMe(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			respondErr(w, r, auth.ErrUnauthorized)
			return
		}
		upd, release, err := a.profileInput(w, r, false)
		defer release()
		if err != nil {
			respondErr(w, r, err)
			return
		}
		updated, err := svc.Update(r.Context(), p, p.ID, upd)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (a *API) handleDeleteMe(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			respondErr(w, r, auth.ErrUnauthorized)
			return
		}
		if err := svc.SoftDelete(r.Context(), p, p.ID); err != nil {
			respondErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
