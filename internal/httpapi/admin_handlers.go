package httpapi

import (
	"fmt"
	"net/http"

	"gatehouse.dev/internal/auth"
)

type createRoleRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permission_ids"`
}

type rolePermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

type assignRolesRequest struct {
	RoleIDs []int64 `json:"role_ids"`
}

func (a *API) handleListPrincipals(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := parsePage(r)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		items, total, err := svc.List(r.Context(), p.Limit, p.Offset)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newList(items, total, p))
	}
}

func (a *API) handleGetPrincipal(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		p, err := svc.Get(r.Context(), id)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (a *API) handleUpdatePrincipal(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		upd, release, err := a.profileInput(w, r, true)
		defer release()
		if err != nil {
			respondErr(w, r, err)
			return
		}
		actor, _ := auth.PrincipalFromContext(r.Context())
		p, err := svc.Update(r.Context(), actor, id, upd)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (a *API) handleSetActive(svc *auth.Service, active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		actor, _ := auth.PrincipalFromContext(r.Context())
		p, err := svc.SetActive(r.Context(), actor, id, active)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (a *API) handleUnlock(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		actor, _ := auth.PrincipalFromContext(r.Context())
		p, err := svc.Unlock(r.Context(), actor, id)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.deps.RBAC.ListPermissions(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.deps.RBAC.ListRoles(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	role, err := a.deps.RBAC.CreateRole(r.Context(), req.Name, req.Description, req.PermissionIDs)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/admin/roles/%d", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	role, err := a.deps.RBAC.GetRole(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req rolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := a.deps.RBAC.SetRolePermissions(r.Context(), id, req.PermissionIDs); err != nil {
		respondErr(w, r, err)
		return
	}
	role, err := a.deps.RBAC.GetRole(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req assignRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	target, err := a.deps.Admins.Get(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := a.deps.RBAC.AssignRoles(r.Context(), target.ID, req.RoleIDs); err != nil {
		respondErr(w, r, err)
		return
	}
	roles, err := a.deps.RBAC.RolesForAdmin(r.Context(), target.ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	a.log.Info().Int64("admin_id", target.ID).Int("roles", len(roles)).Msg("admin roles replaced")
	writeJSON(w, http.StatusOK, adminView{Principal: target, Roles: roles})
}
