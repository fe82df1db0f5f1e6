package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/collections"
	"gatehouse.dev/internal/settings"
)

type collectionRequest struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
	SortOrder   *int    `json:"sort_order"`
}

type settingRequest struct {
	Value       string  `json:"value"`
	Description *string `json:"description"`
	IsPublic    *bool   `json:"is_public"`
	IsEncrypted *bool   `json:"is_encrypted"`
}

type bulkSettingsRequest struct {
	Settings    map[string]string `json:"settings"`
	Description *string           `json:"description"`
	IsPublic    *bool             `json:"is_public"`
}

// collectionInput reads a collection from JSON or from a multipart form
// carrying an optional "image" file. The returned func releases the upload.
func collectionInput(w http.ResponseWriter, r *http.Request) (collections.Input, func(), error) {
	noop := func() {}
	if !isMultipart(r) {
		var req collectionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return collections.Input{}, noop, err
		}
		return collections.Input{
			Name:        req.Name,
			Slug:        req.Slug,
			Description: req.Description,
			IsActive:    req.IsActive,
			SortOrder:   req.SortOrder,
		}, noop, nil
	}

	if err := parseForm(r); err != nil {
		return collections.Input{}, noop, err
	}
	in := collections.Input{
		Name:        formString(r, "name"),
		Slug:        formString(r, "slug"),
		Description: formString(r, "description"),
	}
	var err error
	if in.IsActive, err = formBool(r, "is_active"); err != nil {
		return in, noop, err
	}
	if in.SortOrder, err = formInt(r, "sort_order"); err != nil {
		return in, noop, err
	}
	image, f, err := formFile(r, "image")
	if err != nil {
		return in, noop, err
	}
	in.Image = image
	if f == nil {
		return in, noop, nil
	}
	return in, func() { _ = f.Close() }, nil
}

func (a *API) handleListCollections(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	f := collections.Filter{Limit: p.Limit, Offset: p.Offset}
	if v := r.URL.Query().Get("is_active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, "is_active must be a boolean")
			return
		}
		f.IsActive = &b
	}
	items, total, err := a.deps.Collections.List(r.Context(), f)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items, total, p))
}

func (a *API) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	in, release, err := collectionInput(w, r)
	defer release()
	if err != nil {
		respondErr(w, r, err)
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	c, err := a.deps.Collections.Create(r.Context(), actor, in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/admin/collections/%d", c.ID))
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	c, err := a.deps.Collections.Get(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	in, release, err := collectionInput(w, r)
	defer release()
	if err != nil {
		respondErr(w, r, err)
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	c, err := a.deps.Collections.Update(r.Context(), actor, id, in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	if err := a.deps.Collections.Delete(r.Context(), actor, id); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePublicSettings(w http.ResponseWriter, r *http.Request) {
	values, err := a.deps.Settings.Public(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (a *API) handleListSettings(w http.ResponseWriter, r *http.Request) {
	items, err := a.deps.Settings.List(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if items == nil {
		items = []settings.Setting{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleBulkSettings(w http.ResponseWriter, r *http.Request) {
	var req bulkSettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	created, updated, err := a.deps.Settings.PutMany(r.Context(), actor, req.Settings, req.Description, req.IsPublic)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"created": created,
		"updated": updated,
	})
}

func (a *API) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	s, err := a.deps.Settings.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	s, err := a.deps.Settings.Put(r.Context(), actor, r.PathValue("key"), settings.Input{
		Value:       req.Value,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		IsEncrypted: req.IsEncrypted,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.PrincipalFromContext(r.Context())
	if err := a.deps.Settings.Delete(r.Context(), actor, r.PathValue("key")); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	items, total, err := a.deps.AuditLog.List(r.Context(), p.Limit, p.Offset)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items, total, p))
}
