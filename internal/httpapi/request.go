package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"gatehouse.dev/internal/auth"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
	multipartMemory  = 4 << 20
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", auth.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", auth.ErrInvalidInput)
	}
	return nil
}

// isMultipart reports whether the request carries a form body rather than JSON.
func isMultipart(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return ct == "multipart/form-data" || ct == "application/x-www-form-urlencoded"
}

func parseForm(r *http.Request) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if ct == "multipart/form-data" {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return fmt.Errorf("%w: malformed form body", auth.ErrInvalidInput)
	}
	return nil
}

// formFile returns the named upload, or nil when the field is absent. The
// caller closes the returned file.
func formFile(r *http.Request, field string) (*auth.Upload, multipart.File, error) {
	if r.MultipartForm == nil {
		return nil, nil, nil
	}
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unreadable %s upload", auth.ErrInvalidInput, field)
	}
	return &auth.Upload{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Body:        f,
	}, f, nil
}

// formString returns a pointer to a trimmed form value, or nil if the field
// was not sent.
func formString(r *http.Request, field string) *string {
	if _, ok := r.Form[field]; !ok {
		return nil
	}
	v := strings.TrimSpace(r.FormValue(field))
	return &v
}

func formBool(r *http.Request, field string) (*bool, error) {
	s := formString(r, field)
	if s == nil || *s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(*s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a boolean", auth.ErrInvalidInput, field)
	}
	return &v, nil
}

func formInt(r *http.Request, field string) (*int, error) {
	s := formString(r, field)
	if s == nil || *s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(*s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", auth.ErrInvalidInput, field)
	}
	return &v, nil
}

type page struct {
	Limit  int
	Offset int
}

func parsePage(r *http.Request) (page, error) {
	p := page{Limit: defaultPageLimit}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			return p, fmt.Errorf("%w: limit must be between 1 and %d", auth.ErrInvalidInput, maxPageLimit)
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%w: offset must not be negative", auth.ErrInvalidInput)
		}
		p.Offset = n
	}
	return p, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id must be a positive integer", auth.ErrInvalidInput)
	}
	return id, nil
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newList[T any](items []T, total int, p page) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}
}
