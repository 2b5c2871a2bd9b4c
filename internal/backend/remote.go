package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holt/lattice/internal/apperr"
)

// Remote implements Adapter against a remote Lattice service, scoped by a
// project identifier. It surfaces the same error taxonomy as the local
// adapters, so the store's rollback logic never sees the difference.
type Remote struct {
	base   string // e.g. https://host/api/projects/42
	token  string
	client *http.Client
}

// NewRemote creates a Remote adapter for one project on the given service.
func NewRemote(baseURL, projectID, token string) (*Remote, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid base url %q: %w", baseURL, apperr.ErrValidation)
	}
	if projectID == "" {
		return nil, fmt.Errorf("backend: project id required: %w", apperr.ErrValidation)
	}
	return &Remote{
		base:   strings.TrimRight(baseURL, "/") + "/api/projects/" + url.PathEscape(projectID),
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (r *Remote) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %v: %w", method, path, err, apperr.ErrUnavailable)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil, fmt.Errorf("backend: %s %s: status %d: %w", method, path, resp.StatusCode, statusErr(resp.StatusCode))
}

// statusErr maps a remote status code onto the shared error taxonomy.
func statusErr(code int) error {
	switch code {
	case http.StatusNotFound:
		return apperr.ErrNotFound
	case http.StatusConflict:
		return apperr.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.ErrValidation
	default:
		return apperr.ErrUnavailable
	}
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// List fetches entries under root.
func (r *Remote) List(ctx context.Context, root string) ([]Entry, error) {
	q := ""
	if root != "" {
		q = "?root=" + url.QueryEscape(root)
	}
	resp, err := r.do(ctx, http.MethodGet, "/entries"+q, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var payload struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("backend: decode entries: %w", err)
	}
	return payload.Entries, nil
}

// Read fetches the raw document at path.
func (r *Remote) Read(ctx context.Context, path string) (string, error) {
	resp, err := r.do(ctx, http.MethodGet, "/files/"+escapePath(path), nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("backend: read body: %v: %w", err, apperr.ErrUnavailable)
	}
	return string(data), nil
}

// Write uploads raw to path.
func (r *Remote) Write(ctx context.Context, path, raw string) error {
	resp, err := r.do(ctx, http.MethodPut, "/files/"+escapePath(path), strings.NewReader(raw), "text/markdown; charset=utf-8")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Remove deletes the entry at path.
func (r *Remote) Remove(ctx context.Context, path string) error {
	resp, err := r.do(ctx, http.MethodDelete, "/files/"+escapePath(path), nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Move renames oldPath to newPath.
func (r *Remote) Move(ctx context.Context, oldPath, newPath string) error {
	body, _ := json.Marshal(map[string]string{"oldPath": oldPath, "newPath": newPath})
	resp, err := r.do(ctx, http.MethodPost, "/move", bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// MakeDir creates a container at path.
func (r *Remote) MakeDir(ctx context.Context, path string) error {
	body, _ := json.Marshal(map[string]string{"path": path})
	resp, err := r.do(ctx, http.MethodPost, "/dirs", bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

var (
	_ Adapter = (*Remote)(nil)
	_ Adapter = (*FS)(nil)
)
