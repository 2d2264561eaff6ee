// Package client is the HTTP counterpart of the board API: a thin typed
// wrapper the session controller uses as its backend. It maps the API's
// status codes back onto the core sentinel errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"boardsync/core"
)

// HTTP talks to a board server over its /api/v2 surface. A zero token means
// anonymous: reads of public boards still work, everything else comes back
// core.ErrUnauthorized.
type HTTP struct {
	baseURL string
	token   string
	client  *http.Client
}

type Option func(*HTTP)

// WithHTTPClient replaces the underlying http.Client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTP) { h.client = c }
}

func NewHTTP(baseURL, token string, opts ...Option) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetToken swaps the bearer token, e.g. after a login redirect completes.
func (h *HTTP) SetToken(token string) {
	h.token = token
}

func (h *HTTP) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	return h.client.Do(req)
}

// statusErr maps an unexpected response onto a sentinel or descriptive error.
func statusErr(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return core.ErrUnauthorized
	case http.StatusForbidden:
		return core.ErrForbidden
	case http.StatusNotFound:
		return core.ErrNotFound
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func decodeBoard(resp *http.Response) (*core.Board, error) {
	var board core.Board
	if err := json.NewDecoder(resp.Body).Decode(&board); err != nil {
		return nil, fmt.Errorf("decode board: %w", err)
	}
	return &board, nil
}

func (h *HTTP) CreateBoard(ctx context.Context, title string) (*core.Board, error) {
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return nil, err
	}
	resp, err := h.do(ctx, http.MethodPost, "/api/v2/boards", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, statusErr(resp)
	}
	return decodeBoard(resp)
}

func (h *HTTP) GetBoard(ctx context.Context, id string) (*core.Board, error) {
	resp, err := h.do(ctx, http.MethodGet, "/api/v2/boards/"+id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp)
	}
	return decodeBoard(resp)
}

func (h *HTTP) ListBoards(ctx context.Context) ([]*core.Board, error) {
	resp, err := h.do(ctx, http.MethodGet, "/api/v2/boards", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp)
	}
	var boards []*core.Board
	if err := json.NewDecoder(resp.Body).Decode(&boards); err != nil {
		return nil, fmt.Errorf("decode boards: %w", err)
	}
	return boards, nil
}

func (h *HTTP) UpdateBoard(ctx context.Context, id string, upd core.BoardUpdate) error {
	payload := struct {
		Title      *string          `json:"title,omitempty"`
		Visibility *core.Visibility `json:"visibility,omitempty"`
		Thumbnail  *string          `json:"thumbnail,omitempty"`
	}{upd.Title, upd.Visibility, upd.Thumbnail}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := h.do(ctx, http.MethodPatch, "/api/v2/boards/"+id, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusErr(resp)
	}
	return nil
}

func (h *HTTP) DeleteBoard(ctx context.Context, id string) error {
	resp, err := h.do(ctx, http.MethodDelete, "/api/v2/boards/"+id, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusErr(resp)
	}
	return nil
}

func (h *HTTP) SaveArtboard(ctx context.Context, boardID, artboardID string, snapshot []byte) error {
	path := "/api/v2/boards/" + boardID + "/artboards/" + artboardID
	resp, err := h.do(ctx, http.MethodPut, path, snapshot)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusErr(resp)
	}
	return nil
}

func (h *HTTP) ForkBoard(ctx context.Context, id string, snapshot []byte) (*core.Board, error) {
	resp, err := h.do(ctx, http.MethodPost, "/api/v2/boards/"+id+"/fork", snapshot)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, statusErr(resp)
	}
	return decodeBoard(resp)
}

// CurrentUser resolves the caller's identity. An anonymous caller is not an
// error: it returns (nil, nil) so the session can fall into guest mode.
func (h *HTTP) CurrentUser(ctx context.Context) (*core.User, error) {
	if h.token == "" {
		return nil, nil
	}
	resp, err := h.do(ctx, http.MethodGet, "/api/v2/me", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp)
	}
	var user core.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}
