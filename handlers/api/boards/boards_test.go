package boards

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boardsync/core"
	"boardsync/handlers/auth"
	"boardsync/middleware"

	"github.com/go-chi/chi/v5"
)

type mockStore struct {
	boards map[string]*core.Board

	createErr error
	saveCalls int
	lastSaved []byte
}

func newMockStore() *mockStore {
	return &mockStore{boards: make(map[string]*core.Board)}
}

func (m *mockStore) Create(_ context.Context, board *core.Board) error {
	if m.createErr != nil {
		return m.createErr
	}
	board.ID = "board-" + time.Now().Format("150405.000000000")
	board.CreatedAt = time.Now()
	board.UpdatedAt = board.CreatedAt
	for i, ab := range board.Artboards {
		ab.ID = board.ID + "-ab"
		ab.BoardID = board.ID
		ab.Index = i
	}
	m.boards[board.ID] = board
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*core.Board, error) {
	board, ok := m.boards[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return board, nil
}

func (m *mockStore) ListByOwner(_ context.Context, ownerID string) ([]*core.Board, error) {
	var out []*core.Board
	for _, b := range m.boards {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockStore) Update(_ context.Context, id string, upd core.BoardUpdate) error {
	board, ok := m.boards[id]
	if !ok {
		return core.ErrNotFound
	}
	if upd.Title != nil {
		board.Title = *upd.Title
	}
	if upd.Visibility != nil {
		board.Visibility = *upd.Visibility
	}
	if upd.Thumbnail != nil {
		board.Thumbnail = *upd.Thumbnail
	}
	return nil
}

func (m *mockStore) Delete(_ context.Context, id string) error {
	if _, ok := m.boards[id]; !ok {
		return core.ErrNotFound
	}
	delete(m.boards, id)
	return nil
}

func (m *mockStore) SaveArtboard(_ context.Context, boardID, artboardID string, snapshot []byte) error {
	board, ok := m.boards[boardID]
	if !ok {
		return core.ErrNotFound
	}
	for _, ab := range board.Artboards {
		if ab.ID == artboardID {
			m.saveCalls++
			m.lastSaved = snapshot
			ab.Snapshot = snapshot
			return nil
		}
	}
	return core.ErrNotFound
}

func newTestAuth(t *testing.T) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(auth.Config{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func tokenFor(t *testing.T, svc *auth.Service, subject string) string {
	t.Helper()
	token, err := svc.CreateToken(&core.User{Subject: subject, Login: subject})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return token
}

func newRouter(store core.BoardStore, svc *auth.Service) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(svc))
		r.Post("/api/v2/boards", HandleCreate(store))
		r.Get("/api/v2/boards", HandleList(store))
		r.Patch("/api/v2/boards/{id}", HandleUpdate(store))
		r.Delete("/api/v2/boards/{id}", HandleDelete(store))
		r.Put("/api/v2/boards/{id}/artboards/{artboardId}", HandleSaveArtboard(store))
		r.Post("/api/v2/boards/{id}/fork", HandleFork(store))
		r.Get("/api/v2/me", HandleMe())
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(svc))
		r.Get("/api/v2/boards/{id}", HandleGet(store))
	})
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, url, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func seedBoard(store *mockStore, owner string, visibility core.Visibility) *core.Board {
	board := &core.Board{
		OwnerID:    owner,
		Title:      "Seeded",
		Visibility: visibility,
		Artboards:  []*core.Artboard{{}},
	}
	_ = store.Create(context.Background(), board)
	return board
}

func TestHandleCreate_AssignsOwnerAndDefaults(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)
	token := tokenFor(t, svc, "github:1")

	rec := doRequest(t, router, http.MethodPost, "/api/v2/boards", token, []byte(`{"title":"Sketches"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var board core.Board
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if board.OwnerID != "github:1" {
		t.Errorf("expected owner github:1, got %q", board.OwnerID)
	}
	if board.Visibility != core.VisibilityPrivate {
		t.Errorf("expected private default, got %q", board.Visibility)
	}
	if len(board.Artboards) != 1 {
		t.Errorf("expected one artboard, got %d", len(board.Artboards))
	}
}

func TestHandleCreate_EmptyBodyGetsDefaultTitle(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)

	rec := doRequest(t, router, http.MethodPost, "/api/v2/boards", tokenFor(t, svc, "u1"), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var board core.Board
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if board.Title != "Untitled board" {
		t.Errorf("expected default title, got %q", board.Title)
	}
}

func TestHandleCreate_RequiresAuth(t *testing.T) {
	router := newRouter(newMockStore(), newTestAuth(t))
	rec := doRequest(t, router, http.MethodPost, "/api/v2/boards", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleGet_VisibilityRules(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)

	private := seedBoard(store, "owner", core.VisibilityPrivate)
	public := seedBoard(store, "owner", core.VisibilityPublic)

	ownerToken := tokenFor(t, svc, "owner")
	strangerToken := tokenFor(t, svc, "stranger")

	tests := []struct {
		name   string
		id     string
		token  string
		status int
	}{
		{"owner reads private", private.ID, ownerToken, http.StatusOK},
		{"stranger blocked from private", private.ID, strangerToken, http.StatusForbidden},
		{"anonymous blocked from private", private.ID, "", http.StatusForbidden},
		{"stranger reads public", public.ID, strangerToken, http.StatusOK},
		{"anonymous reads public", public.ID, "", http.StatusOK},
		{"missing board", "nope", ownerToken, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/api/v2/boards/"+tt.id, tt.token, nil)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleUpdate_OwnerOnly(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)
	board := seedBoard(store, "owner", core.VisibilityPrivate)

	body := []byte(`{"title":"Renamed","visibility":"public"}`)
	rec := doRequest(t, router, http.MethodPatch, "/api/v2/boards/"+board.ID, tokenFor(t, svc, "stranger"), body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPatch, "/api/v2/boards/"+board.ID, tokenFor(t, svc, "owner"), body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if board.Title != "Renamed" || board.Visibility != core.VisibilityPublic {
		t.Errorf("update not applied: title=%q visibility=%q", board.Title, board.Visibility)
	}
}

func TestHandleUpdate_RejectsInvalidVisibility(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)
	board := seedBoard(store, "owner", core.VisibilityPrivate)

	rec := doRequest(t, router, http.MethodPatch, "/api/v2/boards/"+board.ID,
		tokenFor(t, svc, "owner"), []byte(`{"visibility":"secret"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleDelete_RemovesBoard(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)
	board := seedBoard(store, "owner", core.VisibilityPrivate)

	rec := doRequest(t, router, http.MethodDelete, "/api/v2/boards/"+board.ID, tokenFor(t, svc, "owner"), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := store.boards[board.ID]; ok {
		t.Error("board still present after delete")
	}
}

func TestHandleSaveArtboard_WritesCanonicalEnvelope(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)
	board := seedBoard(store, "owner", core.VisibilityPrivate)
	artboardID := board.Artboards[0].ID

	// Legacy bare-array payloads get upgraded on write.
	body := []byte(`[{"id":"el1","type":"rectangle"}]`)
	url := "/api/v2/boards/" + board.ID + "/artboards/" + artboardID
	rec := doRequest(t, router, http.MethodPut, url, tokenFor(t, svc, "owner"), body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.saveCalls != 1 {
		t.Fatalf("expected one save, got %d", store.saveCalls)
	}
	var envelope struct {
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(store.lastSaved, &envelope); err != nil {
		t.Fatalf("saved snapshot is not an envelope: %v", err)
	}
	if len(envelope.Elements) != 1 {
		t.Errorf("expected one element, got %d", len(envelope.Elements))
	}
}

func TestHandleSaveArtboard_EmptySnapshotIgnored(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)
	board := seedBoard(store, "owner", core.VisibilityPrivate)
	url := "/api/v2/boards/" + board.ID + "/artboards/" + board.Artboards[0].ID

	for _, body := range []string{`[]`, `{"elements":[]}`, ``} {
		rec := doRequest(t, router, http.MethodPut, url, tokenFor(t, svc, "owner"), []byte(body))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("payload %q: expected 204, got %d", body, rec.Code)
		}
	}
	if store.saveCalls != 0 {
		t.Errorf("expected no store writes for empty snapshots, got %d", store.saveCalls)
	}
}

func TestHandleSaveArtboard_AllDeletedSnapshotIgnored(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)
	board := seedBoard(store, "owner", core.VisibilityPrivate)
	url := "/api/v2/boards/" + board.ID + "/artboards/" + board.Artboards[0].ID

	body := []byte(`{"elements":[{"id":"el1","isDeleted":true},{"id":"el2","isDeleted":true}]}`)
	rec := doRequest(t, router, http.MethodPut, url, tokenFor(t, svc, "owner"), body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if store.saveCalls != 0 {
		t.Errorf("all-tombstoned snapshot must not be written, got %d saves", store.saveCalls)
	}
}

func TestHandleSaveArtboard_NonOwnerForbidden(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)
	board := seedBoard(store, "owner", core.VisibilityPublic)
	url := "/api/v2/boards/" + board.ID + "/artboards/" + board.Artboards[0].ID

	rec := doRequest(t, router, http.MethodPut, url, tokenFor(t, svc, "stranger"),
		[]byte(`{"elements":[{"id":"el1"}]}`))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleFork_CopiesBoardForCaller(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)

	source := seedBoard(store, "owner", core.VisibilityPublic)
	source.Title = "Diagram"
	source.Artboards[0].Snapshot = []byte(`{"elements":[{"id":"saved"}]}`)

	rec := doRequest(t, router, http.MethodPost, "/api/v2/boards/"+source.ID+"/fork",
		tokenFor(t, svc, "forker"), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var fork core.Board
	if err := json.Unmarshal(rec.Body.Bytes(), &fork); err != nil {
		t.Fatalf("unmarshal fork: %v", err)
	}
	if fork.OwnerID != "forker" {
		t.Errorf("expected fork owned by forker, got %q", fork.OwnerID)
	}
	if fork.Title != "Copy of Diagram" {
		t.Errorf("unexpected fork title %q", fork.Title)
	}
	if fork.Visibility != core.VisibilityPrivate {
		t.Errorf("fork should be private, got %q", fork.Visibility)
	}
	stored := store.boards[fork.ID]
	if stored == nil || len(stored.Artboards) != 1 {
		t.Fatal("fork missing artboard")
	}
	if !bytes.Contains(stored.Artboards[0].Snapshot, []byte("saved")) {
		t.Errorf("fork snapshot should come from the source, got %s", stored.Artboards[0].Snapshot)
	}
}

func TestHandleFork_BodySceneWins(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)

	source := seedBoard(store, "owner", core.VisibilityPublic)
	source.Artboards[0].Snapshot = []byte(`{"elements":[{"id":"saved"}]}`)

	rec := doRequest(t, router, http.MethodPost, "/api/v2/boards/"+source.ID+"/fork",
		tokenFor(t, svc, "forker"), []byte(`{"elements":[{"id":"live"}]}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var fork core.Board
	if err := json.Unmarshal(rec.Body.Bytes(), &fork); err != nil {
		t.Fatalf("unmarshal fork: %v", err)
	}
	stored := store.boards[fork.ID]
	if !bytes.Contains(stored.Artboards[0].Snapshot, []byte("live")) {
		t.Errorf("expected live scene in fork, got %s", stored.Artboards[0].Snapshot)
	}
}

func TestHandleFork_PrivateSourceForbidden(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)
	source := seedBoard(store, "owner", core.VisibilityPrivate)

	rec := doRequest(t, router, http.MethodPost, "/api/v2/boards/"+source.ID+"/fork",
		tokenFor(t, svc, "stranger"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleMe_ReturnsClaims(t *testing.T) {
	svc := newTestAuth(t)
	router := newRouter(newMockStore(), svc)

	token, err := svc.CreateToken(&core.User{Subject: "github:7", Login: "ada", Name: "Ada"})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	rec := doRequest(t, router, http.MethodGet, "/api/v2/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var user core.User
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	if user.Subject != "github:7" || user.Login != "ada" {
		t.Errorf("unexpected identity: %+v", user)
	}
}

func TestHandleList_OnlyCallersBoards(t *testing.T) {
	store := newMockStore()
	svc := newTestAuth(t)
	router := newRouter(store, svc)

	seedBoard(store, "alice", core.VisibilityPrivate)
	seedBoard(store, "alice", core.VisibilityPublic)
	seedBoard(store, "bob", core.VisibilityPublic)

	rec := doRequest(t, router, http.MethodGet, "/api/v2/boards", tokenFor(t, svc, "alice"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var boards []*core.Board
	if err := json.Unmarshal(rec.Body.Bytes(), &boards); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(boards) != 2 {
		t.Fatalf("expected 2 boards, got %d", len(boards))
	}
	for _, b := range boards {
		if b.OwnerID != "alice" {
			t.Errorf("foreign board in list: %+v", b)
		}
	}
}
