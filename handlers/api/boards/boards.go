package boards

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"boardsync/core"
	"boardsync/middleware"
	"boardsync/scene"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	createRequest struct {
		Title string `json:"title"`
	}

	updateRequest struct {
		Title      *string          `json:"title"`
		Visibility *core.Visibility `json:"visibility"`
		Thumbnail  *string          `json:"thumbnail"`
	}
)

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// renderStoreError maps store sentinel errors onto HTTP statuses.
func renderStoreError(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		renderError(w, r, http.StatusNotFound, what+" not found")
	case errors.Is(err, core.ErrForbidden):
		renderError(w, r, http.StatusForbidden, "forbidden")
	default:
		renderError(w, r, http.StatusInternalServerError, "Failed to access "+what)
	}
}

// canRead reports whether subject may see board: owners always, everyone for
// public boards.
func canRead(board *core.Board, subject string) bool {
	return board.Visibility == core.VisibilityPublic || board.OwnerID == subject
}

// HandleCreate creates a board with one empty artboard, owned by the caller.
func HandleCreate(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			renderError(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			renderError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Title == "" {
			req.Title = "Untitled board"
		}

		board := &core.Board{
			OwnerID:    claims.Subject,
			Title:      req.Title,
			Visibility: core.VisibilityPrivate,
			Artboards:  []*core.Artboard{{}},
		}
		if err := store.Create(r.Context(), board); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to create board")
			renderError(w, r, http.StatusInternalServerError, "Failed to create board")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, board)
	}
}

// HandleList returns light rows for the caller's boards.
func HandleList(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			renderError(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}

		boards, err := store.ListByOwner(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to list boards")
			renderError(w, r, http.StatusInternalServerError, "Failed to list boards")
			return
		}
		if boards == nil {
			boards = []*core.Board{}
		}
		render.JSON(w, r, boards)
	}
}

// HandleGet returns a board with its artboards. Private boards are only
// visible to their owner; everyone else gets 403.
func HandleGet(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		board, err := store.Get(r.Context(), id)
		if err != nil {
			renderStoreError(w, r, err, "board")
			return
		}

		subject := ""
		if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
			subject = claims.Subject
		}
		if !canRead(board, subject) {
			renderError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		render.JSON(w, r, board)
	}
}

// HandleUpdate applies a partial update (title, visibility, thumbnail).
// Owner only.
func HandleUpdate(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			renderError(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}

		id := chi.URLParam(r, "id")
		board, err := store.Get(r.Context(), id)
		if err != nil {
			renderStoreError(w, r, err, "board")
			return
		}
		if board.OwnerID != claims.Subject {
			renderError(w, r, http.StatusForbidden, "forbidden")
			return
		}

		var req updateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Visibility != nil && !req.Visibility.Valid() {
			renderError(w, r, http.StatusBadRequest, "Invalid visibility")
			return
		}

		upd := core.BoardUpdate{Title: req.Title, Visibility: req.Visibility, Thumbnail: req.Thumbnail}
		if err := store.Update(r.Context(), id, upd); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"board_id": id,
			}).Error("Failed to update board")
			renderStoreError(w, r, err, "board")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleDelete removes a board. Owner only.
func HandleDelete(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			renderError(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}

		id := chi.URLParam(r, "id")
		board, err := store.Get(r.Context(), id)
		if err != nil {
			renderStoreError(w, r, err, "board")
			return
		}
		if board.OwnerID != claims.Subject {
			renderError(w, r, http.StatusForbidden, "forbidden")
			return
		}

		if err := store.Delete(r.Context(), id); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"board_id": id,
			}).Error("Failed to delete board")
			renderStoreError(w, r, err, "board")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSaveArtboard replaces an artboard snapshot wholesale. Owner only.
// Snapshots with no elements are accepted but never written: a load-time
// empty echo must not clobber previously saved work.
func HandleSaveArtboard(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			renderError(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}

		id := chi.URLParam(r, "id")
		artboardID := chi.URLParam(r, "artboardId")
		log := logrus.WithFields(logrus.Fields{
			"board_id":    id,
			"artboard_id": artboardID,
			"userID":      claims.Subject,
		})

		board, err := store.Get(r.Context(), id)
		if err != nil {
			renderStoreError(w, r, err, "board")
			return
		}
		if board.OwnerID != claims.Subject {
			renderError(w, r, http.StatusForbidden, "forbidden")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.WithError(err).Error("Failed to read request body")
			renderError(w, r, http.StatusInternalServerError, "Failed to read request body")
			return
		}
		defer r.Body.Close()

		s, encoding, err := scene.Normalize(body)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, "Invalid snapshot")
			return
		}
		if len(s.Elements) == 0 || scene.AllDeleted(s.Elements) {
			log.Debug("Ignoring empty snapshot write")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		snapshot, err := scene.Marshal(s)
		if err != nil {
			renderError(w, r, http.StatusInternalServerError, "Failed to encode snapshot")
			return
		}
		if err := store.SaveArtboard(r.Context(), id, artboardID, snapshot); err != nil {
			log.WithError(err).Error("Failed to save artboard")
			renderStoreError(w, r, err, "artboard")
			return
		}
		log.WithField("encoding", encoding.String()).Debug("Artboard saved")
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleFork copies a readable board into a new board owned by the caller.
// The request body may carry the forker's current scene; otherwise the
// last-saved snapshot of the first artboard is used.
func HandleFork(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			renderError(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}

		id := chi.URLParam(r, "id")
		source, err := store.Get(r.Context(), id)
		if err != nil {
			renderStoreError(w, r, err, "board")
			return
		}
		if !canRead(source, claims.Subject) {
			renderError(w, r, http.StatusForbidden, "forbidden")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			renderError(w, r, http.StatusInternalServerError, "Failed to read request body")
			return
		}
		defer r.Body.Close()

		snapshot := body
		if s, _, err := scene.Normalize(body); err != nil || len(s.Elements) == 0 {
			if len(source.Artboards) > 0 {
				snapshot = source.Artboards[0].Snapshot
			} else {
				snapshot = nil
			}
		} else {
			snapshot, err = scene.Marshal(s)
			if err != nil {
				renderError(w, r, http.StatusInternalServerError, "Failed to encode snapshot")
				return
			}
		}

		fork := &core.Board{
			OwnerID:    claims.Subject,
			Title:      "Copy of " + source.Title,
			Visibility: core.VisibilityPrivate,
			Artboards:  []*core.Artboard{{Snapshot: snapshot}},
		}
		if err := store.Create(r.Context(), fork); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"board_id": id,
				"userID":   claims.Subject,
			}).Error("Failed to fork board")
			renderError(w, r, http.StatusInternalServerError, "Failed to fork board")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, fork)
	}
}

// HandleMe returns the caller's identity, backing the current-user lookup.
func HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			renderError(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}
		render.JSON(w, r, core.User{
			Subject:   claims.Subject,
			Login:     claims.Login,
			Email:     claims.Email,
			AvatarURL: claims.AvatarURL,
			Name:      claims.Name,
		})
	}
}
