package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"boardsync/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type store struct {
	basePath string
}

// NewStore creates a filesystem-backed store. Each board lives in one JSON
// file under basePath/boards.
func NewStore(basePath string) *store {
	if err := os.MkdirAll(filepath.Join(basePath, "boards"), 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &store{basePath: basePath}
}

func (s *store) boardPath(id string) (string, error) {
	// A board id must be a simple name, never a path.
	if id == "" || filepath.Base(id) != id || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid board id")
	}
	return filepath.Join(s.basePath, "boards", id+".json"), nil
}

func (s *store) read(id string) (*core.Board, error) {
	path, err := s.boardPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	var board core.Board
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("unmarshal board %s: %w", id, err)
	}
	return &board, nil
}

func (s *store) write(board *core.Board) error {
	path, err := s.boardPath(board.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(board)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *store) Create(ctx context.Context, board *core.Board) error {
	now := time.Now()
	board.ID = ulid.Make().String()
	board.CreatedAt = now
	board.UpdatedAt = now
	if board.Visibility == "" {
		board.Visibility = core.VisibilityPrivate
	}
	for i, ab := range board.Artboards {
		ab.ID = ulid.Make().String()
		ab.BoardID = board.ID
		ab.Index = i
		ab.UpdatedAt = now
	}

	if err := s.write(board); err != nil {
		logrus.WithError(err).WithField("board_id", board.ID).Error("Failed to create board")
		return err
	}
	logrus.WithFields(logrus.Fields{
		"board_id": board.ID,
		"owner_id": board.OwnerID,
	}).Info("Board created")
	return nil
}

func (s *store) Get(ctx context.Context, id string) (*core.Board, error) {
	return s.read(id)
}

func (s *store) ListByOwner(ctx context.Context, ownerID string) ([]*core.Board, error) {
	dir := filepath.Join(s.basePath, "boards")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.Board{}, nil
		}
		return nil, err
	}

	boards := make([]*core.Board, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		board, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			logrus.WithError(err).Warnf("Skipping unreadable board file %s", entry.Name())
			continue
		}
		if board.OwnerID != ownerID {
			continue
		}
		board.Artboards = nil
		boards = append(boards, board)
	}

	sort.Slice(boards, func(i, j int) bool {
		if boards[i].UpdatedAt.Equal(boards[j].UpdatedAt) {
			return boards[i].ID < boards[j].ID
		}
		return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
	})
	return boards, nil
}

func (s *store) Update(ctx context.Context, id string, upd core.BoardUpdate) error {
	board, err := s.read(id)
	if err != nil {
		return err
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
	board.UpdatedAt = time.Now()
	return s.write(board)
}

func (s *store) Delete(ctx context.Context, id string) error {
	path, err := s.boardPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return core.ErrNotFound
		}
		return err
	}
	logrus.WithField("board_id", id).Info("Board deleted")
	return nil
}

func (s *store) SaveArtboard(ctx context.Context, boardID, artboardID string, snapshot []byte) error {
	board, err := s.read(boardID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, ab := range board.Artboards {
		if ab.ID == artboardID {
			ab.Snapshot = append([]byte(nil), snapshot...)
			ab.UpdatedAt = now
			board.UpdatedAt = now
			return s.write(board)
		}
	}
	return core.ErrNotFound
}
