package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"boardsync/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type store struct {
	mu     sync.RWMutex
	boards map[string]*core.Board
	rooms  map[string]int64
}

// NewStore creates an in-memory store, the default backend.
func NewStore() *store {
	return &store{
		boards: make(map[string]*core.Board),
		rooms:  make(map[string]int64),
	}
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

	s.mu.Lock()
	s.boards[board.ID] = cloneBoard(board, true)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"board_id":  board.ID,
		"owner_id":  board.OwnerID,
		"artboards": len(board.Artboards),
	}).Info("Board created")
	return nil
}

func (s *store) Get(ctx context.Context, id string) (*core.Board, error) {
	s.mu.RLock()
	board, ok := s.boards[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneBoard(board, true), nil
}

func (s *store) ListByOwner(ctx context.Context, ownerID string) ([]*core.Board, error) {
	s.mu.RLock()
	boards := make([]*core.Board, 0)
	for _, board := range s.boards {
		if board.OwnerID == ownerID {
			boards = append(boards, cloneBoard(board, false))
		}
	}
	s.mu.RUnlock()

	sort.Slice(boards, func(i, j int) bool {
		if boards[i].UpdatedAt.Equal(boards[j].UpdatedAt) {
			return boards[i].ID < boards[j].ID
		}
		return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
	})
	return boards, nil
}

func (s *store) Update(ctx context.Context, id string, upd core.BoardUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[id]
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
	board.UpdatedAt = time.Now()
	return nil
}

func (s *store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boards[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.boards, id)
	logrus.WithField("board_id", id).Info("Board deleted")
	return nil
}

func (s *store) SaveArtboard(ctx context.Context, boardID, artboardID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[boardID]
	if !ok {
		return core.ErrNotFound
	}
	for _, ab := range board.Artboards {
		if ab.ID == artboardID {
			ab.Snapshot = append([]byte(nil), snapshot...)
			now := time.Now()
			ab.UpdatedAt = now
			board.UpdatedAt = now
			logrus.WithFields(logrus.Fields{
				"board_id":    boardID,
				"artboard_id": artboardID,
				"data_length": len(snapshot),
			}).Debug("Artboard snapshot saved")
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *store) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return core.ErrNotFound
	}
	s.mu.Lock()
	s.rooms[roomID] = time.Now().UnixMilli()
	s.mu.Unlock()
	return nil
}

func (s *store) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}
	s.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})
	return rooms, nil
}

func cloneBoard(b *core.Board, withSnapshots bool) *core.Board {
	clone := *b
	clone.Artboards = make([]*core.Artboard, len(b.Artboards))
	for i, ab := range b.Artboards {
		abClone := *ab
		if withSnapshots {
			abClone.Snapshot = append([]byte(nil), ab.Snapshot...)
		} else {
			abClone.Snapshot = nil
		}
		clone.Artboards[i] = &abClone
	}
	return &clone
}
