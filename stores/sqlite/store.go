package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"boardsync/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type store struct {
	db *sql.DB
}

// NewStore creates a SQLite-backed store and initializes the schema.
func NewStore(dataSourceName string) *store {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	boardsTable := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT,
		visibility TEXT NOT NULL DEFAULT 'private',
		thumbnail TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(boardsTable); err != nil {
		log.Fatalf("failed to create boards table: %v", err)
	}

	artboardsTable := `
	CREATE TABLE IF NOT EXISTS artboards (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		idx INTEGER NOT NULL DEFAULT 0,
		snapshot BLOB,
		updated_at DATETIME
	);`
	if _, err = db.Exec(artboardsTable); err != nil {
		log.Fatalf("failed to create artboards table: %v", err)
	}

	roomsTable := `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		last_active INTEGER NOT NULL
	);`
	if _, err = db.Exec(roomsTable); err != nil {
		log.Fatalf("failed to create rooms table: %v", err)
	}

	return &store{db}
}

func (s *store) Create(ctx context.Context, board *core.Board) error {
	now := time.Now()
	board.ID = ulid.Make().String()
	board.CreatedAt = now
	board.UpdatedAt = now
	if board.Visibility == "" {
		board.Visibility = core.VisibilityPrivate
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO boards (id, owner_id, title, visibility, thumbnail, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		board.ID, board.OwnerID, board.Title, board.Visibility, board.Thumbnail, now, now)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}

	for i, ab := range board.Artboards {
		ab.ID = ulid.Make().String()
		ab.BoardID = board.ID
		ab.Index = i
		ab.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			"INSERT INTO artboards (id, board_id, idx, snapshot, updated_at) VALUES (?, ?, ?, ?, ?)",
			ab.ID, board.ID, i, ab.Snapshot, now)
		if err != nil {
			return fmt.Errorf("insert artboard: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"board_id": board.ID,
		"owner_id": board.OwnerID,
	}).Info("Board created")
	return nil
}

func (s *store) Get(ctx context.Context, id string) (*core.Board, error) {
	log := logrus.WithField("board_id", id)

	var board core.Board
	var thumbnail sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, title, visibility, thumbnail, created_at, updated_at FROM boards WHERE id = ?",
		id).Scan(&board.ID, &board.OwnerID, &board.Title, &board.Visibility, &thumbnail, &board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Board not found")
			return nil, core.ErrNotFound
		}
		log.WithError(err).Error("Failed to retrieve board")
		return nil, err
	}
	board.Thumbnail = thumbnail.String

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, board_id, idx, snapshot, updated_at FROM artboards WHERE board_id = ? ORDER BY idx ASC", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ab core.Artboard
		if err := rows.Scan(&ab.ID, &ab.BoardID, &ab.Index, &ab.Snapshot, &ab.UpdatedAt); err != nil {
			return nil, err
		}
		board.Artboards = append(board.Artboards, &ab)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &board, nil
}

func (s *store) ListByOwner(ctx context.Context, ownerID string) ([]*core.Board, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner_id, title, visibility, thumbnail, created_at, updated_at FROM boards WHERE owner_id = ? ORDER BY updated_at DESC, id ASC",
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var boards []*core.Board
	for rows.Next() {
		var board core.Board
		var thumbnail sql.NullString
		if err := rows.Scan(&board.ID, &board.OwnerID, &board.Title, &board.Visibility, &thumbnail, &board.CreatedAt, &board.UpdatedAt); err != nil {
			return nil, err
		}
		board.Thumbnail = thumbnail.String
		boards = append(boards, &board)
	}
	return boards, rows.Err()
}

func (s *store) Update(ctx context.Context, id string, upd core.BoardUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if upd.Title != nil {
		if _, err := tx.ExecContext(ctx, "UPDATE boards SET title = ? WHERE id = ?", *upd.Title, id); err != nil {
			return err
		}
	}
	if upd.Visibility != nil {
		if _, err := tx.ExecContext(ctx, "UPDATE boards SET visibility = ? WHERE id = ?", *upd.Visibility, id); err != nil {
			return err
		}
	}
	if upd.Thumbnail != nil {
		if _, err := tx.ExecContext(ctx, "UPDATE boards SET thumbnail = ? WHERE id = ?", *upd.Thumbnail, id); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx, "UPDATE boards SET updated_at = ? WHERE id = ?", time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return tx.Commit()
}

func (s *store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM boards WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM artboards WHERE board_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *store) SaveArtboard(ctx context.Context, boardID, artboardID string, snapshot []byte) error {
	log := logrus.WithFields(logrus.Fields{
		"board_id":    boardID,
		"artboard_id": artboardID,
		"data_length": len(snapshot),
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		"UPDATE artboards SET snapshot = ?, updated_at = ? WHERE id = ? AND board_id = ?",
		snapshot, now, artboardID, boardID)
	if err != nil {
		log.WithError(err).Error("Failed to save artboard snapshot")
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "UPDATE boards SET updated_at = ? WHERE id = ?", now, boardID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Debug("Artboard snapshot saved")
	return nil
}

func (s *store) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (room_id, last_active) VALUES (?, ?) ON CONFLICT(room_id) DO UPDATE SET last_active = ?",
		roomID, time.Now().UnixMilli(), time.Now().UnixMilli())
	return err
}

func (s *store) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT room_id, last_active FROM rooms ORDER BY last_active DESC, room_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []core.Room
	for rows.Next() {
		var room core.Room
		if err := rows.Scan(&room.ID, &room.LastActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
