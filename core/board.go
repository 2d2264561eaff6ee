package core

import (
	"context"
	"time"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is one of the two supported visibility modes.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

type (
	// Board is a named, owned, visibility-scoped container for drawable
	// content. A board always carries at least one artboard once created.
	Board struct {
		ID         string      `json:"id"`
		OwnerID    string      `json:"ownerId"`
		Title      string      `json:"title"`
		Visibility Visibility  `json:"visibility"`
		Thumbnail  string      `json:"thumbnail,omitempty"`
		CreatedAt  time.Time   `json:"createdAt"`
		UpdatedAt  time.Time   `json:"updatedAt"`
		Artboards  []*Artboard `json:"artboards,omitempty"`
	}

	// Artboard holds the durable snapshot of one drawing surface. The
	// snapshot is an opaque canonical envelope; it is replaced wholesale on
	// every save and never patched.
	Artboard struct {
		ID        string    `json:"id"`
		BoardID   string    `json:"boardId"`
		Index     int       `json:"index"`
		Snapshot  []byte    `json:"snapshot,omitempty"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// BoardUpdate is a partial update. Nil fields are left untouched.
	BoardUpdate struct {
		Title      *string
		Visibility *Visibility
		Thumbnail  *string
	}

	// BoardStore defines the persistence layer for boards. Ownership and
	// visibility checks are the caller's concern; stores only enforce
	// row-level integrity.
	BoardStore interface {
		// Create persists a new board and its artboards, assigning ids and
		// timestamps in place.
		Create(ctx context.Context, board *Board) error

		// Get returns a board with its artboards, snapshots included.
		// Returns ErrNotFound if no such board exists.
		Get(ctx context.Context, id string) (*Board, error)

		// ListByOwner returns light rows (no snapshots) for all boards
		// owned by a user.
		ListByOwner(ctx context.Context, ownerID string) ([]*Board, error)

		// Update applies a partial update and bumps the board's UpdatedAt.
		Update(ctx context.Context, id string, upd BoardUpdate) error

		// Delete removes a board and all of its artboards.
		Delete(ctx context.Context, id string) error

		// SaveArtboard replaces an artboard's snapshot wholesale and bumps
		// both the artboard's and the board's UpdatedAt.
		SaveArtboard(ctx context.Context, boardID, artboardID string, snapshot []byte) error
	}
)
