package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"boardsync/core"
)

func newBoard(owner string) *core.Board {
	return &core.Board{
		OwnerID:    owner,
		Title:      "Untitled board",
		Visibility: core.VisibilityPrivate,
		Artboards:  []*core.Artboard{{}},
	}
}

func TestCreate_AssignsIdentity(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	board := newBoard("github:1")
	if err := store.Create(ctx, board); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if len(board.ID) != 26 {
		t.Errorf("Create() board ID length = %d, want 26 (ULID)", len(board.ID))
	}
	if len(board.Artboards) != 1 {
		t.Fatalf("Create() artboard count = %d, want 1", len(board.Artboards))
	}
	if board.Artboards[0].BoardID != board.ID {
		t.Errorf("artboard BoardID = %q, want %q", board.Artboards[0].BoardID, board.ID)
	}
	if board.CreatedAt.IsZero() || board.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}
}

func TestGet_NotFound(t *testing.T) {
	store := NewStore()

	_, err := store.Get(context.Background(), "nonexistent")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() = %v, want ErrNotFound", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	board := newBoard("github:1")
	if err := store.Create(ctx, board); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	first, err := store.Get(ctx, board.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	first.Title = "mutated"
	first.Artboards[0].Snapshot = []byte("mutated")

	second, err := store.Get(ctx, board.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if second.Title == "mutated" {
		t.Error("Get() leaked a shared board reference")
	}
	if bytes.Equal(second.Artboards[0].Snapshot, []byte("mutated")) {
		t.Error("Get() leaked a shared snapshot reference")
	}
}

func TestSaveArtboard_ReplacesSnapshot(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	board := newBoard("github:1")
	if err := store.Create(ctx, board); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	snapshot := []byte(`{"elements":[{"type":"rectangle"}]}`)
	if err := store.SaveArtboard(ctx, board.ID, board.Artboards[0].ID, snapshot); err != nil {
		t.Fatalf("SaveArtboard() failed: %v", err)
	}
	// Saving the same snapshot twice leaves the row identical.
	if err := store.SaveArtboard(ctx, board.ID, board.Artboards[0].ID, snapshot); err != nil {
		t.Fatalf("second SaveArtboard() failed: %v", err)
	}

	got, err := store.Get(ctx, board.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(got.Artboards[0].Snapshot, snapshot) {
		t.Errorf("snapshot = %s, want %s", got.Artboards[0].Snapshot, snapshot)
	}
	if !got.UpdatedAt.After(board.CreatedAt) && !got.UpdatedAt.Equal(board.CreatedAt) {
		t.Error("SaveArtboard() did not touch board UpdatedAt")
	}
}

func TestSaveArtboard_UnknownIDs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	board := newBoard("github:1")
	if err := store.Create(ctx, board); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := store.SaveArtboard(ctx, "missing", board.Artboards[0].ID, []byte("{}")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("SaveArtboard() with unknown board = %v, want ErrNotFound", err)
	}
	if err := store.SaveArtboard(ctx, board.ID, "missing", []byte("{}")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("SaveArtboard() with unknown artboard = %v, want ErrNotFound", err)
	}
}

func TestListByOwner(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	mine := newBoard("github:1")
	other := newBoard("github:2")
	if err := store.Create(ctx, mine); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.SaveArtboard(ctx, mine.ID, mine.Artboards[0].ID, []byte(`{"elements":[]}`)); err != nil {
		t.Fatalf("SaveArtboard() failed: %v", err)
	}

	boards, err := store.ListByOwner(ctx, "github:1")
	if err != nil {
		t.Fatalf("ListByOwner() failed: %v", err)
	}
	if len(boards) != 1 {
		t.Fatalf("ListByOwner() count = %d, want 1", len(boards))
	}
	if boards[0].ID != mine.ID {
		t.Errorf("ListByOwner() returned wrong board %q", boards[0].ID)
	}
	if boards[0].Artboards[0].Snapshot != nil {
		t.Error("ListByOwner() rows should not carry snapshots")
	}
}

func TestUpdate_PartialFields(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	board := newBoard("github:1")
	if err := store.Create(ctx, board); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	title := "Renamed"
	if err := store.Update(ctx, board.ID, core.BoardUpdate{Title: &title}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	visibility := core.VisibilityPublic
	if err := store.Update(ctx, board.ID, core.BoardUpdate{Visibility: &visibility}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, err := store.Get(ctx, board.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", got.Title)
	}
	if got.Visibility != core.VisibilityPublic {
		t.Errorf("visibility = %q, want public", got.Visibility)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	store := NewStore()

	title := "x"
	if err := store.Update(context.Background(), "missing", core.BoardUpdate{Title: &title}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Update() = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	board := newBoard("github:1")
	if err := store.Create(ctx, board); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.Delete(ctx, board.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, board.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, board.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestRooms(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.TouchRoom(ctx, "room-a"); err != nil {
		t.Fatalf("TouchRoom() failed: %v", err)
	}
	if err := store.TouchRoom(ctx, "room-b"); err != nil {
		t.Fatalf("TouchRoom() failed: %v", err)
	}

	rooms, err := store.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms() failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("ListRooms() count = %d, want 2", len(rooms))
	}
	for _, room := range rooms {
		if room.LastActive == 0 {
			t.Errorf("room %q has no last-active marker", room.ID)
		}
	}
}
