package core

import "context"

type (
	// Room is a realtime collaboration room, keyed by board id. Rooms are
	// ephemeral except for a last-active marker kept by the registry.
	Room struct {
		ID         string
		LastActive int64
	}

	// RoomRegistry records which rooms have seen traffic. Implemented by
	// stores that can persist the marker; the relay degrades gracefully
	// without one.
	RoomRegistry interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
	}
)
