package realtime

import (
	"testing"

	"boardsync/transport"
)

func TestDecodeMessage_SceneChanged(t *testing.T) {
	payload := map[string]any{
		"elements":        []any{map[string]any{"id": "el1", "type": "rectangle"}},
		"backgroundColor": "#ffffff",
	}
	msg, err := decodeMessage(transport.KindSceneChanged, payload)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if msg.Kind != transport.KindSceneChanged {
		t.Errorf("expected kind scene-changed, got %q", msg.Kind)
	}
	if len(msg.Elements) != 1 {
		t.Errorf("expected one element, got %d", len(msg.Elements))
	}
	if msg.BackgroundColor != "#ffffff" {
		t.Errorf("unexpected background %q", msg.BackgroundColor)
	}
}

func TestDecodeMessage_EventNameOverridesPayloadKind(t *testing.T) {
	payload := map[string]any{"kind": "scene-changed", "x": 10.5, "y": -3.0}
	msg, err := decodeMessage(transport.KindPointerMoved, payload)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if msg.Kind != transport.KindPointerMoved {
		t.Errorf("payload kind should be ignored, got %q", msg.Kind)
	}
	if msg.X != 10.5 || msg.Y != -3.0 {
		t.Errorf("unexpected coordinates: %v, %v", msg.X, msg.Y)
	}
}

func TestDecodeMessage_RejectsNonObjectPayload(t *testing.T) {
	if _, err := decodeMessage(transport.KindPointerMoved, "not-an-object"); err == nil {
		t.Error("expected error for scalar payload")
	}
}

func TestRelay_RoomCountBookkeeping(t *testing.T) {
	r := NewRelay(transport.NewBus(), nil)

	r.setRoomCount("board-1", 2)
	r.setRoomCount("board-2", 1)

	rooms := r.ActiveRooms()
	if rooms["board-1"] != 2 || rooms["board-2"] != 1 {
		t.Fatalf("unexpected counts: %v", rooms)
	}

	// Mutating the copy must not touch the relay's state.
	rooms["board-1"] = 99
	if r.ActiveRooms()["board-1"] != 2 {
		t.Error("ActiveRooms should return a copy")
	}

	r.setRoomCount("board-1", 0)
	if _, ok := r.ActiveRooms()["board-1"]; ok {
		t.Error("empty room should be dropped from the map")
	}
}
