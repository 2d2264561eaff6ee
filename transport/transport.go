// Package transport defines the best-effort broadcast channel between live
// viewers of one board. It is not a source of truth: no acknowledgements, no
// ordering, no replay. A client that misses a message catches up the next
// time a peer publishes or by re-fetching the board.
package transport

import (
	"context"

	"boardsync/scene"
)

type Kind string

const (
	KindSceneChanged Kind = "scene-changed"
	KindPointerMoved Kind = "pointer-moved"
)

// Message is one wire message. SceneChanged always carries the sender's full
// current scene, never a diff.
type Message struct {
	Kind            Kind            `json:"kind"`
	Elements        []scene.Element `json:"elements,omitempty"`
	BackgroundColor string          `json:"backgroundColor,omitempty"`
	X               float64         `json:"x,omitempty"`
	Y               float64         `json:"y,omitempty"`
}

// Handler receives messages published by other subscribers of the same board.
// A subscriber never hears its own publishes.
type Handler func(Message)

type (
	// Conn is one live subscription to a board's room.
	Conn interface {
		Publish(ctx context.Context, msg Message) error
		Close() error
	}

	// Transport opens room subscriptions. Implementations: the in-process
	// Bus, and the socket.io relay in the realtime package which bridges
	// remote sockets onto a Bus.
	Transport interface {
		Subscribe(ctx context.Context, boardID string, fn Handler) (Conn, error)
	}
)
