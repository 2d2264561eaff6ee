package transport

import (
	"context"
	"fmt"
	"sync"
)

// Bus is the in-process Transport: synchronous fan-out to every other
// subscriber of the same board. Delivery order is whatever order publishes
// happen in; the last delivered scene wins by design.
type Bus struct {
	mu    sync.RWMutex
	rooms map[string][]*busConn
}

func NewBus() *Bus {
	return &Bus{rooms: make(map[string][]*busConn)}
}

type busConn struct {
	bus     *Bus
	boardID string
	fn      Handler

	mu     sync.Mutex
	closed bool
}

func (b *Bus) Subscribe(ctx context.Context, boardID string, fn Handler) (Conn, error) {
	if boardID == "" {
		return nil, fmt.Errorf("board id is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("handler is required")
	}

	conn := &busConn{bus: b, boardID: boardID, fn: fn}
	b.mu.Lock()
	b.rooms[boardID] = append(b.rooms[boardID], conn)
	b.mu.Unlock()
	return conn, nil
}

// Subscribers returns the number of live subscriptions for a board.
func (b *Bus) Subscribers(boardID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[boardID])
}

func (c *busConn) Publish(ctx context.Context, msg Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("publish on closed subscription")
	}
	c.mu.Unlock()

	c.bus.mu.RLock()
	peers := make([]*busConn, 0, len(c.bus.rooms[c.boardID]))
	for _, peer := range c.bus.rooms[c.boardID] {
		if peer != c {
			peers = append(peers, peer)
		}
	}
	c.bus.mu.RUnlock()

	// Deliver outside the bus lock so handlers may publish in turn.
	for _, peer := range peers {
		peer.deliver(msg)
	}
	return nil
}

func (c *busConn) deliver(msg Message) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.fn(msg)
	}
}

func (c *busConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bus.mu.Lock()
	conns := c.bus.rooms[c.boardID]
	for i, peer := range conns {
		if peer == c {
			c.bus.rooms[c.boardID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(c.bus.rooms[c.boardID]) == 0 {
		delete(c.bus.rooms, c.boardID)
	}
	c.bus.mu.Unlock()
	return nil
}
