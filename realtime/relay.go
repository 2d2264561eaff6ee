// Package realtime bridges socket.io clients onto the in-process broadcast
// bus. Remote viewers and embedded session controllers share one delivery
// path: every participant holds a bus subscription, and a socket event is
// published through its own subscription so the publisher never hears itself.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"boardsync/core"
	"boardsync/transport"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Relay owns the socket.io server and the per-socket bus subscriptions.
type Relay struct {
	srv      *socketio.Server
	bus      *transport.Bus
	registry core.RoomRegistry

	mu          sync.RWMutex
	activeRooms map[string]int
	conns       map[socketio.SocketId]transport.Conn
	rooms       map[socketio.SocketId]string
}

// NewRelay builds the socket.io server and wires its events to the bus.
// registry may be nil when the configured store keeps no room registry.
func NewRelay(bus *transport.Bus, registry core.RoomRegistry) *Relay {
	r := &Relay{
		bus:         bus,
		registry:    registry,
		activeRooms: make(map[string]int),
		conns:       make(map[socketio.SocketId]transport.Conn),
		rooms:       make(map[socketio.SocketId]string),
	}

	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	r.srv = socketio.NewServer(nil, opts)

	r.srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		r.handleConnection(socket)
	})
	return r
}

// Server exposes the underlying socket.io server for mounting and shutdown.
func (r *Relay) Server() *socketio.Server {
	return r.srv
}

// ActiveRooms returns a copy of the live room occupancy counts.
func (r *Relay) ActiveRooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]int, len(r.activeRooms))
	for k, v := range r.activeRooms {
		rooms[k] = v
	}
	return rooms
}

func (r *Relay) handleConnection(socket *socketio.Socket) {
	me := socket.Id()
	myRoom := socketio.Room(me)
	_ = r.srv.To(myRoom).Emit("init-room")
	logrus.WithField("socket_id", me).Debug("Socket connected")

	socket.On("join-room", func(datas ...any) {
		if len(datas) == 0 {
			return
		}
		boardID, ok := datas[0].(string)
		if !ok || boardID == "" {
			return
		}
		r.joinRoom(socket, boardID)
	})

	socket.On("scene-changed", func(datas ...any) {
		r.relay(socket, transport.KindSceneChanged, datas)
	})

	socket.On("pointer-moved", func(datas ...any) {
		r.relay(socket, transport.KindPointerMoved, datas)
	})

	socket.On("disconnecting", func(datas ...any) {
		r.leaveRoom(socket)
	})

	socket.On("disconnect", func(datas ...any) {
		socket.RemoveAllListeners("")
		socket.Disconnect(true)
	})
}

func (r *Relay) joinRoom(socket *socketio.Socket, boardID string) {
	me := socket.Id()
	myRoom := socketio.Room(me)

	// A socket views one board at a time; re-joining moves it.
	r.leaveRoom(socket)

	conn, err := r.bus.Subscribe(context.Background(), boardID, func(msg transport.Message) {
		_ = socket.Emit("client-broadcast", msg)
	})
	if err != nil {
		logrus.WithError(err).WithField("board_id", boardID).Error("Failed to subscribe socket to bus")
		return
	}

	r.mu.Lock()
	r.conns[me] = conn
	r.rooms[me] = boardID
	r.mu.Unlock()

	room := socketio.Room(boardID)
	socket.Join(room)
	logrus.WithFields(logrus.Fields{
		"socket_id": me,
		"board_id":  boardID,
	}).Debug("Socket joined room")

	r.touch(boardID)

	r.srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, fetchErr error) {
		if fetchErr != nil {
			logrus.WithError(fetchErr).Error("Failed to fetch room sockets")
			return
		}
		r.setRoomCount(boardID, len(users))

		if len(users) <= 1 {
			_ = r.srv.To(myRoom).Emit("first-in-room")
		} else {
			_ = socket.Broadcast().To(room).Emit("new-user", me)
		}

		roomUsers := make([]socketio.SocketId, 0, len(users))
		for _, user := range users {
			roomUsers = append(roomUsers, user.Id())
		}
		r.srv.In(room).Emit("room-user-change", roomUsers)
	})
}

func (r *Relay) leaveRoom(socket *socketio.Socket) {
	me := socket.Id()

	r.mu.Lock()
	conn := r.conns[me]
	boardID := r.rooms[me]
	delete(r.conns, me)
	delete(r.rooms, me)
	r.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()

	room := socketio.Room(boardID)
	socket.Leave(room)

	r.srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
		otherClients := make([]socketio.SocketId, 0, len(users))
		for _, user := range users {
			if user.Id() != me {
				otherClients = append(otherClients, user.Id())
			}
		}
		r.setRoomCount(boardID, len(otherClients))
		if len(otherClients) > 0 {
			r.srv.In(room).Emit("room-user-change", otherClients)
		}
	})
}

// relay publishes a socket's update through its own bus subscription, so the
// bus handles fan-out to both remote sockets and in-process subscribers.
func (r *Relay) relay(socket *socketio.Socket, kind transport.Kind, datas []any) {
	me := socket.Id()

	r.mu.RLock()
	conn := r.conns[me]
	boardID := r.rooms[me]
	r.mu.RUnlock()

	if conn == nil {
		logrus.WithField("socket_id", me).Debug("Dropping update from socket outside any room")
		return
	}
	if len(datas) == 0 {
		return
	}

	msg, err := decodeMessage(kind, datas[0])
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"socket_id": me,
			"kind":      kind,
		}).Debug("Dropping malformed realtime payload")
		return
	}
	if err := conn.Publish(context.Background(), msg); err != nil {
		logrus.WithError(err).Debug("Failed to publish realtime message")
		return
	}
	if kind == transport.KindSceneChanged {
		r.touch(boardID)
	}
}

// decodeMessage converts the socket.io payload (decoded as generic JSON) into
// a bus message. The event name decides the kind; a kind inside the payload
// is ignored.
func decodeMessage(kind transport.Kind, data any) (transport.Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return transport.Message{}, fmt.Errorf("encode payload: %w", err)
	}
	var msg transport.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return transport.Message{}, fmt.Errorf("decode payload: %w", err)
	}
	msg.Kind = kind
	return msg, nil
}

func (r *Relay) setRoomCount(boardID string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if count <= 0 {
		delete(r.activeRooms, boardID)
		return
	}
	r.activeRooms[boardID] = count
}

func (r *Relay) touch(boardID string) {
	if r.registry == nil {
		return
	}
	if err := r.registry.TouchRoom(context.Background(), boardID); err != nil {
		logrus.WithError(err).WithField("board_id", boardID).Warn("Failed to touch room registry")
	}
}
