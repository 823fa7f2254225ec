package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/metrics"
	"github.com/sirupsen/logrus"
)

const sendBuffer = 64

var ErrRoomNotAllowed = errors.New("realtime: only thread rooms can be joined or left")

// Message is the form an event travels in between instances.
type Message struct {
	Name  string          `json:"event"`
	Rooms []string        `json:"rooms"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one connected client as seen by the hub.
type Conn struct {
	UserID string

	send   chan []byte
	rooms  map[string]struct{}
	closed bool
}

// Send yields the encoded frames for the client. It is closed when the hub
// drops the connection.
func (c *Conn) Send() <-chan []byte { return c.send }

// Hub tracks the rooms of the connections on this instance.
type Hub struct {
	log    logrus.FieldLogger
	buffer int

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:    log,
		buffer: sendBuffer,
		rooms:  make(map[string]map[*Conn]struct{}),
	}
}

// Connect registers a client in its private room. Admins also join the
// broadcast room.
func (h *Hub) Connect(clm claims.Claims) *Conn {
	c := &Conn{
		UserID: clm.UserID,
		send:   make(chan []byte, h.buffer),
		rooms:  make(map[string]struct{}),
	}

	h.mu.Lock()
	h.join(c, UserRoom(clm.UserID))
	if clm.IsAdmin() {
		h.join(c, RoomBroadcast)
	}
	h.mu.Unlock()

	metrics.RealtimeConnections.Inc()
	return c
}

func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

func (h *Hub) drop(c *Conn) {
	if c.closed {
		return
	}
	for room := range c.rooms {
		members := h.rooms[room]
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	c.closed = true
	close(c.send)
	metrics.RealtimeConnections.Dec()
}

func (h *Hub) join(c *Conn, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Join adds the client to a thread room. Membership of the thread is the
// caller's to check.
func (h *Hub) Join(c *Conn, room string) error {
	if !IsThreadRoom(room) {
		return ErrRoomNotAllowed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !c.closed {
		h.join(c, room)
	}
	return nil
}

func (h *Hub) Leave(c *Conn, room string) error {
	if !IsThreadRoom(room) {
		return ErrRoomNotAllowed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
	return nil
}

// InRoom reports whether the client has joined room.
func (h *Hub) InRoom(c *Conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// Reply sends a frame to c alone. A full buffer drops the frame, not the
// client.
func (h *Hub) Reply(c *Conn, name string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		h.log.WithError(err).WithField("event", name).Error("encoding realtime reply")
		return
	}
	f, err := json.Marshal(frame{Event: name, Data: b})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

// Deliver sends m once to every client in any of its rooms and returns the
// number of clients reached. Clients whose buffer is full are dropped.
func (h *Hub) Deliver(m Message) int {
	b, err := json.Marshal(frame{Event: m.Name, Data: m.Data})
	if err != nil {
		h.log.WithError(err).WithField("event", m.Name).Error("encoding realtime frame")
		return 0
	}

	var sent int
	var slow []*Conn
	seen := make(map[*Conn]bool)

	h.mu.RLock()
	for _, room := range m.Rooms {
		for c := range h.rooms[room] {
			if seen[c] {
				continue
			}
			seen[c] = true

			select {
			case c.send <- b:
				sent++
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			h.log.WithField("user_id", c.UserID).Warn("dropping slow realtime client")
			h.drop(c)
		}
		h.mu.Unlock()
	}
	return sent
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, members := range h.rooms {
		for c := range members {
			h.drop(c)
		}
	}
}
