package core

import "sync"

// Closure is the status a connection was closed with by its room.
type Closure struct {
	Code   CloseCode
	Reason string
}

// Connection is a room member as seen by the core layer.
// The transport owns the underlying socket; the room only keeps a reference while the connection is a member.
type Connection struct {
	ID       string
	RoomID   string
	DeviceID string

	room *Room

	// Guarded by room.mu.
	name  string
	color string

	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once
	closure   Closure
}

func newConnection(id string, room *Room, name, color, deviceID string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		ID:       id,
		RoomID:   room.ID,
		DeviceID: deviceID,
		room:     room,
		name:     name,
		color:    color,
		events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
	}
}

// Events yields events queued for this connection in room order.
func (c *Connection) Events() <-chan *Event {
	return c.events
}

// Done is closed when the room wants the transport to close the connection.
// Events queued before Done was closed should still be flushed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Closure returns the close status. Only meaningful after Done is closed.
func (c *Connection) Closure() Closure {
	<-c.done
	return c.closure
}

// Name returns the current display name.
func (c *Connection) Name() string {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return c.name
}

// Color returns the current display color.
func (c *Connection) Color() string {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return c.color
}

// IsAdmin reports whether the connection currently holds admin authority.
func (c *Connection) IsAdmin() bool {
	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	return c.room.isAdminLocked(c)
}

// deliver enqueues an event without blocking. It reports false when the
// queue is full or the connection is already closing.
func (c *Connection) deliver(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Connection) close(code CloseCode, reason string) {
	c.closeOnce.Do(func() {
		c.closure = Closure{Code: code, Reason: reason}
		close(c.done)
	})
}
