package core

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Room is a time-boxed channel with its own membership and optional password.
// All mutable state is guarded by mu; deferred actions take mu before touching it.
type Room struct {
	ID string

	createdAt time.Time
	expiresAt time.Time

	mu           sync.Mutex
	adminName    string
	passwordHash string
	hasPassword  bool
	members      []*Connection
	ghosts       map[string]*ghost
	ghostSeq     uint64
	expiry       *clock.Timer
	closed       bool
}

// ghost stands in for a disconnected device during the grace period.
type ghost struct {
	name           string
	color          string
	disconnectedAt time.Time
	seq            uint64
	timer          *clock.Timer
}

// PublishResult reports per-recipient delivery of one fanout.
type PublishResult struct {
	Delivered int
	Dropped   []*Connection
}

func newRoom(id, adminName string, createdAt, expiresAt time.Time) *Room {
	return &Room{
		ID:        id,
		createdAt: createdAt,
		expiresAt: expiresAt,
		adminName: adminName,
		ghosts:    make(map[string]*ghost),
	}
}

// CreatedAt is when the room was created.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// ExpiresAt is fixed at creation.
func (r *Room) ExpiresAt() time.Time { return r.expiresAt }

// AdminName returns the display name holding admin authority.
func (r *Room) AdminName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adminName
}

// HasPassword reports whether joins must present the room password.
func (r *Room) HasPassword() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasPassword
}

// MemberCount returns the number of live connections.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Members returns live members in admission order.
func (r *Room) Members() []MemberView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MemberView, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, MemberView{Name: c.name, Color: c.color})
	}
	return out
}

// FindByName returns the live member with this exact display name.
func (r *Room) FindByName(name string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByNameLocked(name)
}

// FindByDevice returns the live member attached to this device.
func (r *Room) FindByDevice(deviceID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByDeviceLocked(deviceID)
}

// Closed reports whether the room has been torn down.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) findByNameLocked(name string) *Connection {
	for _, c := range r.members {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (r *Room) findByDeviceLocked(deviceID string) *Connection {
	if deviceID == "" {
		return nil
	}
	for _, c := range r.members {
		if c.DeviceID == deviceID {
			return c
		}
	}
	return nil
}

func (r *Room) findByIDLocked(id string) *Connection {
	for _, c := range r.members {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (r *Room) isMemberLocked(c *Connection) bool {
	for _, m := range r.members {
		if m == c {
			return true
		}
	}
	return false
}

func (r *Room) isAdminLocked(c *Connection) bool {
	return c.name == r.adminName
}

func (r *Room) addMemberLocked(c *Connection) bool {
	if r.isMemberLocked(c) {
		return false
	}
	r.members = append(r.members, c)
	return true
}

func (r *Room) removeMemberLocked(c *Connection) bool {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// broadcastLocked fans one event out to every live member.
// Delivery is best-effort per recipient; a full queue never blocks the room.
func (r *Room) broadcastLocked(ev *Event) PublishResult {
	res := PublishResult{}
	for _, c := range r.members {
		if c.deliver(ev) {
			res.Delivered++
			continue
		}
		res.Dropped = append(res.Dropped, c)
	}
	return res
}

// clearGhostLocked removes a ghost and cancels its pending cleanup.
func (r *Room) clearGhostLocked(deviceID string) {
	g, ok := r.ghosts[deviceID]
	if !ok {
		return
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	delete(r.ghosts, deviceID)
}

// ghostDevicesLocked returns ghost device ids ordered by disconnect time.
func (r *Room) ghostDevicesLocked() []string {
	ids := make([]string, 0, len(r.ghosts))
	for id := range r.ghosts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.ghosts[ids[i]], r.ghosts[ids[j]]
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return ids[i] < ids[j]
	})
	return ids
}
