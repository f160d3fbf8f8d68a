package core

// Leave removes a connection whose transport has gone away. A member with a
// device id becomes a ghost for the grace period; one without leaves at once.
// Connections already removed by a kick, rename or expiry are ignored.
func (r *Registry) Leave(c *Connection) {
	room := c.room
	room.mu.Lock()
	defer room.mu.Unlock()

	c.close(CloseGoingAway, "left")
	if room.closed || !room.removeMemberLocked(c) {
		return
	}
	r.observer.MemberLeft(1)
	r.log.Info().Str("room", room.ID).Str("conn_id", c.ID).Str("name", c.name).Str("device", c.DeviceID).Msg("member disconnected")

	if c.DeviceID == "" {
		r.systemLocked(room, c.name+" left the room")
		r.broadcastMembersLocked(room)
		return
	}
	r.ghostLocked(room, c)
}

// ghostLocked records a departed device and replaces any pending cleanup for it.
func (r *Registry) ghostLocked(room *Room, c *Connection) {
	dev := c.DeviceID
	room.clearGhostLocked(dev)

	room.ghostSeq++
	seq := room.ghostSeq
	g := &ghost{
		name:           c.name,
		color:          c.color,
		disconnectedAt: r.clock.Now(),
		seq:            seq,
	}
	g.timer = r.clock.AfterFunc(r.settings.GracePeriod+r.settings.GhostCleanupSlack, func() {
		r.sweepGhost(room, dev, seq)
	})
	room.ghosts[dev] = g
}

// sweepGhost is the deferred cleanup. It only acts on the ghost it was scheduled for.
func (r *Registry) sweepGhost(room *Room, dev string, seq uint64) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return
	}
	g, ok := room.ghosts[dev]
	if !ok || g.seq != seq {
		return
	}
	if r.clock.Since(g.disconnectedAt) <= r.settings.GracePeriod {
		return
	}
	delete(room.ghosts, dev)

	r.systemLocked(room, g.name+" left the room")
	r.broadcastMembersLocked(room)
	r.log.Debug().Str("room", room.ID).Str("device", dev).Str("name", g.name).Msg("ghost expired")
}

// IsGhostActive reports whether dev left room within the grace period.
// Stale entries are purged as a side effect.
func (r *Registry) IsGhostActive(roomID, dev string) bool {
	room, ok := r.GetRoom(roomID)
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return r.isGhostActiveLocked(room, dev)
}

func (r *Registry) isGhostActiveLocked(room *Room, dev string) bool {
	g, ok := room.ghosts[dev]
	if !ok {
		return false
	}
	if r.clock.Since(g.disconnectedAt) <= r.settings.GracePeriod {
		return true
	}
	room.clearGhostLocked(dev)
	return false
}

// BroadcastMembers republishes the roster of room.
func (r *Registry) BroadcastMembers(roomID string) {
	room, ok := r.GetRoom(roomID)
	if !ok {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return
	}
	r.broadcastMembersLocked(room)
}

// broadcastMembersLocked publishes live members followed by active ghosts.
// A ghost is hidden when its device or its name is held by a live member.
func (r *Registry) broadcastMembersLocked(room *Room) {
	roster := make([]MemberView, 0, len(room.members)+len(room.ghosts))
	devices := make(map[string]struct{}, len(room.members))
	names := make(map[string]struct{}, len(room.members))
	for _, c := range room.members {
		roster = append(roster, MemberView{Name: c.name, Color: r.colorOrDefault(c.color)})
		names[c.name] = struct{}{}
		if c.DeviceID != "" {
			devices[c.DeviceID] = struct{}{}
		}
	}

	for _, dev := range room.ghostDevicesLocked() {
		if _, live := devices[dev]; live {
			continue
		}
		if !r.isGhostActiveLocked(room, dev) {
			continue
		}
		g := room.ghosts[dev]
		if _, taken := names[g.name]; taken {
			continue
		}
		names[g.name] = struct{}{}
		roster = append(roster, MemberView{Name: g.name, Color: r.colorOrDefault(g.color)})
	}

	r.publishLocked(room, &Event{Kind: EventMembers, At: r.clock.Now(), Members: roster})
}

func (r *Registry) colorOrDefault(color string) string {
	if color == "" {
		return r.settings.DefaultColor
	}
	return color
}
