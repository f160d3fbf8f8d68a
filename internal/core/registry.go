package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/burnroom/internal/auth"
	"github.com/vovakirdan/burnroom/internal/utils"
)

// Settings tunes room lifecycle and admission.
type Settings struct {
	GracePeriod        time.Duration
	GhostCleanupSlack  time.Duration
	AdminHelpWindow    time.Duration
	MinDurationMinutes int
	MaxDurationMinutes int
	MinDurationHours   float64
	MaxDurationHours   float64
	DefaultColor       string
	SendBuffer         int
	PasswordCost       int
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		GracePeriod:        30 * time.Minute,
		GhostCleanupSlack:  time.Second,
		AdminHelpWindow:    5 * time.Second,
		MinDurationMinutes: 5,
		MaxDurationMinutes: 1440,
		MinDurationHours:   1,
		MaxDurationHours:   72,
		DefaultColor:       "#2f80ed",
		SendBuffer:         64,
		PasswordCost:       auth.DefaultCost,
	}
}

// TicketIssuer signs upload tickets bound to a live member.
type TicketIssuer interface {
	Issue(roomID, connID string, expiresAt time.Time) (string, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the registry logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithObserver attaches lifecycle counters.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithTickets makes room_info carry an upload ticket.
func WithTickets(t TicketIssuer) Option {
	return func(r *Registry) { r.tickets = t }
}

// WithExpireHook registers a callback run after a room expires and is removed.
func WithExpireHook(fn func(roomID string)) Option {
	return func(r *Registry) { r.hooks = append(r.hooks, fn) }
}

// Registry maps room ids to rooms. It is the only process-wide mutable structure.
// Lock order is registry then room; nothing holding a room lock takes the registry lock.
type Registry struct {
	settings Settings
	clock    clock.Clock
	log      *zerolog.Logger
	observer Observer
	tickets  TicketIssuer
	hooks    []func(roomID string)
	newID    func() string

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry.
func NewRegistry(settings Settings, opts ...Option) *Registry {
	nop := zerolog.Nop()
	r := &Registry{
		settings: settings,
		clock:    clock.New(),
		log:      &nop,
		observer: nopObserver{},
		newID:    utils.NewID,
		rooms:    make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Settings returns the registry settings.
func (r *Registry) Settings() Settings {
	return r.settings
}

// CreateRoom registers a new room and schedules its expiry.
func (r *Registry) CreateRoom(id, adminName, password string, durationMinutes int) (*Room, error) {
	room, err := r.create(id, adminName, password, durationMinutes)
	if err != nil {
		return nil, err
	}
	room.mu.Unlock()
	return room, nil
}

// create registers a new room and returns it still locked, so the creator
// is admitted before anyone else can observe the room.
func (r *Registry) create(id, adminName, password string, durationMinutes int) (*Room, error) {
	lo, hi := r.minuteBounds()
	if durationMinutes < lo || durationMinutes > hi {
		return nil, fmt.Errorf("%w: %d minutes", ErrBadDuration, durationMinutes)
	}

	var hash string
	if password != "" {
		h, err := auth.HashPassword(password, r.settings.PasswordCost)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[id]; exists {
		return nil, ErrRoomExists
	}

	now := r.clock.Now()
	d := time.Duration(durationMinutes) * time.Minute
	room := newRoom(id, adminName, now, now.Add(d))
	room.passwordHash = hash
	room.hasPassword = password != ""

	room.mu.Lock()
	room.expiry = r.clock.AfterFunc(d, func() { r.expire(room) })
	r.rooms[id] = room

	r.observer.RoomOpened()
	r.log.Info().Str("room", id).Str("admin", adminName).Time("expires_at", room.expiresAt).Msg("room created")
	return room, nil
}

// minuteBounds is the widest range either duration unit allows.
func (r *Registry) minuteBounds() (int, int) {
	lo := r.settings.MinDurationMinutes
	if h := int(r.settings.MinDurationHours * 60); h < lo {
		lo = h
	}
	hi := r.settings.MaxDurationMinutes
	if h := int(r.settings.MaxDurationHours * 60); h > hi {
		hi = h
	}
	return lo, hi
}

// GetRoom looks a room up by id.
func (r *Registry) GetRoom(id string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// Has reports whether a room with this id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.GetRoom(id)
	return ok
}

// Stats returns the number of rooms and live connections.
func (r *Registry) Stats() (rooms, clients int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		clients += room.MemberCount()
	}
	return len(r.rooms), clients
}

// ExpireRoom tears a room down. It is a no-op when the room is absent.
func (r *Registry) ExpireRoom(id string) {
	room, ok := r.GetRoom(id)
	if !ok {
		return
	}
	r.expire(room)
}

func (r *Registry) expire(room *Room) {
	room.mu.Lock()
	expired := r.expireLocked(room)
	room.mu.Unlock()
	if expired {
		r.forget(room)
	}
}

// expireLocked notifies and closes every member and cancels pending timers.
// It reports false when the room was already torn down.
func (r *Registry) expireLocked(room *Room) bool {
	if room.closed {
		return false
	}

	r.systemLocked(room, "The room has expired and was cleaned up")
	r.publishLocked(room, &Event{Kind: EventRoomExpired, At: r.clock.Now()})

	n := r.teardownLocked(room, CloseExpired, "room expired")
	r.observer.RoomClosed(true)
	r.log.Info().Str("room", room.ID).Int("members", n).Msg("room expired")
	return true
}

// teardownLocked closes every member with code and cancels the expiry and
// all ghost cleanups. It returns how many members were closed.
func (r *Registry) teardownLocked(room *Room, code CloseCode, reason string) int {
	room.closed = true

	n := len(room.members)
	for _, c := range room.members {
		c.close(code, reason)
	}
	room.members = nil

	if room.expiry != nil {
		room.expiry.Stop()
	}
	for id := range room.ghosts {
		room.clearGhostLocked(id)
	}

	r.observer.MemberLeft(n)
	return n
}

// forget drops a torn-down room from the registry and runs expire hooks.
func (r *Registry) forget(room *Room) {
	r.mu.Lock()
	if current, ok := r.rooms[room.ID]; ok && current == room {
		delete(r.rooms, room.ID)
	}
	r.mu.Unlock()

	for _, hook := range r.hooks {
		hook(room.ID)
	}
}

// Shutdown closes every connection with a going-away status and drops all rooms.
// Expire hooks are not run.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for id, room := range r.rooms {
		rooms = append(rooms, room)
		delete(r.rooms, id)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		if !room.closed {
			r.teardownLocked(room, CloseGoingAway, "server shutting down")
			r.observer.RoomClosed(false)
		}
		room.mu.Unlock()
	}
	r.log.Info().Int("rooms", len(rooms)).Msg("registry shut down")
}

// Member resolves a live connection by id.
func (r *Registry) Member(roomID, connID string) (MemberView, error) {
	room, ok := r.GetRoom(roomID)
	if !ok {
		return MemberView{}, ErrRoomNotFound
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return MemberView{}, ErrRoomNotFound
	}
	c := room.findByIDLocked(connID)
	if c == nil {
		return MemberView{}, ErrNotMember
	}
	return MemberView{Name: c.name, Color: c.color}, nil
}

// PublishUpload announces a stored file on behalf of a live member.
func (r *Registry) PublishUpload(roomID, connID string, up Upload) error {
	room, ok := r.GetRoom(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return ErrRoomNotFound
	}
	c := room.findByIDLocked(connID)
	if c == nil {
		return ErrNotMember
	}
	r.publishLocked(room, &Event{
		Kind:   EventUpload,
		At:     r.clock.Now(),
		Name:   c.name,
		Color:  c.color,
		Upload: &up,
	})
	return nil
}

// Notify sends an error event to a single member.
func (r *Registry) Notify(c *Connection, e *CoreError) {
	room := c.room
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed || !room.isMemberLocked(c) {
		return
	}
	r.sendLocked(c, &Event{Kind: EventError, At: r.clock.Now(), Error: e})
}

// publishLocked broadcasts and logs recipients whose queue was full.
func (r *Registry) publishLocked(room *Room, ev *Event) {
	res := room.broadcastLocked(ev)
	for _, c := range res.Dropped {
		r.log.Debug().Str("room", room.ID).Str("conn_id", c.ID).Stringer("event", ev.Kind).Msg("event dropped")
	}
}

func (r *Registry) sendLocked(c *Connection, ev *Event) {
	if !c.deliver(ev) {
		r.log.Debug().Str("room", c.RoomID).Str("conn_id", c.ID).Stringer("event", ev.Kind).Msg("event dropped")
	}
}

func (r *Registry) systemLocked(room *Room, text string) {
	r.publishLocked(room, &Event{Kind: EventSystem, At: r.clock.Now(), Text: text})
}
