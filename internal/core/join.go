package core

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/vovakirdan/burnroom/internal/auth"
)

const (
	// MaxNameLength is counted in characters.
	MaxNameLength = 20
	// MaxPasswordBytes is the longest password bcrypt accepts.
	MaxPasswordBytes = 72
)

var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)

// JoinRequest carries connection parameters. Durations are only consulted
// when the room does not exist yet; hours win when non-zero.
type JoinRequest struct {
	RoomID   string
	Name     string
	Password string
	Color    string
	DeviceID string

	DurationMinutes int
	DurationHours   float64
}

// Join validates req and admits a new member, creating the room when absent.
// Any rejection is a *JoinError carrying the close code for the transport.
func (r *Registry) Join(req JoinRequest) (c *Connection, err error) {
	defer func() {
		var je *JoinError
		if errors.As(err, &je) {
			r.observer.JoinRejected(je.Code)
			r.log.Debug().Str("room", req.RoomID).Str("name", req.Name).Str("device", req.DeviceID).
				Str("code", je.Code).Msg("join rejected")
		}
	}()

	if je := validateJoin(req); je != nil {
		return nil, je
	}
	if req.Color == "" {
		req.Color = r.settings.DefaultColor
	}

	// A concurrent creator can win the race for an absent id; the loser joins instead.
	for attempt := 0; attempt < 3; attempt++ {
		if room, ok := r.GetRoom(req.RoomID); ok {
			c, expired, err := r.joinExisting(room, req)
			if expired {
				r.forget(room)
			}
			return c, err
		}

		if je := validateCreation(req); je != nil {
			return nil, je
		}
		minutes, je := r.creationMinutes(req)
		if je != nil {
			return nil, je
		}
		c, err := r.createAndAdmit(req, minutes)
		if errors.Is(err, ErrRoomExists) {
			continue
		}
		return c, err
	}
	return nil, InternalJoinError()
}

func validateJoin(req JoinRequest) *JoinError {
	if !roomIDPattern.MatchString(req.RoomID) {
		return joinError(ErrCodeInvalidRoomID, "room id must be 1-32 letters, digits, underscores or hyphens",
			CloseClientError, "invalid room id")
	}
	if n := utf8.RuneCountInString(req.Name); n < 1 || n > MaxNameLength {
		return joinError(ErrCodeInvalidName, fmt.Sprintf("name must be 1-%d characters", MaxNameLength),
			CloseClientError, "invalid name")
	}
	return nil
}

// validateCreation checks what only matters when req creates the room.
func validateCreation(req JoinRequest) *JoinError {
	if len(req.Password) > MaxPasswordBytes {
		return joinError(ErrCodeInvalidPassword, fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes),
			CloseClientError, "invalid password")
	}
	return nil
}

// creationMinutes applies the bound of whichever unit the client supplied.
func (r *Registry) creationMinutes(req JoinRequest) (int, *JoinError) {
	s := r.settings
	if req.DurationHours != 0 {
		if req.DurationHours < s.MinDurationHours || req.DurationHours > s.MaxDurationHours {
			return 0, joinError(ErrCodeBadDuration,
				fmt.Sprintf("duration must be between %g and %g hours", s.MinDurationHours, s.MaxDurationHours),
				CloseClientError, "bad duration")
		}
		return int(math.Round(req.DurationHours * 60)), nil
	}
	if req.DurationMinutes == 0 {
		return 0, joinError(ErrCodeBadDuration, "a duration is required to create a room",
			CloseClientError, "need duration")
	}
	if req.DurationMinutes < s.MinDurationMinutes || req.DurationMinutes > s.MaxDurationMinutes {
		return 0, joinError(ErrCodeBadDuration,
			fmt.Sprintf("duration must be between %d and %d minutes", s.MinDurationMinutes, s.MaxDurationMinutes),
			CloseClientError, "bad duration")
	}
	return req.DurationMinutes, nil
}

func (r *Registry) createAndAdmit(req JoinRequest, minutes int) (*Connection, error) {
	room, err := r.create(req.RoomID, req.Name, req.Password, minutes)
	if err != nil {
		if errors.Is(err, ErrRoomExists) {
			return nil, err
		}
		if errors.Is(err, ErrBadDuration) {
			return nil, joinError(ErrCodeBadDuration, err.Error(), CloseClientError, "bad duration")
		}
		r.log.Error().Err(err).Str("room", req.RoomID).Msg("create room")
		return nil, InternalJoinError()
	}
	defer room.mu.Unlock()
	return r.admitLocked(room, req), nil
}

// joinExisting runs the joining branch. expired reports that the room was torn
// down here and must be dropped from the registry once its lock is released.
// The password is compared without holding the room lock; the join is retried
// if the password changed meanwhile.
func (r *Registry) joinExisting(room *Room, req JoinRequest) (*Connection, bool, error) {
	verified := ""
	for {
		c, expired, hash, err := r.tryJoinLocked(room, req, verified)
		if hash == "" {
			return c, expired, err
		}
		if len(req.Password) > MaxPasswordBytes || auth.ComparePassword(hash, req.Password) != nil {
			return nil, false, joinError(ErrCodeWrongPassword, "wrong password or password required",
				CloseClientError, "wrong password")
		}
		verified = hash
	}
}

// tryJoinLocked admits req unless the room's password hash differs from
// verified, in which case it returns that hash for the caller to check.
func (r *Registry) tryJoinLocked(room *Room, req JoinRequest, verified string) (c *Connection, expired bool, hash string, err error) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || !r.clock.Now().Before(room.expiresAt) {
		expired = r.expireLocked(room)
		return nil, expired, "", joinError(ErrCodeExpired, "the room has expired, create it again", CloseExpired, "expired")
	}

	if room.hasPassword && room.passwordHash != verified {
		return nil, false, room.passwordHash, nil
	}

	if room.findByNameLocked(req.Name) != nil {
		return nil, false, "", joinError(ErrCodeDuplicateName, "this name is already online, pick another",
			CloseDuplicateName, "duplicate name")
	}

	if req.DeviceID != "" {
		if r.isGhostActiveLocked(room, req.DeviceID) {
			room.clearGhostLocked(req.DeviceID)
		}
		if existing := room.findByDeviceLocked(req.DeviceID); existing != nil {
			if existing.name == req.Name {
				return nil, false, "", joinError(ErrCodeDuplicateDevice, "this device is already in the room",
					CloseDuplicateDevice, "duplicate device")
			}
			r.renameLocked(room, existing, req.Name, req.Color)
			return nil, false, "", joinError(ErrCodeRenamed, "renamed", CloseRenamed, "renamed")
		}
	}

	return r.admitLocked(room, req), false, "", nil
}

// renameLocked changes a live member's identity in place and moves admin
// authority along with the old name.
func (r *Registry) renameLocked(room *Room, c *Connection, name, color string) {
	old := c.name
	c.name = name
	c.color = color
	if room.adminName == old {
		room.adminName = name
	}

	r.systemLocked(room, fmt.Sprintf("%s renamed to %s", old, name))
	r.broadcastMembersLocked(room)
	r.log.Info().Str("room", room.ID).Str("conn_id", c.ID).Str("from", old).Str("name", name).Msg("member renamed")
}

func (r *Registry) admitLocked(room *Room, req JoinRequest) *Connection {
	c := newConnection(r.newID(), room, req.Name, req.Color, req.DeviceID, r.settings.SendBuffer)
	room.addMemberLocked(c)

	now := r.clock.Now()
	info := &Event{
		Kind:        EventRoomInfo,
		At:          now,
		Admin:       room.adminName,
		ExpiresAt:   room.expiresAt,
		HasPassword: room.hasPassword,
	}
	if r.tickets != nil {
		token, err := r.tickets.Issue(room.ID, c.ID, room.expiresAt)
		if err != nil {
			r.log.Warn().Err(err).Str("room", room.ID).Str("conn_id", c.ID).Msg("issue upload ticket")
		}
		info.UploadToken = token
	}
	r.sendLocked(c, info)

	if room.isAdminLocked(c) && now.Sub(room.createdAt) < r.settings.AdminHelpWindow {
		r.sendLocked(c, &Event{Kind: EventAdminHelp, At: now, Text: "You are the admin. " + adminCommands, ExpiresAt: room.expiresAt})
		r.sendLocked(c, &Event{Kind: EventSetPass, At: now, HasPassword: room.hasPassword})
	}

	r.systemLocked(room, req.Name+" joined the room")
	r.broadcastMembersLocked(room)

	r.observer.MemberJoined()
	r.log.Info().Str("room", room.ID).Str("conn_id", c.ID).Str("name", c.name).Str("device", c.DeviceID).
		Bool("admin", room.isAdminLocked(c)).Msg("member admitted")
	return c
}
