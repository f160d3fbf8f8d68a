package core

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/vovakirdan/burnroom/internal/auth"
)

// Truncation limits for relayed chat, in characters.
const (
	MaxChatLength      = 2000
	MaxReplyNameLength = 40
	MaxReplyTextLength = 200
)

const adminCommands = "Commands: /clear clears the chat, /kick @name removes a member, " +
	"/pass [password] sets the room password (empty removes it), /help shows this list"

// ChatInput is an inbound chat line.
type ChatInput struct {
	Text    string
	ReplyTo *Reply
}

// Submit relays a chat line from c, or runs it as a command when it starts with "/".
// Blank lines are dropped.
func (r *Registry) Submit(c *Connection, in ChatInput) error {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil
	}

	var hashed *hashedPassword
	if strings.HasPrefix(text, "/") {
		hashed = r.hashPassCommand(c, text)
	}

	room := c.room
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return ErrRoomNotFound
	}
	if !room.isMemberLocked(c) {
		return ErrNotMember
	}

	if strings.HasPrefix(text, "/") {
		r.commandLocked(room, c, text, hashed)
		return nil
	}

	ev := &Event{
		Kind:  EventChat,
		At:    r.clock.Now(),
		Name:  c.name,
		Color: c.color,
		Text:  truncate(text, MaxChatLength),
	}
	if in.ReplyTo != nil {
		ev.ReplyTo = &Reply{
			Name: truncate(in.ReplyTo.Name, MaxReplyNameLength),
			Text: truncate(in.ReplyTo.Text, MaxReplyTextLength),
		}
	}
	r.publishLocked(room, ev)
	r.observer.ChatRelayed()
	return nil
}

// hashedPassword is a /pass argument hashed before the room lock is taken.
type hashedPassword struct {
	hash string
	err  error
}

// hashPassCommand hashes the argument of an admin's "/pass" so bcrypt never
// runs under the room lock. Anything else yields nil.
func (r *Registry) hashPassCommand(c *Connection, text string) *hashedPassword {
	verb, arg := splitCommand(text)
	if verb != "pass" || arg == "" || len(arg) > MaxPasswordBytes || !c.IsAdmin() {
		return nil
	}
	h, err := auth.HashPassword(arg, r.settings.PasswordCost)
	return &hashedPassword{hash: h, err: err}
}

func (r *Registry) commandLocked(room *Room, c *Connection, text string, hashed *hashedPassword) {
	if !room.isAdminLocked(c) {
		r.noticeLocked(c, "Only admins can use commands")
		return
	}

	verb, arg := splitCommand(text)
	r.log.Debug().Str("room", room.ID).Str("name", c.name).Str("command", verb).Msg("admin command")

	switch verb {
	case "clear":
		r.publishLocked(room, &Event{Kind: EventClear, At: r.clock.Now(), By: c.name})
		r.systemLocked(room, "The admin cleared the chat")
	case "kick":
		r.kickLocked(room, c, arg)
	case "pass":
		r.setPasswordLocked(room, c, arg, hashed)
	case "help":
		r.sendLocked(c, &Event{Kind: EventAdminHelp, At: r.clock.Now(), Text: adminCommands, ExpiresAt: room.expiresAt})
	default:
		r.noticeLocked(c, "Unknown command. Type /help for the list")
	}
}

// splitCommand lowercases the verb and trims the argument.
func splitCommand(text string) (verb, arg string) {
	body := strings.TrimPrefix(text, "/")
	i := strings.IndexFunc(body, unicode.IsSpace)
	if i < 0 {
		return strings.ToLower(body), ""
	}
	return strings.ToLower(body[:i]), strings.TrimSpace(body[i:])
}

func (r *Registry) kickLocked(room *Room, admin *Connection, arg string) {
	target := strings.TrimSpace(strings.TrimPrefix(arg, "@"))
	if target == "" {
		r.noticeLocked(admin, "Usage: /kick @name")
		return
	}

	var kicked []*Connection
	for _, m := range room.members {
		if m.name == target {
			kicked = append(kicked, m)
		}
	}
	if len(kicked) == 0 {
		r.noticeLocked(admin, "No such member: "+target)
		return
	}

	for _, m := range kicked {
		r.sendLocked(m, &Event{Kind: EventKicked, At: r.clock.Now(), Text: "You were kicked by the admin"})
		m.close(CloseKicked, "kicked")
		room.removeMemberLocked(m)
	}
	r.observer.MemberLeft(len(kicked))

	r.systemLocked(room, "The admin kicked "+target)
	r.broadcastMembersLocked(room)
	r.log.Info().Str("room", room.ID).Str("name", target).Int("connections", len(kicked)).Msg("member kicked")
}

func (r *Registry) setPasswordLocked(room *Room, admin *Connection, password string, hashed *hashedPassword) {
	if len(password) > MaxPasswordBytes {
		r.noticeLocked(admin, fmt.Sprintf("Password must be at most %d bytes", MaxPasswordBytes))
		return
	}

	hash := ""
	if password != "" {
		// Admin authority arrived after hashPassCommand looked; ask for a resend.
		if hashed == nil {
			r.noticeLocked(admin, "Could not set the password, try again")
			return
		}
		if hashed.err != nil {
			r.log.Error().Err(hashed.err).Str("room", room.ID).Msg("hash room password")
			r.noticeLocked(admin, "Could not set the password")
			return
		}
		hash = hashed.hash
	}
	room.passwordHash = hash
	room.hasPassword = password != ""

	if room.hasPassword {
		r.systemLocked(room, "The admin set a room password")
	} else {
		r.systemLocked(room, "The admin removed the room password")
	}
	r.sendLocked(admin, &Event{Kind: EventSetPass, At: r.clock.Now(), HasPassword: room.hasPassword})
}

// noticeLocked sends a system line to one member only.
func (r *Registry) noticeLocked(c *Connection, text string) {
	r.sendLocked(c, &Event{Kind: EventSystem, At: r.clock.Now(), Text: text})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
