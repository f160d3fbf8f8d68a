package core

import "time"

// EventKind is a notification the core emits to connections.
type EventKind int

const (
	// EventSystem is a plain-text room notice.
	EventSystem EventKind = iota
	// EventRoomInfo tells a newly admitted connection who the admin is and when the room expires.
	EventRoomInfo
	// EventAdminHelp lists admin commands.
	EventAdminHelp
	// EventSetPass reports whether the room currently has a password.
	EventSetPass
	// EventMembers is a roster snapshot.
	EventMembers
	// EventChat is a chat message.
	EventChat
	// EventClear asks clients to drop their chat history.
	EventClear
	// EventKicked is sent to a connection right before it is kicked.
	EventKicked
	// EventRoomExpired is sent to every member when the room expires.
	EventRoomExpired
	// EventError reports a domain error to a single connection.
	EventError
	// EventUpload announces a stored file.
	EventUpload
)

var eventKindNames = [...]string{
	EventSystem:      "system",
	EventRoomInfo:    "room_info",
	EventAdminHelp:   "admin_help",
	EventSetPass:     "set_pass",
	EventMembers:     "members",
	EventChat:        "chat",
	EventClear:       "clear",
	EventKicked:      "kicked",
	EventRoomExpired: "room_expired",
	EventError:       "error",
	EventUpload:      "image",
}

func (k EventKind) String() string {
	if int(k) < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// MemberView is one roster entry.
type MemberView struct {
	Name  string
	Color string
}

// Reply quotes an earlier message.
type Reply struct {
	Name string
	Text string
}

// Upload describes a stored file announced to the room.
type Upload struct {
	URL      string
	Original string
	Mime     string
	Size     int64
}

// Event is sent to connections to describe what happened in a room.
// A single Event value is shared by every recipient of a broadcast and must not be mutated.
type Event struct {
	Kind EventKind
	At   time.Time

	Text  string
	Name  string
	Color string
	By    string

	ReplyTo *Reply

	Admin       string
	ExpiresAt   time.Time
	HasPassword bool
	UploadToken string

	Members []MemberView
	Upload  *Upload
	Error   *CoreError
}
