// Package proto defines the JSON frames exchanged over the room websocket.
package proto

// Inbound is a frame coming from the client after admission.
type Inbound struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	ReplyTo *ReplyTo `json:"replyTo,omitempty"`
}

const (
	InboundTypeChat = "chat"

	OutboundTypeSystem      = "system"
	OutboundTypeRoomInfo    = "room_info"
	OutboundTypeAdminHelp   = "admin_help"
	OutboundTypeSetPass     = "set_pass"
	OutboundTypeMembers     = "members"
	OutboundTypeChat        = "chat"
	OutboundTypeClear       = "clear"
	OutboundTypeKicked      = "kicked"
	OutboundTypeRoomExpired = "room_expired"
	OutboundTypeError       = "error"
	OutboundTypeImage       = "image"
)

// ReplyTo quotes an earlier chat line.
type ReplyTo struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Member is a roster entry.
type Member struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Outbound is a flat event object sent to clients. Times are unix milliseconds.
type Outbound struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`

	Text    string   `json:"text,omitempty"`
	Name    string   `json:"name,omitempty"`
	Color   string   `json:"color,omitempty"`
	By      string   `json:"by,omitempty"`
	ReplyTo *ReplyTo `json:"replyTo,omitempty"`

	Admin       string `json:"admin,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
	HasPass     *bool  `json:"hasPass,omitempty"`
	UploadToken string `json:"uploadToken,omitempty"`

	Members []Member `json:"members,omitempty"`

	URL      string `json:"url,omitempty"`
	Original string `json:"original,omitempty"`
	Mime     string `json:"mime,omitempty"`
	Size     int64  `json:"size,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
