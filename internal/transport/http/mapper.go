package http

import (
	"time"

	"github.com/vovakirdan/burnroom/internal/core"
	"github.com/vovakirdan/burnroom/internal/proto"
)

func inboundToChat(inbound proto.Inbound) (core.ChatInput, bool) {
	if inbound.Type != proto.InboundTypeChat {
		return core.ChatInput{}, false
	}
	in := core.ChatInput{Text: inbound.Text}
	if inbound.ReplyTo != nil {
		in.ReplyTo = &core.Reply{Name: inbound.ReplyTo.Name, Text: inbound.ReplyTo.Text}
	}
	return in, true
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	out := proto.Outbound{
		Type: event.Kind.String(),
		TS:   millis(event.At),
	}

	switch event.Kind {
	case core.EventSystem, core.EventKicked:
		out.Text = event.Text
	case core.EventRoomInfo:
		out.Admin = event.Admin
		out.ExpiresAt = millis(event.ExpiresAt)
		out.HasPass = boolPtr(event.HasPassword)
		out.UploadToken = event.UploadToken
	case core.EventAdminHelp:
		out.Text = event.Text
		out.ExpiresAt = millis(event.ExpiresAt)
	case core.EventSetPass:
		out.HasPass = boolPtr(event.HasPassword)
	case core.EventMembers:
		out.Members = make([]proto.Member, 0, len(event.Members))
		for _, m := range event.Members {
			out.Members = append(out.Members, proto.Member{Name: m.Name, Color: m.Color})
		}
	case core.EventChat:
		out.Name = event.Name
		out.Color = event.Color
		out.Text = event.Text
		if event.ReplyTo != nil {
			out.ReplyTo = &proto.ReplyTo{Name: event.ReplyTo.Name, Text: event.ReplyTo.Text}
		}
	case core.EventClear:
		out.By = event.By
	case core.EventRoomExpired:
		out.Text = event.Text
	case core.EventError:
		if event.Error == nil {
			out.Code, out.Message = core.ErrCodeInternal, "unknown error"
			break
		}
		out.Code, out.Message = event.Error.Code, event.Error.Message
	case core.EventUpload:
		out.Name = event.Name
		out.Color = event.Color
		if event.Upload != nil {
			out.URL = event.Upload.URL
			out.Original = event.Upload.Original
			out.Mime = event.Upload.Mime
			out.Size = event.Upload.Size
		}
	}
	return out
}

func errorOutbound(e *core.CoreError, at time.Time) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, TS: millis(at), Code: e.Code, Message: e.Message}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func boolPtr(b bool) *bool {
	return &b
}
