package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	stdhttp "net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/burnroom/internal/core"
	"github.com/vovakirdan/burnroom/internal/proto"
)

// RoomService is the part of the registry the transport drives.
type RoomService interface {
	Join(req core.JoinRequest) (*core.Connection, error)
	Leave(c *core.Connection)
	Submit(c *core.Connection, in core.ChatInput) error
	Notify(c *core.Connection, e *core.CoreError)
	Member(roomID, connID string) (core.MemberView, error)
	PublishUpload(roomID, connID string, up core.Upload) error
	Stats() (rooms, clients int)
}

// WSOptions tunes websocket connections.
type WSOptions struct {
	DefaultRoom     string
	DefaultName     string
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	ChatRate        float64
	ChatBurst       int
}

var errClosedByRoom = errors.New("closed by room")

// WSHandler upgrades HTTP connections and bridges them to core.Connection.
type WSHandler struct {
	rooms RoomService
	opts  WSOptions
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(rooms RoomService, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &WSHandler{rooms: rooms, opts: opts, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client, err := h.join(joinRequest(r.URL.Query(), h.opts))
	if err != nil {
		h.reject(ctx, conn, err)
		return
	}
	defer h.rooms.Leave(client)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	if errors.Is(err, errClosedByRoom) {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		conn.Close(websocket.StatusNormalClosure, "closing")
		return
	}
	h.log.Debug().Err(err).Str("room", client.RoomID).Str("conn_id", client.ID).Msg("ws connection closed with error")
	conn.Close(websocket.StatusInternalError, "connection error")
}

// join admits the request, turning a panic into an internal error.
func (h *WSHandler) join(req core.JoinRequest) (c *core.Connection, err error) {
	defer func() {
		if p := recover(); p != nil {
			h.log.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Str("room", req.RoomID).Msg("join panicked")
			c, err = nil, core.InternalJoinError()
		}
	}()
	return h.rooms.Join(req)
}

func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, err error) {
	var je *core.JoinError
	if !errors.As(err, &je) {
		h.log.Error().Err(err).Msg("join failed")
		je = core.InternalJoinError()
	}

	if !je.Silent() {
		wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
		if werr := wsjson.Write(wctx, conn, errorOutbound(&je.CoreError, time.Now())); werr != nil {
			h.log.Debug().Err(werr).Msg("write join rejection")
		}
		cancel()
	}
	conn.Close(websocket.StatusCode(je.Close), je.Reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	limiter := newChatLimiter(h.opts.ChatRate, h.opts.ChatBurst)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("ignoring malformed frame")
			continue
		}
		in, ok := inboundToChat(inbound)
		if !ok {
			continue
		}
		if !limiter.allow() {
			h.rooms.Notify(client, &core.CoreError{Code: core.ErrCodeRateLimited, Message: "You are sending messages too fast"})
			continue
		}
		if err := h.rooms.Submit(client, in); err != nil {
			// The room already closed this connection; the write loop finishes it.
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("chat dropped")
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	for {
		select {
		case event := <-client.Events():
			if err := h.write(ctx, conn, event); err != nil {
				return err
			}
		case <-client.Done():
			if err := h.flush(ctx, conn, client); err != nil {
				return err
			}
			closure := client.Closure()
			conn.Close(websocket.StatusCode(closure.Code), closure.Reason)
			return errClosedByRoom
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush writes whatever the room queued before closing the connection.
func (h *WSHandler) flush(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	for {
		select {
		case event := <-client.Events():
			if err := h.write(ctx, conn, event); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, event *core.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
		h.log.Debug().Err(err).Stringer("event", event.Kind).Msg("write ws event")
		return err
	}
	return nil
}

func joinRequest(q url.Values, opts WSOptions) core.JoinRequest {
	req := core.JoinRequest{
		RoomID:          strings.TrimSpace(q.Get("room")),
		Name:            q.Get("name"),
		Password:        q.Get("pass"),
		Color:           q.Get("color"),
		DeviceID:        q.Get("device"),
		DurationMinutes: clampMinutes(parseNumber(q.Get("duration"))),
		DurationHours:   parseNumber(q.Get("durationHours")),
	}
	if req.RoomID == "" {
		req.RoomID = opts.DefaultRoom
	}
	if req.Name == "" {
		req.Name = opts.DefaultName
	}
	return req
}

// parseNumber returns 0 for anything that is not a finite number.
func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func clampMinutes(f float64) int {
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}
