package http

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vovakirdan/burnroom/internal/auth"
	"github.com/vovakirdan/burnroom/internal/config"
	"github.com/vovakirdan/burnroom/internal/core"
	"github.com/vovakirdan/burnroom/internal/metrics"
	"github.com/vovakirdan/burnroom/internal/proto"
	"github.com/vovakirdan/burnroom/internal/store/sqlite"
	"github.com/vovakirdan/burnroom/internal/uploads"
)

type testEnv struct {
	server   *httptest.Server
	registry *core.Registry
	uploads  *uploads.Manager
	metrics  *metrics.Metrics
}

func startTestServer(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.UploadDir = t.TempDir()
	cfg.ChatRate = 0
	for _, m := range mutate {
		m(&cfg)
	}

	logger := zerolog.Nop()
	tickets := auth.NewTickets(auth.TicketConfig{Secret: []byte("test-secret"), Issuer: "test", Audience: "test"}, nil)
	m := metrics.New()

	settings := core.DefaultSettings()
	settings.PasswordCost = bcrypt.MinCost
	reg := core.NewRegistry(settings,
		core.WithLogger(&logger),
		core.WithObserver(m),
		core.WithTickets(tickets),
	)
	t.Cleanup(reg.Shutdown)

	st, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(sqlite.Schema)
		return err
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	up, err := uploads.New(cfg.UploadDir, uploads.Limits{
		MaxFileSize:     int64(cfg.MaxFileSize),
		MaxRoomStorage:  int64(cfg.MaxRoomStorage),
		MaxTotalStorage: int64(cfg.MaxTotalStorage),
	}, st, reg, uploads.WithObserver(m))
	require.NoError(t, err)

	srv := NewServer(cfg, Deps{Rooms: reg, Uploads: up, Tickets: tickets, Metrics: m.Handler()}, &logger)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, registry: reg, uploads: up, metrics: m}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, query string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(e.server.URL, "http", "ws", 1) + "/ws?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// readUntil skips frames until one of the given type arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) proto.Outbound {
	t.Helper()
	for {
		var out proto.Outbound
		err := wsjson.Read(ctx, conn, &out)
		require.NoError(t, err, "waiting for %q", typ)
		if out.Type == typ {
			return out
		}
	}
}

// expectClose reads until the server closes the connection and returns the status.
func expectClose(t *testing.T, ctx context.Context, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func sendChat(t *testing.T, ctx context.Context, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeChat, Text: text}))
}

// readSystem skips frames until a system notice with text arrives.
func readSystem(t *testing.T, ctx context.Context, conn *websocket.Conn, text string) {
	t.Helper()
	for {
		if out := readUntil(t, ctx, conn, proto.OutboundTypeSystem); out.Text == text {
			return
		}
	}
}
