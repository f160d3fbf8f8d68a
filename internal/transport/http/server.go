package http

import (
	stdhttp "net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/burnroom/internal/config"
)

// Deps are the services behind the HTTP routes. Uploads, Tickets and Metrics are optional.
type Deps struct {
	Rooms   RoomService
	Uploads UploadService
	Tickets TicketValidator
	Metrics stdhttp.Handler
}

// NewServer builds an HTTP server with all routes.
func NewServer(cfg config.Config, deps Deps, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, deps, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts /ws next to the gin engine. The websocket handshake
// hijacks the connection after writing the 101, which gin's response writer refuses.
func NewHandler(cfg config.Config, deps Deps, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Rooms, WSOptions{
		DefaultRoom:     cfg.DefaultRoom,
		DefaultName:     cfg.DefaultName,
		MaxMessageBytes: int64(cfg.MaxMessageBytes),
		WriteTimeout:    cfg.WriteTimeout,
		ChatRate:        cfg.ChatRate,
		ChatBurst:       cfg.ChatBurst,
	}, logger))
	mux.Handle("/", NewRouter(cfg, deps, logger))
	return mux
}

// NewRouter wires the gin engine for everything except /ws.
func NewRouter(cfg config.Config, deps Deps, logger *zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	started := time.Now()
	r.GET("/health", func(c *gin.Context) {
		rooms, clients := deps.Rooms.Stats()
		c.JSON(stdhttp.StatusOK, HealthResponse{
			Status:  "ok",
			Rooms:   rooms,
			Clients: clients,
			Uptime:  int64(time.Since(started).Seconds()),
		})
	})

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	if deps.Uploads != nil && deps.Tickets != nil {
		up := NewUploadHandlers(deps.Rooms, deps.Uploads, logger)

		upload := r.Group("/upload", cors.New(corsConfig(cfg.CORSOrigins)))
		upload.OPTIONS("", func(c *gin.Context) { c.Status(stdhttp.StatusNoContent) })
		upload.POST("", TicketMiddleware(deps.Tickets, logger), up.Upload)

		r.GET("/api/stats", up.Stats)
		r.Static("/uploads", cfg.UploadDir)
	}

	if cfg.StaticDir != "" {
		r.NoRoute(gin.WrapH(stdhttp.FileServer(stdhttp.Dir(cfg.StaticDir))))
	}

	return r
}

// HealthResponse is the /health body. Uptime is in seconds.
type HealthResponse struct {
	Status  string `json:"status"`
	Rooms   int    `json:"rooms"`
	Clients int    `json:"clients"`
	Uptime  int64  `json:"uptime"`
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
