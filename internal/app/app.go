package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/burnroom/internal/auth"
	"github.com/vovakirdan/burnroom/internal/config"
	"github.com/vovakirdan/burnroom/internal/core"
	"github.com/vovakirdan/burnroom/internal/metrics"
	"github.com/vovakirdan/burnroom/internal/store"
	"github.com/vovakirdan/burnroom/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/burnroom/internal/transport/http"
	"github.com/vovakirdan/burnroom/internal/uploads"
	"github.com/vovakirdan/burnroom/internal/utils"
)

const ticketIssuer = "burnroom"

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *core.Registry
	uploads         *uploads.Manager
	store           store.Store
	log             *zerolog.Logger

	sweepInterval time.Duration
	orphanMaxAge  time.Duration
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	// Initialize upload ledger
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	secret := cfg.TicketSecret
	if secret == "" {
		secret = utils.NewToken(32)
		logger.Debug().Msg("using a per-process upload ticket secret")
	}
	tickets := auth.NewTickets(auth.TicketConfig{
		Secret:   []byte(secret),
		Issuer:   ticketIssuer,
		Audience: ticketIssuer,
	}, nil)

	m := metrics.New()

	// Expiry purges the room's files. The hook runs after the room is gone,
	// so both are assigned before it can fire. A room recreated under the same
	// id keeps the files until it expires in turn.
	var (
		registry *core.Registry
		up       *uploads.Manager
	)
	registry = core.NewRegistry(CoreSettings(cfg),
		core.WithLogger(logger),
		core.WithObserver(m),
		core.WithTickets(tickets),
		core.WithExpireHook(func(roomID string) {
			go func() {
				if registry.Has(roomID) {
					return
				}
				if err := up.CleanupRoom(context.Background(), roomID); err != nil {
					logger.Warn().Err(err).Str("room", roomID).Msg("failed to purge room uploads")
				}
			}()
		}),
	)

	up, err = uploads.New(cfg.UploadDir, uploads.Limits{
		MaxFileSize:     int64(cfg.MaxFileSize),
		MaxRoomStorage:  int64(cfg.MaxRoomStorage),
		MaxTotalStorage: int64(cfg.MaxTotalStorage),
	}, st, registry, uploads.WithLogger(logger), uploads.WithObserver(m))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init uploads: %w", err)
	}

	server := transporthttp.NewServer(*cfg, transporthttp.Deps{
		Rooms:   registry,
		Uploads: up,
		Tickets: tickets,
		Metrics: m.Handler(),
	}, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        registry,
		uploads:         up,
		store:           st,
		log:             logger,
		sweepInterval:   cfg.OrphanSweepInterval,
		orphanMaxAge:    cfg.OrphanMaxAge,
	}, nil
}

// CoreSettings maps configuration onto registry settings.
func CoreSettings(cfg *config.Config) core.Settings {
	s := core.DefaultSettings()
	s.GracePeriod = cfg.GracePeriod
	s.GhostCleanupSlack = cfg.GhostCleanupSlack
	s.AdminHelpWindow = cfg.AdminHelpWindow
	s.MinDurationMinutes = cfg.MinDurationMinutes
	s.MaxDurationMinutes = cfg.MaxDurationMinutes
	s.MinDurationHours = cfg.MinDurationHours
	s.MaxDurationHours = cfg.MaxDurationHours
	if cfg.DefaultColor != "" {
		s.DefaultColor = cfg.DefaultColor
	}
	if cfg.SendBuffer > 0 {
		s.SendBuffer = cfg.SendBuffer
	}
	if cfg.PasswordCost > 0 {
		s.PasswordCost = cfg.PasswordCost
	}
	return s
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.uploads.RunSweeper(sweepCtx, a.sweepInterval, a.orphanMaxAge)
	}()
	defer func() {
		stopSweep()
		wg.Wait()
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Close room connections first so websocket handlers return.
		a.registry.Shutdown()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
