package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ostrovskym/relaygate-server/internal/auth"
	"github.com/ostrovskym/relaygate-server/internal/config"
	"github.com/ostrovskym/relaygate-server/internal/coord"
	"github.com/ostrovskym/relaygate-server/internal/gateway"
	"github.com/ostrovskym/relaygate-server/internal/store"
	"github.com/ostrovskym/relaygate-server/internal/store/sqlite"
	transporthttp "github.com/ostrovskym/relaygate-server/internal/transport/http"
)

// App wires together storage, coordination, gateway and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	buffer          coord.Buffer
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var buf coord.Buffer
	if cfg.RedisAddr != "" {
		redisBuf, err := coord.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init coordination buffer: %w", err)
		}
		buf = redisBuf
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("coordination buffer on redis")
	} else {
		buf = coord.NewMemory()
		logger.Warn().Msg("coordination buffer in process memory; multi-instance deployments need redis")
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	gw := gateway.New(st, buf, logger)
	server := transporthttp.NewServer(gw, authService, st, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		buffer:          buf,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
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
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and coordination resources.
func (a *App) cleanup() {
	if closer, ok := a.buffer.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close coordination buffer")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
