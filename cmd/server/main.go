package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Poufio-bit/ecoute-boubouh-server/internal/config"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/otelutil"
	"github.com/Poufio-bit/ecoute-boubouh-server/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := otelutil.Init(); err != nil {
		log.Debug().Err(err).Msg("tracing disabled")
	}
	defer otelutil.Flush()

	var st store.Store
	if cfg.DBPath != "" {
		st, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open session store")
		}
		log.Info().Str("path", cfg.DBPath).Msg("using sqlite session store")
	} else {
		st = store.NewMemory()
		log.Info().Msg("no db_path configured, sessions held in memory only")
	}

	s := NewServer(cfg, st, prometheus.NewRegistry(), log.Logger)
	s.Start()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		s.Shutdown()
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Warn().Err(err).Msg("http server forced to stop")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("ecoute relay started, websocket on /ws")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}
