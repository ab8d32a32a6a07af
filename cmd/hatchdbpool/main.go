// hatchdbpool serves HTTP requests that each borrow one pooled database
// connection for their lifetime.
//
// Usage:
//
//	hatchdbpool [-config path]
//
// The config file may be TOML, YAML or JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mugiliam/hatchdbpool/internal/config"
	"github.com/mugiliam/hatchdbpool/internal/dbplugin"
	"github.com/mugiliam/hatchdbpool/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		log.Error().Err(err).Str("path", *configPath).Msg("unable to load configuration")
		return 1
	}
	cfg := config.Config()
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	s, err := server.CreateNewServer()
	if err != nil {
		log.Error().Err(err).Msg("unable to create server")
		return 1
	}
	if err := dbplugin.Register(s, cfg.Pool, dbplugin.WithContext(ctx)); err != nil {
		log.Error().Err(err).Msg("unable to register db plugin")
		return 1
	}
	s.MountHandlers()

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		log.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	})

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(log.Logger.WithContext(context.Background()), shutdownTimeout)
	defer cancel()
	exitCode := 0
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
		exitCode = 1
	}
	lifecycle.Wait()
	if err := s.Stop(shutdownCtx); err != nil {
		exitCode = 1
	}
	return exitCode
}

func setupLogger(c config.LogConfig) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if c.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
