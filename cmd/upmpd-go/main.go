package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/upmpd-go/upmpd-go/internal/config"
	"github.com/upmpd-go/upmpd-go/internal/logging"
	"github.com/upmpd-go/upmpd-go/internal/player"
	"github.com/upmpd-go/upmpd-go/internal/server"
)

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.NodeEnv, "upmpd-go")
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	addr := cfg.Host + ":" + cfg.Port

	// TODO: swap the in-memory player for the MPD control client once the
	// control-protocol package lands; the bridge runs against the fake's
	// queue until then.
	bridge, err := server.New(log, cfg, server.Options{Player: player.NewFake()})
	if err != nil {
		log.Fatal().Err(err).Msg("server init error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bridge.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("bridge start error")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           bridge.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := bridge.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}()

	log.Info().Str("addr", addr).Msg("upmpd-go listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}
