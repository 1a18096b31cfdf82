package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-roomrelay/internal/api"
	"github.com/npezzotti/go-roomrelay/internal/config"
	"github.com/npezzotti/go-roomrelay/internal/logger"
	"github.com/npezzotti/go-roomrelay/internal/server"
	"github.com/npezzotti/go-roomrelay/internal/stats"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	flags := pflag.NewFlagSet("roomrelay", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	flags.String("addr", "localhost:8765", "server address")
	flags.StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS and websocket upgrades")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human-readable console logs")
	flags.Parse(os.Args[1:])

	v := viper.New()
	for key, flag := range map[string]string{
		"server_addr":     "addr",
		"allowed_origins": "allowed-origins",
		"log.level":       "log-level",
		"log.pretty":      "log-pretty",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			log.Fatal().Err(err).Str("flag", flag).Msg("bind flag")
		}
	}

	cfg, err := config.Load(v, *configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	l := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger.BridgeStdlib(l)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	chatServer := server.NewChatServer(l, statsUpdater)
	srv := api.NewRelayApp(mux, l, chatServer, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		l.Info().Msg("shutting down")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutDownCtx); err != nil {
			return err
		}
		return chatServer.Shutdown(shutDownCtx)
	})

	// stats must outlive every client teardown, so a failed shutdown exits
	// without running the deferred Stop
	if err := g.Wait(); err != nil {
		l.Fatal().Err(err).Msg("server")
	}

	l.Info().Msg("shutdown complete")
}
