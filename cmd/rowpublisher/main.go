package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/config"
	"github.com/illmade-knight/go-rowpublisher/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	fs := flag.NewFlagSet("rowpublisher", flag.ExitOnError)
	flags := bindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if flags.debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(flags.configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	flags.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("transport", cfg.Transport).
		Str("bootstrap", cfg.BootstrapEndpoint).
		Str("topic", cfg.TopicName).
		Str("input", cfg.InputPath).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cfg, log.Logger)
	switch {
	case errors.Is(err, messagepipeline.ErrConnection):
		log.Fatal().Err(err).Msg("Cannot reach the message transport")
	case errors.Is(err, context.Canceled):
		log.Warn().Int("skipped", summary.Skipped).Msg("Run interrupted.")
		os.Exit(1)
	case err != nil:
		log.Fatal().Err(err).Msg("Run failed")
	}

	if summary.Failed() > 0 {
		log.Warn().Int("failed", summary.Failed()).Msg("Some records were not delivered; see the log above.")
	}
	log.Info().Int("delivered", summary.Delivered).Int("total", summary.Total).Msg("Finished sending records.")
}
