// autoalter generates alternative text for uploaded images.
//
//   image.uploaded
//     → resolve engine from settings
//     → check provider setup (no network call when incomplete)
//     → downscale oversized images
//     → one describe call (OpenAI / Azure Computer Vision / Alttext.ai)
//     ← alttext.generated | alttext.failed
//
// It also:
//   - Serves the provider configuration forms over REST
//   - Relays provider warnings to editors over WebSocket
//   - Exposes Prometheus metrics on /metrics
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/forge-ai/autoalter/services/autoalter/internal"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	_ = godotenv.Load()

	cfg := internal.ConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info().Msg("shutdown signal, stopping autoalter")
		cancel()
	}()

	svc, err := internal.NewService(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start autoalter")
	}
	defer svc.Close()

	log.Info().
		Bool("amqp", cfg.AMQPURL != "").
		Bool("key_store", cfg.RedisAddr != "").
		Str("settings", cfg.SettingsPath).
		Str("api_port", cfg.APIPort).
		Msg("autoalter online")

	if err := svc.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("autoalter exited")
	}
}
