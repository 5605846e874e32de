package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/forge-ai/autoalter/internal/credentials"
	"github.com/forge-ai/autoalter/internal/media"
	"github.com/forge-ai/autoalter/internal/orchestrator"
	"github.com/forge-ai/autoalter/internal/provider"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/forge-ai/autoalter/internal/translate"
	"github.com/forge-ai/autoalter/shared/events"
	"github.com/forge-ai/autoalter/shared/mq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const uploadQueue = "autoalter.image.uploaded"

// Bus is the part of *mq.Broker the service uses.
type Bus interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	Subscribe(queueName, pattern string, prefetch int) (<-chan amqp.Delivery, error)
	Close()
}

// Service wires the settings store, providers and orchestrator behind the
// REST API, the WebSocket hub and the upload consumer.
type Service struct {
	cfg      Config
	bus      Bus
	hub      *Hub
	store    settings.Repository
	resolver *credentials.Resolver
	registry *provider.Registry
	media    *media.Library
	orch     *orchestrator.Orchestrator
	metrics  *prometheus.Registry
	closers  []func()
}

func NewService(ctx context.Context, cfg Config) (*Service, error) {
	store, err := settings.OpenFileStore(cfg.SettingsPath, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	var closers []func()
	var keys credentials.KeyStore
	if cfg.RedisAddr != "" {
		rks, err := credentials.NewRedisKeyStore(ctx, credentials.RedisConfig{
			Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("key store: %w", err)
		}
		keys = rks
		closers = append(closers, func() { rks.Close() })
	}

	var bus Bus
	if cfg.AMQPURL != "" {
		broker, err := mq.New(cfg.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("mq connect: %w", err)
		}
		bus = broker
	}

	s := newService(cfg, store, keys, bus)
	s.closers = append(s.closers, closers...)
	return s, nil
}

// newService builds a Service from already opened collaborators.
func newService(cfg Config, store settings.Repository, keys credentials.KeyStore, bus Bus) *Service {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.HTTPTimeout <= 0 {
		httpClient.Timeout = provider.DefaultTimeout
	}
	resolver := credentials.NewResolver(keys, log.Logger)
	lib := media.NewLibrary(media.LibraryConfig{
		Root:      cfg.MediaRoot,
		BaseURL:   cfg.PublicBaseURL,
		Threshold: cfg.SizeThreshold,
		HTTP:      httpClient,
		Logger:    log.Logger,
	})

	hub := NewHub()
	var messenger provider.Messenger = hub
	if cfg.TelegramToken != "" && cfg.TelegramChat != "" {
		messenger = messengers{hub, NewTelegram(cfg.TelegramToken, cfg.TelegramChat, httpClient)}
	}

	registry := provider.NewRegistry(provider.Env{
		HTTP:           httpClient,
		Resolver:       resolver,
		Media:          lib,
		Messenger:      messenger,
		Translator:     translate.New(httpClient, log.Logger),
		Logger:         log.Logger,
		ForceURLUpload: cfg.ForceURLUpload,
		Endpoints:      provider.Endpoints{OpenAI: cfg.OpenAIBaseURL, AlttextAI: cfg.AlttextAIEndpoint},
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Service{
		cfg:      cfg,
		bus:      bus,
		hub:      hub,
		store:    store,
		resolver: resolver,
		registry: registry,
		media:    lib,
		metrics:  reg,
		orch: orchestrator.New(orchestrator.Config{
			Settings:  store,
			Registry:  registry,
			Resolver:  resolver,
			Messenger: messenger,
			Metrics:   orchestrator.NewMetrics(reg),
			Logger:    log.Logger,
		}),
	}
}

func (s *Service) Close() {
	if s.bus != nil {
		s.bus.Close()
	}
	for _, c := range s.closers {
		c()
	}
}

// Run starts the hub, the API server and, when a broker is configured, the
// upload consumers.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.hub.Run(ctx) })
	g.Go(func() error { return s.serveAPI(ctx) })

	if s.bus != nil {
		workers := max(s.cfg.MaxParallel, 1)
		deliveries, err := s.bus.Subscribe(uploadQueue, events.ImageUploaded, workers)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", uploadQueue, err)
		}
		for range workers {
			g.Go(func() error { return s.consume(ctx, deliveries) })
		}
	} else {
		log.Warn().Msg("AMQP_URL not set, upload consumer disabled")
	}

	return g.Wait()
}
