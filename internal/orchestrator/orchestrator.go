// Package orchestrator runs one image description end to end: it picks the
// configured provider, checks its setup, normalizes the image, resolves the
// credential and issues exactly one describe call.
package orchestrator

import (
	"context"
	"time"

	"github.com/forge-ai/autoalter/internal/credentials"
	"github.com/forge-ai/autoalter/internal/media"
	"github.com/forge-ai/autoalter/internal/provider"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Orchestrator is safe for concurrent use. Settings are read on every call so
// an engine switch takes effect immediately.
type Orchestrator struct {
	settings  settings.Source
	registry  *provider.Registry
	resolver  *credentials.Resolver
	messenger provider.Messenger
	metrics   *Metrics
	logger    zerolog.Logger
}

// Config groups the collaborators of an Orchestrator.
type Config struct {
	Settings  settings.Source
	Registry  *provider.Registry
	Resolver  *credentials.Resolver
	Messenger provider.Messenger
	Metrics   *Metrics
	Logger    zerolog.Logger
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		settings:  cfg.Settings,
		registry:  cfg.Registry,
		resolver:  cfg.Resolver,
		messenger: cfg.Messenger,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}
	if o.resolver == nil {
		o.resolver = credentials.NewResolver(nil, cfg.Logger)
	}
	if o.messenger == nil {
		o.messenger = provider.LogMessenger{Logger: o.logger}
	}
	return o
}

// Describe returns the alternative text for ref. lang falls back to the
// configured language. Every failure is a *provider.Error.
func (o *Orchestrator) Describe(ctx context.Context, ref media.Reference, lang string) (string, error) {
	return o.DescribeWith(ctx, o.settings.Current(), ref, lang)
}

// DescribeWith is Describe against a settings snapshot the caller already
// holds, so the caller can report the engine that actually ran.
func (o *Orchestrator) DescribeWith(ctx context.Context, s settings.Settings, ref media.Reference, lang string) (string, error) {
	if lang == "" {
		lang = s.Language
	}
	log := o.logger.With().Str("engine", s.Engine).Str("image", ref.URI()).Logger()

	p, err := o.registry.Get(s.Engine)
	if err != nil {
		return "", o.abort(log, s.Engine, err)
	}
	if !p.CheckSetup(ctx, s) {
		return "", o.abort(log, s.Engine, &provider.Error{Kind: provider.KindSetupIncomplete, Provider: p.ID(), Title: p.Title()})
	}

	normalized, err := p.NormalizeReference(ctx, ref)
	if err != nil {
		o.metrics.observe(p.ID(), provider.KindOf(err).String(), 0)
		return "", err
	}
	// The key store may fail between the setup check and this lookup.
	secret := o.resolver.Resolve(ctx, s.CredentialProvider, s.Credentials)
	if secret == "" {
		return "", o.abort(log, p.ID(), &provider.Error{Kind: provider.KindSetupIncomplete, Provider: p.ID(), Title: p.Title()})
	}

	start := time.Now()
	text, err := p.Describe(ctx, provider.Request{Image: normalized, Secret: secret, Language: lang, Settings: s})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		o.metrics.observe(p.ID(), provider.KindOf(err).String(), elapsed)
		return "", err
	}
	o.metrics.observe(p.ID(), "ok", elapsed)
	log.Info().Str("derivative", normalized.URI()).Float64("seconds", elapsed).Msg("alternative text generated")
	return text, nil
}

// abort reports a failure that happened before any provider call.
func (o *Orchestrator) abort(log zerolog.Logger, engine string, err error) error {
	o.metrics.observe(engine, provider.KindOf(err).String(), 0)
	log.Warn().Err(err).Msg("description skipped")
	o.messenger.Warn(provider.UserMessage(err))
	return err
}

// Result is the outcome for one image of DescribeAll.
type Result struct {
	Image media.Reference
	Text  string
	Err   error
}

// DescribeAll describes refs with at most limit calls in flight. Results keep
// the order of refs; one failure does not stop the others.
func (o *Orchestrator) DescribeAll(ctx context.Context, refs []media.Reference, lang string, limit int) []Result {
	out := make([]Result, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, ref := range refs {
		g.Go(func() error {
			text, err := o.Describe(gctx, ref, lang)
			out[i] = Result{Image: ref, Text: text, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
