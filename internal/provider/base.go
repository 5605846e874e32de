package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/forge-ai/autoalter/internal/credentials"
	"github.com/forge-ai/autoalter/internal/media"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/rs/zerolog"
)

const maxResponseBytes = 1 << 20

// base holds what every variant shares: identity, collaborators, reference
// normalization, credential lookup and failure reporting.
type base struct {
	id     string
	title  string
	env    Env
	logger zerolog.Logger
}

func newBase(id, title string, env Env) base {
	env = env.withDefaults()
	return base{
		id:     id,
		title:  title,
		env:    env,
		logger: env.Logger.With().Str("provider", id).Logger(),
	}
}

func (b *base) ID() string    { return b.id }
func (b *base) Title() string { return b.title }

func (b *base) NormalizeReference(ctx context.Context, ref media.Reference) (media.Reference, error) {
	out, err := b.env.Media.Normalize(ctx, ref)
	if err != nil {
		return ref, b.fail(&Error{Kind: KindImage, Err: err})
	}
	return out, nil
}

func (b *base) secret(ctx context.Context, s settings.Settings) string {
	return b.env.Resolver.Resolve(ctx, s.CredentialProvider, s.Credentials)
}

func (b *base) valuesSecret(ctx context.Context, v FormValues) string {
	return b.env.Resolver.Resolve(ctx, v.CredentialProvider, v.Credentials)
}

// fail stamps e with the provider identity, logs it and warns the editor.
func (b *base) fail(e *Error) error {
	e.Provider = b.id
	e.Title = b.title
	b.logger.Error().
		Str("kind", e.Kind.String()).
		Int("status", e.Status).
		Str("reason", e.Reason).
		Err(e.Err).
		Msg("image description failed")
	b.env.Messenger.Warn(UserMessage(e))
	return e
}

// send performs one HTTP round trip and returns the body of a 2xx response.
func (b *base) send(req *http.Request) ([]byte, error) {
	resp, err := b.env.HTTP.Do(req)
	if err != nil {
		return nil, b.fail(&Error{Kind: KindTransport, Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, b.fail(&Error{Kind: KindTransport, Err: fmt.Errorf("read body: %w", err)})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, b.fail(&Error{
			Kind:   KindRemote,
			Status: resp.StatusCode,
			Reason: reasonPhrase(resp, raw),
		})
	}
	b.logger.Debug().Int("status", resp.StatusCode).Int("bytes", len(raw)).Msg("remote call succeeded")
	return raw, nil
}

func reasonPhrase(resp *http.Response, raw []byte) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// submit persists the shared part of every provider form: engine, flags and
// the blob of the selected credential strategy. Blobs of other strategies
// are dropped so stale secrets do not linger.
func (b *base) submit(values FormValues, repo settings.Repository, apply func(*settings.Settings)) error {
	values = values.canonical()
	strategy := b.env.Resolver.Normalize(values.CredentialProvider)
	blob := values.blob(strategy)

	err := settings.Update(repo, func(s *settings.Settings) {
		s.Engine = b.id
		s.Status = values.Status
		s.Suggestion = values.Suggestion
		s.CredentialProvider = strategy
		s.Credentials = map[string]map[string]string{}
		if len(blob) > 0 {
			s.Credentials[strategy] = blob
		}
		if apply != nil {
			apply(s)
		}
	})
	if err != nil {
		return fmt.Errorf("save %s settings: %w", b.id, err)
	}
	b.logger.Info().Str("credential_provider", strategy).Msg("provider settings saved")
	return nil
}

func sanitized(s string) string { return credentials.Sanitize(s) }
