// Package provider defines the image description provider contract and its
// OpenAI, Azure Computer Vision and Alttext.ai implementations.
//
// Each implementation owns its wire format and maps every failure to *Error.
// Implementations are stateless after construction and safe for concurrent use.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/forge-ai/autoalter/internal/credentials"
	"github.com/forge-ai/autoalter/internal/media"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/rs/zerolog"
)

// Provider turns an image reference into descriptive text via one remote API.
type Provider interface {
	ID() string
	Title() string

	// CheckSetup reports whether every setting the provider needs, the
	// credential included, is present. It never touches the network.
	CheckSetup(ctx context.Context, s settings.Settings) bool

	// NormalizeReference swaps an oversized image for a bounded derivative.
	NormalizeReference(ctx context.Context, ref media.Reference) (media.Reference, error)

	// Describe issues exactly one remote call. Failures are *Error values.
	Describe(ctx context.Context, req Request) (string, error)

	BuildConfigurationForm(s settings.Settings) Form
	ValidateConfigurationForm(ctx context.Context, values FormValues) error
	SubmitConfigurationForm(values FormValues, repo settings.Repository) error
}

// Request is built fresh for every Describe call.
type Request struct {
	Image    media.Reference
	Secret   string
	Language string
	Settings settings.Settings
}

// Messenger surfaces non-blocking notices to editors.
type Messenger interface {
	Warn(msg string)
	Status(msg string)
}

// Translator translates a generated caption.
type Translator interface {
	Translate(ctx context.Context, text string, cfg settings.Translation) (string, error)
}

// Endpoints overrides fixed remote URLs.
type Endpoints struct {
	OpenAI    string
	AlttextAI string
}

// Env carries the collaborators every provider is built with.
type Env struct {
	HTTP       *http.Client
	Resolver   *credentials.Resolver
	Media      *media.Library
	Messenger  Messenger
	Translator Translator
	Logger     zerolog.Logger

	// ForceURLUpload makes Alttext.ai send the image URL even when the file
	// is available locally.
	ForceURLUpload bool
	Endpoints      Endpoints
}

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 30 * time.Second

func (e Env) withDefaults() Env {
	if e.HTTP == nil {
		e.HTTP = &http.Client{Timeout: DefaultTimeout}
	}
	if e.Resolver == nil {
		e.Resolver = credentials.NewResolver(nil, e.Logger)
	}
	if e.Media == nil {
		e.Media = media.NewLibrary(media.LibraryConfig{HTTP: e.HTTP, Logger: e.Logger})
	}
	if e.Messenger == nil {
		e.Messenger = LogMessenger{Logger: e.Logger}
	}
	return e
}

// LogMessenger writes notices to the log only.
type LogMessenger struct {
	Logger zerolog.Logger
}

func (m LogMessenger) Warn(msg string)   { m.Logger.Warn().Msg(msg) }
func (m LogMessenger) Status(msg string) { m.Logger.Info().Msg(msg) }
