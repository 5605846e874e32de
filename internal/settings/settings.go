// Package settings holds the host's stored alt-text configuration record and
// the stores it is read from and written to.
package settings

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DefaultPrompt is the instruction sent to chat-completion providers unless
// an administrator configures another one.
const DefaultPrompt = `Create alt text for an image, following WCAG guidelines, at most 125 characters long.
Make reasonable inferences only when identifying well-known characters, locations, objects, or text that are clearly visible in the image.
Do not infer emotions, intentions, or any contextual meaning not directly observable in the image.
1. Begin by describing the main subject, followed by key details, and conclude with visible contextual elements.
2. Include relevant image text verbatim if it's integral to understanding the image.
3. Be clear and include necessary details without over-describing.
4. Avoid repetition and redundancy.
5. Do not make inferences or suggestions (e.g., don't say 'this shows/means/suggests...').
6. Do not begin with 'Alt text:'.
7. Incorporate keywords directly relevant to the image's primary content; avoid keyword stuffing (1-2 keywords max).`

const (
	DefaultEngine   = "azure_cognitive_services"
	DefaultLanguage = "en"
)

// Translation configures the optional caption translation step.
type Translation struct {
	Active   bool   `mapstructure:"active" yaml:"active" json:"active"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Region   string `mapstructure:"region" yaml:"region,omitempty" json:"region,omitempty"`
	Language string `mapstructure:"language" yaml:"language,omitempty" json:"language,omitempty"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty" json:"-"`
}

// Settings is the decoded configuration record.
type Settings struct {
	Engine             string                       `mapstructure:"engine" yaml:"engine" json:"engine"`
	Status             bool                         `mapstructure:"status" yaml:"status" json:"status"`
	Suggestion         bool                         `mapstructure:"suggestion" yaml:"suggestion" json:"suggestion"`
	CredentialProvider string                       `mapstructure:"credential_provider" yaml:"credential_provider" json:"credential_provider"`
	Credentials        map[string]map[string]string `mapstructure:"credentials" yaml:"credentials" json:"-"`

	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Prompt       string `mapstructure:"prompt" yaml:"prompt,omitempty" json:"prompt,omitempty"`
	APIVersion   string `mapstructure:"api_version" yaml:"api_version,omitempty" json:"api_version,omitempty"`
	Organization string `mapstructure:"organization" yaml:"organization,omitempty" json:"organization,omitempty"`
	Service      string `mapstructure:"service" yaml:"service,omitempty" json:"service,omitempty"`
	APIBase      string `mapstructure:"api_base" yaml:"api_base,omitempty" json:"api_base,omitempty"`
	Model        string `mapstructure:"model" yaml:"model,omitempty" json:"model,omitempty"`
	Language     string `mapstructure:"language" yaml:"language,omitempty" json:"language,omitempty"`

	Translation Translation `mapstructure:"translate" yaml:"translate" json:"translate"`
}

// Defaults returns the record of a fresh install.
func Defaults() Settings {
	return Settings{
		Engine:             DefaultEngine,
		Status:             true,
		CredentialProvider: "config",
		Credentials:        map[string]map[string]string{},
		Language:           DefaultLanguage,
	}
}

// EffectivePrompt falls back to DefaultPrompt.
func (s Settings) EffectivePrompt() string {
	if p := strings.TrimSpace(s.Prompt); p != "" {
		return p
	}
	return DefaultPrompt
}

// Clone deep-copies the credential map so callers may mutate the result.
func (s Settings) Clone() Settings {
	out := s
	out.Credentials = make(map[string]map[string]string, len(s.Credentials))
	for k, blob := range s.Credentials {
		cp := make(map[string]string, len(blob))
		for f, v := range blob {
			cp[f] = v
		}
		out.Credentials[k] = cp
	}
	return out
}

// Decode turns a raw nested document into Settings, applying defaults for
// keys the document leaves out.
func Decode(raw map[string]any) (Settings, error) {
	s := Defaults()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Settings{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	s.normalize()
	return s, s.Validate()
}

func (s *Settings) normalize() {
	s.Engine = strings.TrimSpace(s.Engine)
	s.CredentialProvider = strings.ToLower(strings.TrimSpace(s.CredentialProvider))
	if s.CredentialProvider == "" {
		s.CredentialProvider = "config"
	}
	if s.Credentials == nil {
		s.Credentials = map[string]map[string]string{}
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.APIBase = strings.TrimSpace(s.APIBase)
}

// Validate checks structural constraints. Semantic checks (whether a
// credential is present) belong to the providers.
func (s Settings) Validate() error {
	if s.Engine == "" {
		return fmt.Errorf("settings: engine is required")
	}
	if s.Translation.Active && s.Translation.Language == "" {
		return fmt.Errorf("settings: translate.language is required when translation is active")
	}
	return nil
}

// Source yields the current settings snapshot.
type Source interface {
	Current() Settings
}

// Repository is a Source that can also persist a new record.
type Repository interface {
	Source
	Save(Settings) error
}
