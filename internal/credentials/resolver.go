// Package credentials resolves the provider API secret from the stored
// credential blobs, either inline from configuration or indirectly through an
// external key store.
package credentials

import (
	"context"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
)

// Strategy identifiers as persisted in the settings record.
const (
	StrategyConfig = "config"
	StrategyKey    = "key"

	// StrategyKeyStore is accepted as an alias of StrategyKey.
	StrategyKeyStore = "key-store"
)

// Blob field names.
const (
	FieldAPIKey    = "api_key"
	FieldAPIKeyKey = "api_key_key"
)

// Blobs maps a strategy id to its key/value blob.
type Blobs map[string]map[string]string

// KeyStore looks up a secret value by its reference name.
type KeyStore interface {
	KeyValue(ctx context.Context, name string) (string, error)
}

// Strategy describes a selectable credential strategy.
type Strategy struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Resolver yields a single secret for the active strategy. It is safe for
// concurrent use.
type Resolver struct {
	keys   KeyStore
	logger zerolog.Logger
}

// NewResolver builds a resolver. keys may be nil, in which case the key
// strategy is unavailable and always resolves to empty.
func NewResolver(keys KeyStore, logger zerolog.Logger) *Resolver {
	return &Resolver{keys: keys, logger: logger}
}

// Resolve returns the sanitized secret for strategy, or "" when anything is
// missing. It never fails.
func (r *Resolver) Resolve(ctx context.Context, strategy string, blobs Blobs) string {
	switch Canonical(strategy) {
	case StrategyConfig:
		return Sanitize(blobs[StrategyConfig][FieldAPIKey])
	case StrategyKey:
		if r == nil || r.keys == nil {
			return ""
		}
		name := strings.TrimSpace(blobs[StrategyKey][FieldAPIKeyKey])
		if name == "" {
			return ""
		}
		v, err := r.keys.KeyValue(ctx, name)
		if err != nil {
			r.logger.Warn().Err(err).Str("key", name).Msg("key store lookup failed")
			return ""
		}
		return Sanitize(v)
	default:
		return ""
	}
}

// Available reports whether strategy can be used in this process.
func (r *Resolver) Available(strategy string) bool {
	switch Canonical(strategy) {
	case StrategyConfig:
		return true
	case StrategyKey:
		return r != nil && r.keys != nil
	}
	return false
}

// Strategies lists the usable strategies, config first.
func (r *Resolver) Strategies() []Strategy {
	out := []Strategy{{ID: StrategyConfig, Title: "Local configuration"}}
	if r.Available(StrategyKey) {
		out = append(out, Strategy{ID: StrategyKey, Title: "Key store"})
	}
	return out
}

// Normalize maps aliases to their canonical id and falls back to config when
// the requested strategy is unknown or unavailable.
func (r *Resolver) Normalize(strategy string) string {
	s := Canonical(strategy)
	if !r.Available(s) {
		return StrategyConfig
	}
	return s
}

// Canonical lowercases strategy and maps aliases to their canonical id.
func Canonical(strategy string) string {
	s := strings.ToLower(strings.TrimSpace(strategy))
	if s == StrategyKeyStore {
		return StrategyKey
	}
	return s
}

var strict = bluemonday.StrictPolicy()

// Sanitize strips markup from a stored secret so a tampered settings record
// cannot surface script in logs or the UI.
func Sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}
