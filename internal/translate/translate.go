// Package translate calls the Azure Translator v3 REST API.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/forge-ai/autoalter/internal/credentials"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultEndpoint is the global Translator endpoint.
const DefaultEndpoint = "https://api.cognitive.microsofttranslator.com"

// Client translates captions. It implements provider.Translator.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

func New(httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{http: httpClient, logger: logger.With().Str("component", "translate").Logger()}
}

// Translate returns text in cfg.Language.
func (c *Client) Translate(ctx context.Context, text string, cfg settings.Translation) (string, error) {
	if cfg.Language == "" {
		return "", fmt.Errorf("translate: target language is required")
	}
	key := credentials.Sanitize(cfg.APIKey)
	if key == "" {
		return "", fmt.Errorf("translate: api key is required")
	}
	endpoint := strings.TrimRight(credentials.Sanitize(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	q := url.Values{"api-version": {"3.0"}, "to": {cfg.Language}}

	body, err := json.Marshal([]map[string]string{{"Text": text}})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/translate?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", key)
	if cfg.Region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", cfg.Region)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("translate read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate: status %d: %s", resp.StatusCode, gjson.GetBytes(raw, "error.message").String())
	}
	out := gjson.GetBytes(raw, "0.translations.0.text").String()
	if out == "" {
		return "", fmt.Errorf("translate: empty response")
	}
	c.logger.Debug().Str("to", cfg.Language).Str("from", gjson.GetBytes(raw, "0.detectedLanguage.language").String()).Msg("caption translated")
	return out, nil
}
