package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/tidwall/gjson"
)

const (
	IDAlttextAI = "alttext_ai"

	// AlttextAIEndpoint is the fixed image description endpoint.
	AlttextAIEndpoint = "https://alttext.ai/api/v1/images"

	minAlttextKeyLength = 32
)

// AlttextAI implements Provider for alttext.ai.
type AlttextAI struct {
	base
	endpoint string
}

// NewAlttextAI creates a new Alttext.ai provider instance.
func NewAlttextAI(env Env) Provider {
	p := &AlttextAI{base: newBase(IDAlttextAI, "Alttext.AI", env), endpoint: AlttextAIEndpoint}
	if env.Endpoints.AlttextAI != "" {
		p.endpoint = env.Endpoints.AlttextAI
	}
	return p
}

func (p *AlttextAI) CheckSetup(ctx context.Context, s settings.Settings) bool {
	return p.secret(ctx, s) != ""
}

// Describe sends the image inline as base64 when the file is local, and its
// URL otherwise or when URL upload is forced.
func (p *AlttextAI) Describe(ctx context.Context, req Request) (string, error) {
	var payload map[string]any
	if req.Image.LocalPath() == "" || p.env.ForceURLUpload {
		if req.Image.URL() == "" {
			return "", p.fail(&Error{Kind: KindImage, Err: fmt.Errorf("%s has no public url", req.Image.URI())})
		}
		payload = map[string]any{"url": req.Image.URL()}
	} else {
		data, err := req.Image.ReadAll()
		if err != nil {
			return "", p.fail(&Error{Kind: KindImage, Err: err})
		}
		payload = map[string]any{
			"image": map[string]string{"raw": base64.StdEncoding.EncodeToString(data)},
			"lang":  req.Language,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", p.fail(&Error{Kind: KindImage, Err: err})
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", p.fail(&Error{Kind: KindTransport, Err: err})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-API-Key", req.Secret)

	raw, err := p.send(httpReq)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(raw) {
		return "", p.fail(&Error{Kind: KindMalformedResponse, Reason: "response is not JSON"})
	}
	alt := strings.TrimSpace(gjson.GetBytes(raw, "alt_text").String())
	if alt == "" {
		return "", p.fail(&Error{Kind: KindMalformedResponse, Reason: "alt_text missing"})
	}
	return alt, nil
}

func (p *AlttextAI) schema() map[string]any {
	return p.baseSchema(nil, nil)
}

func (p *AlttextAI) BuildConfigurationForm(s settings.Settings) Form {
	return Form{
		Provider: p.id,
		Title:    p.title,
		Fields:   p.credentialFields(s, "The API key for Alttext.AI (https://alttext.ai/)."),
		Schema:   p.schema(),
	}
}

// ValidateConfigurationForm rejects API keys shorter than 32 characters.
func (p *AlttextAI) ValidateConfigurationForm(ctx context.Context, values FormValues) error {
	values = values.canonical()
	if err := validateSchema(Form{Provider: p.id, Schema: p.schema()}, values); err != nil {
		return err
	}
	if len(p.valuesSecret(ctx, values)) < minAlttextKeyLength {
		return fieldError("api_key", "The API key is invalid.")
	}
	return nil
}

func (p *AlttextAI) SubmitConfigurationForm(values FormValues, repo settings.Repository) error {
	return p.submit(values, repo, nil)
}
