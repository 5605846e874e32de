package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/forge-ai/autoalter/internal/media"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/tidwall/gjson"
)

const IDAzure = "azure_cognitive_services"

// Azure implements Provider for the Azure Computer Vision describe API.
type Azure struct {
	base
}

// NewAzure creates a new Azure Computer Vision provider instance.
func NewAzure(env Env) Provider {
	return &Azure{base: newBase(IDAzure, "Azure Cognitive Services", env)}
}

func (p *Azure) CheckSetup(ctx context.Context, s settings.Settings) bool {
	return sanitized(s.Endpoint) != "" && p.secret(ctx, s) != ""
}

func (p *Azure) Describe(ctx context.Context, req Request) (string, error) {
	body, contentType, err := azureBody(req.Image)
	if err != nil {
		return "", p.fail(&Error{Kind: KindImage, Err: err})
	}
	text, err := p.analyze(ctx, sanitized(req.Settings.Endpoint), req.Secret, body, contentType)
	if err != nil {
		return "", err
	}
	return p.translate(ctx, text, req.Settings), nil
}

// azureBody uploads the file itself when it is on disk and the public URL
// otherwise.
func azureBody(ref media.Reference) (io.Reader, string, error) {
	if ref.LocalPath() == "" {
		if ref.URL() == "" {
			return nil, "", fmt.Errorf("%s has no public url", ref.URI())
		}
		raw, err := json.Marshal(map[string]string{"url": ref.URL()})
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(raw), "application/json", nil
	}
	data, err := ref.ReadAll()
	if err != nil {
		return nil, "", err
	}
	return multipartFile(data)
}

func multipartFile(data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "image")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (p *Azure) analyze(ctx context.Context, endpoint, secret string, body io.Reader, contentType string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, body)
	if err != nil {
		return "", p.fail(&Error{Kind: KindTransport, Err: err})
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", secret)

	raw, err := p.send(httpReq)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(raw) {
		return "", p.fail(&Error{Kind: KindMalformedResponse, Reason: "response is not JSON"})
	}
	doc := gjson.ParseBytes(raw)
	if caption := strings.TrimSpace(doc.Get("description.captions.0.text").String()); caption != "" {
		return caption, nil
	}
	var tags []string
	for _, t := range doc.Get("description.tags").Array() {
		tags = append(tags, t.String())
	}
	if text := strings.TrimRight(strings.Join(tags, ","), ","); text != "" {
		return text, nil
	}
	return "", p.fail(&Error{Kind: KindMalformedResponse, Reason: "no caption or tags"})
}

// translate runs the optional translation step. A failed translation keeps
// the original caption.
func (p *Azure) translate(ctx context.Context, text string, s settings.Settings) string {
	if p.env.Translator == nil || !s.Translation.Active || s.Engine != p.id {
		return text
	}
	out, err := p.env.Translator.Translate(ctx, text, s.Translation)
	if err != nil {
		p.logger.Warn().Err(&Error{Kind: KindTranslationFailed, Provider: p.id, Err: err}).Msg("keeping untranslated caption")
		return text
	}
	if out = strings.TrimSpace(out); out == "" {
		return text
	}
	return out
}

func (p *Azure) schema() map[string]any {
	return p.baseSchema(map[string]any{"endpoint": nonEmptyString()}, []string{"endpoint"})
}

func (p *Azure) BuildConfigurationForm(s settings.Settings) Form {
	fields := []Field{{
		Name:        "endpoint",
		Type:        FieldText,
		Title:       "Endpoint",
		Description: "Enter the full describe URL of your Computer Vision resource, e.g. https://westeurope.api.cognitive.microsoft.com/vision/v3.2/describe?maxCandidates=1",
		Required:    true,
		Default:     s.Endpoint,
	}}
	return Form{
		Provider: p.id,
		Title:    p.title,
		Fields:   append(fields, p.credentialFields(s, "The subscription key of your Azure Computer Vision resource.")...),
		Schema:   p.schema(),
	}
}

// ValidateConfigurationForm checks the form and then describes a bundled
// sample image with the submitted endpoint and key.
func (p *Azure) ValidateConfigurationForm(ctx context.Context, values FormValues) error {
	values = values.canonical()
	if err := validateSchema(Form{Provider: p.id, Schema: p.schema()}, values); err != nil {
		return err
	}
	body, contentType, err := multipartFile(media.SampleImage())
	if err != nil {
		return err
	}
	if _, err := p.analyze(ctx, sanitized(values.Endpoint), p.valuesSecret(ctx, values), body, contentType); err != nil {
		return fieldError("credentials", "The API Key or the endpoint seem to be wrong. Please check in your Azure Console.")
	}
	p.env.Messenger.Status("Your settings have been successfully validated")
	return nil
}

func (p *Azure) SubmitConfigurationForm(values FormValues, repo settings.Repository) error {
	return p.submit(values, repo, func(s *settings.Settings) {
		s.Endpoint = strings.TrimSpace(values.Endpoint)
	})
}
