package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/forge-ai/autoalter/internal/media"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/gabriel-vasile/mimetype"
	openai "github.com/sashabaranov/go-openai"
)

const (
	IDOpenAI = "openai"

	// ServiceAzureOpenAI routes requests through an Azure OpenAI deployment.
	ServiceAzureOpenAI = "azure_openai"
	ServiceOpenAI      = "openai"

	DefaultOpenAIModel = "gpt-4o-mini"
	defaultAzureAPIVer = "2024-02-15-preview"
	openAIMaxTokens    = 300
)

// OpenAI implements Provider for chat-completion vision models.
type OpenAI struct {
	base
}

// NewOpenAI creates a new OpenAI provider instance.
func NewOpenAI(env Env) Provider {
	return &OpenAI{base: newBase(IDOpenAI, "OpenAI", env)}
}

func (p *OpenAI) CheckSetup(ctx context.Context, s settings.Settings) bool {
	if p.secret(ctx, s) == "" {
		return false
	}
	if s.Service == ServiceAzureOpenAI && sanitized(s.APIBase) == "" {
		return false
	}
	return true
}

func (p *OpenAI) client(secret string, s settings.Settings) *openai.Client {
	var cfg openai.ClientConfig
	if s.Service == ServiceAzureOpenAI {
		cfg = openai.DefaultAzureConfig(secret, sanitized(s.APIBase))
		cfg.APIVersion = defaultAzureAPIVer
		if v := strings.TrimSpace(s.APIVersion); v != "" {
			cfg.APIVersion = v
		}
	} else {
		cfg = openai.DefaultConfig(secret)
		if p.env.Endpoints.OpenAI != "" {
			cfg.BaseURL = p.env.Endpoints.OpenAI
		}
	}
	cfg.OrgID = sanitized(s.Organization)
	cfg.HTTPClient = p.env.HTTP
	return openai.NewClientWithConfig(cfg)
}

func model(s settings.Settings) string {
	if m := strings.TrimSpace(s.Model); m != "" {
		return m
	}
	return DefaultOpenAIModel
}

// imageURL inlines a local file as a data URL, otherwise uses the public URL.
func imageURL(ref media.Reference) (string, error) {
	if ref.LocalPath() == "" {
		if ref.URL() == "" {
			return "", fmt.Errorf("%s has no public url", ref.URI())
		}
		return ref.URL(), nil
	}
	data, err := ref.ReadAll()
	if err != nil {
		return "", err
	}
	return "data:" + mimetype.Detect(data).String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func prompt(s settings.Settings, lang string) string {
	out := s.EffectivePrompt()
	if lang != "" && !strings.EqualFold(lang, settings.DefaultLanguage) {
		out += fmt.Sprintf("\nWrite the alt text in the language with the code %q.", lang)
	}
	return out
}

func (p *OpenAI) Describe(ctx context.Context, req Request) (string, error) {
	url, err := imageURL(req.Image)
	if err != nil {
		return "", p.fail(&Error{Kind: KindImage, Err: err})
	}
	return p.complete(ctx, req.Secret, req.Settings, url, req.Language)
}

func (p *OpenAI) complete(ctx context.Context, secret string, s settings.Settings, url, lang string) (string, error) {
	resp, err := p.client(secret, s).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model(s),
		MaxTokens: openAIMaxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt(s, lang)},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    url,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
	})
	if err != nil {
		return "", p.fail(classifyOpenAI(err))
	}
	if len(resp.Choices) == 0 {
		return "", p.fail(&Error{Kind: KindMalformedResponse, Reason: "no choices"})
	}
	text := cleanCaption(resp.Choices[0].Message.Content)
	if text == "" {
		return "", p.fail(&Error{Kind: KindMalformedResponse, Reason: "empty caption"})
	}
	p.logger.Debug().Str("model", resp.Model).Int("tokens", resp.Usage.TotalTokens).Msg("caption generated")
	return text, nil
}

func classifyOpenAI(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		reason := apiErr.Message
		if reason == "" {
			reason = http.StatusText(apiErr.HTTPStatusCode)
		}
		return &Error{Kind: KindRemote, Status: apiErr.HTTPStatusCode, Reason: reason, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &Error{Kind: KindRemote, Status: reqErr.HTTPStatusCode, Reason: http.StatusText(reqErr.HTTPStatusCode), Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Kind: KindMalformedResponse, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}

func (p *OpenAI) schema() map[string]any {
	props := map[string]any{
		"service": map[string]any{"type": "string", "enum": []any{"", ServiceOpenAI, ServiceAzureOpenAI}},
		"prompt":  map[string]any{"type": "string"},
		"model":   map[string]any{"type": "string"},
	}
	azure := map[string]any{
		"if": map[string]any{
			"required":   []any{"service"},
			"properties": map[string]any{"service": map[string]any{"const": ServiceAzureOpenAI}},
		},
		"then": map[string]any{
			"required":   []any{"api_base"},
			"properties": map[string]any{"api_base": nonEmptyString()},
		},
	}
	return p.baseSchema(props, nil, azure)
}

func (p *OpenAI) BuildConfigurationForm(s settings.Settings) Form {
	service := s.Service
	if service == "" {
		service = ServiceOpenAI
	}
	azureOnly := map[string]string{"service": ServiceAzureOpenAI}
	fields := []Field{
		{
			Name:  "service",
			Type:  FieldSelect,
			Title: "Service",
			Options: []Option{
				{Value: ServiceOpenAI, Label: "OpenAI"},
				{Value: ServiceAzureOpenAI, Label: "Azure OpenAI"},
			},
			Default: service,
		},
		{Name: "api_base", Type: FieldText, Title: "API base", Description: "The endpoint of your Azure OpenAI resource.", Default: s.APIBase, VisibleWhen: azureOnly},
		{Name: "api_version", Type: FieldText, Title: "API version", Default: s.APIVersion, VisibleWhen: azureOnly},
		{Name: "organization", Type: FieldText, Title: "Organization", Default: s.Organization},
		{Name: "model", Type: FieldText, Title: "Model", Description: "Model or Azure deployment name.", Default: model(s)},
		{Name: "prompt", Type: FieldTextarea, Title: "Prompt", Default: s.EffectivePrompt()},
	}
	return Form{
		Provider: p.id,
		Title:    p.title,
		Fields:   append(fields, p.credentialFields(s, "Your OpenAI API key.")...),
		Schema:   p.schema(),
	}
}

// ValidateConfigurationForm checks the form and then captions the bundled
// sample image with the submitted credentials.
func (p *OpenAI) ValidateConfigurationForm(ctx context.Context, values FormValues) error {
	values = values.canonical()
	if err := validateSchema(Form{Provider: p.id, Schema: p.schema()}, values); err != nil {
		return err
	}
	s := settings.Settings{
		Service:      values.Service,
		APIBase:      values.APIBase,
		APIVersion:   values.APIVersion,
		Organization: values.Organization,
		Model:        values.Model,
	}
	sample := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(media.SampleImage())
	if _, err := p.complete(ctx, p.valuesSecret(ctx, values), s, sample, ""); err != nil {
		return fieldError("credentials", "The API key or the service settings seem to be wrong.")
	}
	p.env.Messenger.Status("Your settings have been successfully validated")
	return nil
}

func (p *OpenAI) SubmitConfigurationForm(values FormValues, repo settings.Repository) error {
	return p.submit(values, repo, func(s *settings.Settings) {
		s.Service = strings.TrimSpace(values.Service)
		s.APIBase = strings.TrimSpace(values.APIBase)
		s.APIVersion = strings.TrimSpace(values.APIVersion)
		s.Organization = strings.TrimSpace(values.Organization)
		s.Model = strings.TrimSpace(values.Model)
		s.Prompt = strings.TrimSpace(values.Prompt)
		if s.Prompt == settings.DefaultPrompt {
			s.Prompt = ""
		}
	})
}
