package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/forge-ai/autoalter/internal/credentials"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Field types understood by the host's form renderer.
const (
	FieldSelect    = "select"
	FieldText      = "text"
	FieldPassword  = "password"
	FieldTextarea  = "textarea"
	FieldCheckbox  = "checkbox"
	FieldKeySelect = "key_select"
)

// Option is one choice of a select field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field describes a single input. Name is a dotted path into FormValues.
type Field struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Required    bool              `json:"required,omitempty"`
	Options     []Option          `json:"options,omitempty"`
	Default     any               `json:"default,omitempty"`
	VisibleWhen map[string]string `json:"visible_when,omitempty"`
	Disabled    bool              `json:"disabled,omitempty"`
}

// Form is the schema a provider hands to the form renderer.
type Form struct {
	Provider string         `json:"provider"`
	Title    string         `json:"title"`
	Fields   []Field        `json:"fields"`
	Schema   map[string]any `json:"schema"`
}

// FormValues are the submitted values of a provider form.
type FormValues struct {
	Status             bool                         `json:"status" mapstructure:"status"`
	Suggestion         bool                         `json:"suggestion" mapstructure:"suggestion"`
	CredentialProvider string                       `json:"credential_provider" mapstructure:"credential_provider"`
	Credentials        map[string]map[string]string `json:"credentials,omitempty" mapstructure:"credentials"`

	Endpoint     string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Prompt       string `json:"prompt,omitempty" mapstructure:"prompt"`
	Service      string `json:"service,omitempty" mapstructure:"service"`
	APIBase      string `json:"api_base,omitempty" mapstructure:"api_base"`
	APIVersion   string `json:"api_version,omitempty" mapstructure:"api_version"`
	Organization string `json:"organization,omitempty" mapstructure:"organization"`
	Model        string `json:"model,omitempty" mapstructure:"model"`
}

// blob returns a copy of the submitted blob for strategy, accepting the
// key-store alias.
func (v FormValues) blob(strategy string) map[string]string {
	src := v.Credentials[strategy]
	if src == nil && strategy == credentials.StrategyKey {
		src = v.Credentials[credentials.StrategyKeyStore]
	}
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, val := range src {
		out[k] = strings.TrimSpace(val)
	}
	return out
}

// canonical maps the key-store alias onto the key strategy.
func (v FormValues) canonical() FormValues {
	v.CredentialProvider = credentials.Canonical(v.CredentialProvider)
	if alias, ok := v.Credentials[credentials.StrategyKeyStore]; ok {
		cp := make(map[string]map[string]string, len(v.Credentials))
		for k, blob := range v.Credentials {
			if k != credentials.StrategyKeyStore {
				cp[k] = blob
			}
		}
		if _, exists := cp[credentials.StrategyKey]; !exists {
			cp[credentials.StrategyKey] = alias
		}
		v.Credentials = cp
	}
	return v
}

// ValidationError maps field names to messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for n := range e.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+": "+e.Fields[n])
	}
	return "invalid settings: " + strings.Join(parts, "; ")
}

func fieldError(name, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{name: msg}}
}

// credentialFields builds the strategy selector and the per-strategy inputs.
// The key strategy is offered only when a key store is wired.
func (b *base) credentialFields(s settings.Settings, keyTitle string) []Field {
	strategies := b.env.Resolver.Strategies()
	opts := make([]Option, 0, len(strategies))
	for _, st := range strategies {
		opts = append(opts, Option{Value: st.ID, Label: st.Title})
	}
	selector := Field{
		Name:    "credential_provider",
		Type:    FieldSelect,
		Title:   "Credential provider",
		Options: opts,
		Default: b.env.Resolver.Normalize(s.CredentialProvider),
	}
	if len(opts) == 1 {
		selector.Default = credentials.StrategyConfig
		selector.Disabled = true
	}
	fields := []Field{selector, {
		Name:        "credentials.config.api_key",
		Type:        FieldPassword,
		Title:       "API Key (config)",
		Description: keyTitle,
		Required:    true,
		Default:     s.Credentials[credentials.StrategyConfig][credentials.FieldAPIKey],
		VisibleWhen: map[string]string{"credential_provider": credentials.StrategyConfig},
	}}
	if b.env.Resolver.Available(credentials.StrategyKey) {
		fields = append(fields, Field{
			Name:        "credentials.key.api_key_key",
			Type:        FieldKeySelect,
			Title:       "API Key (Key)",
			Description: "Your API key stored as a secure key.",
			Required:    true,
			Default:     s.Credentials[credentials.StrategyKey][credentials.FieldAPIKeyKey],
			VisibleWhen: map[string]string{"credential_provider": credentials.StrategyKey},
		})
	}
	return append(fields,
		Field{Name: "status", Type: FieldCheckbox, Title: "Generate alternative text on upload", Default: s.Status},
		Field{Name: "suggestion", Type: FieldCheckbox, Title: "Offer the text as a suggestion only", Default: s.Suggestion},
	)
}

// baseSchema is the JSON schema shared by every provider form. extra adds
// provider properties, required lists provider fields that must be set.
func (b *base) baseSchema(extra map[string]any, required []string, rules ...map[string]any) map[string]any {
	strategies := []any{}
	for _, st := range b.env.Resolver.Strategies() {
		strategies = append(strategies, st.ID)
	}
	props := map[string]any{
		"status":              map[string]any{"type": "boolean"},
		"suggestion":          map[string]any{"type": "boolean"},
		"credential_provider": map[string]any{"type": "string", "enum": strategies},
		"credentials":         map[string]any{"type": "object"},
	}
	for k, v := range extra {
		props[k] = v
	}
	allOf := []any{
		requireBlob(credentials.StrategyConfig, credentials.FieldAPIKey),
		requireBlob(credentials.StrategyKey, credentials.FieldAPIKeyKey),
	}
	for _, r := range rules {
		allOf = append(allOf, r)
	}
	req := append([]any{"credential_provider"}, toAny(required)...)
	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
		"required":   req,
		"allOf":      allOf,
	}
}

func requireBlob(strategy, field string) map[string]any {
	return map[string]any{
		"if": map[string]any{
			"properties": map[string]any{"credential_provider": map[string]any{"const": strategy}},
		},
		"then": map[string]any{
			"required": []any{"credentials"},
			"properties": map[string]any{"credentials": map[string]any{
				"required": []any{strategy},
				"properties": map[string]any{strategy: map[string]any{
					"type":     "object",
					"required": []any{field},
					"properties": map[string]any{field: map[string]any{
						"type": "string", "minLength": 1,
					}},
				}},
			}},
		},
	}
}

func nonEmptyString() map[string]any {
	return map[string]any{"type": "string", "minLength": 1}
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// validateSchema checks values against the form's JSON schema and converts
// violations into a ValidationError.
func validateSchema(form Form, values FormValues) error {
	schema, err := compileSchema(form.Schema)
	if err != nil {
		return fmt.Errorf("compile %s form schema: %w", form.Provider, err)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	err = schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	out := &ValidationError{Fields: map[string]string{}}
	collectLeaves(ve, out.Fields)
	return out
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("form.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("form.json")
}

func collectLeaves(ve *jsonschema.ValidationError, dst map[string]string) {
	if len(ve.Causes) == 0 {
		parent := strings.ReplaceAll(strings.Trim(ve.InstanceLocation, "/"), "/", ".")
		if missing, ok := strings.CutPrefix(ve.Message, "missing properties: "); ok {
			for _, prop := range strings.Split(missing, ",") {
				name := strings.Trim(strings.TrimSpace(prop), "'")
				if parent != "" {
					name = parent + "." + name
				}
				setOnce(dst, name, "This field is required.")
			}
			return
		}
		if parent == "" {
			parent = "form"
		}
		setOnce(dst, parent, ve.Message)
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, dst)
	}
}

func setOnce(dst map[string]string, name, msg string) {
	if _, ok := dst[name]; !ok {
		dst[name] = msg
	}
}
