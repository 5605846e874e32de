package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/forge-ai/autoalter/internal/credentials"
	"github.com/forge-ai/autoalter/internal/media"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

type recorder struct {
	mu     sync.Mutex
	warns  []string
	status []string
}

func (r *recorder) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, msg)
}

func (r *recorder) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, msg)
}

type fixture struct {
	env   Env
	msgs  *recorder
	lib   *media.Library
	root  string
	url   string
	calls atomic.Int32
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{msgs: &recorder{}, root: t.TempDir()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	f.lib = media.NewLibrary(media.LibraryConfig{Root: f.root, BaseURL: "https://cms.example.com/files"})
	f.env = Env{
		HTTP:      srv.Client(),
		Resolver:  credentials.NewResolver(credentials.NewStaticKeyStore(map[string]string{"vision": testKey}), zerolog.Nop()),
		Media:     f.lib,
		Messenger: f.msgs,
		Logger:    zerolog.Nop(),
		Endpoints: Endpoints{OpenAI: srv.URL + "/v1", AlttextAI: srv.URL + "/api/v1/images"},
	}
	f.url = srv.URL
	return f
}

func (f *fixture) localImage(t *testing.T) media.Reference {
	t.Helper()
	p := filepath.Join(f.root, "2024", "cat.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, media.SampleImage(), 0o644))
	ref, err := f.lib.Open("public://2024/cat.jpg")
	require.NoError(t, err)
	return ref
}

func configured(engine string) settings.Settings {
	s := settings.Defaults()
	s.Engine = engine
	s.Credentials = map[string]map[string]string{
		credentials.StrategyConfig: {credentials.FieldAPIKey: testKey},
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAlttextAIDescribeSendsInlineImage(t *testing.T) {
	var got map[string]any
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/images", r.URL.Path)
		assert.Equal(t, testKey, r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]string{"alt_text": "A cat on a mat"})
	})
	p := NewAlttextAI(f.env)

	text, err := p.Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey, Language: "de"})
	require.NoError(t, err)
	assert.Equal(t, "A cat on a mat", text)
	assert.Equal(t, "de", got["lang"])
	assert.Contains(t, got, "image")
	assert.NotContains(t, got, "url")
	assert.Empty(t, f.msgs.warns)
}

func TestAlttextAIForceURLUpload(t *testing.T) {
	var got map[string]any
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]string{"alt_text": "A cat"})
	})
	f.env.ForceURLUpload = true
	p := NewAlttextAI(f.env)

	_, err := p.Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey})
	require.NoError(t, err)
	assert.Equal(t, "https://cms.example.com/files/2024/cat.jpg", got["url"])
	assert.NotContains(t, got, "image")
}

func TestRemoteErrorIsSingleCallAndWarns(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	p := NewAlttextAI(f.env)

	_, err := p.Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRemote))

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusInternalServerError, pe.Status)
	assert.Equal(t, IDAlttextAI, pe.Provider)
	assert.EqualValues(t, 1, f.calls.Load())
	require.Len(t, f.msgs.warns, 1)
	assert.Contains(t, f.msgs.warns[0], "Alttext.AI")
}

func TestAlttextAIEmptyAltTextIsMalformed(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"alt_text": "  "})
	})
	p := NewAlttextAI(f.env)

	_, err := p.Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey})
	assert.True(t, IsKind(err, KindMalformedResponse))
}

func TestAzureFallsBackToTags(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testKey, r.Header.Get("Ocp-Apim-Subscription-Key"))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, media.SampleImage(), data)
		writeJSON(w, http.StatusOK, map[string]any{
			"description": map[string]any{"captions": []any{}, "tags": []string{"cat", "mat"}},
		})
	})
	p := NewAzure(f.env)
	s := configured(IDAzure)
	s.Endpoint = f.url + "/vision/v3.2/describe"

	text, err := p.Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey, Settings: s})
	require.NoError(t, err)
	assert.Equal(t, "cat,mat", text)
}

func TestAzureRemoteImageSendsURL(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://cdn.example.com/dog.png", body["url"])
		writeJSON(w, http.StatusOK, map[string]any{
			"description": map[string]any{"captions": []any{map[string]any{"text": "a dog", "confidence": 0.9}}},
		})
	})
	ref, err := f.lib.Remote("https://cdn.example.com/dog.png", 10)
	require.NoError(t, err)
	s := configured(IDAzure)
	s.Endpoint = f.url

	text, err := NewAzure(f.env).Describe(context.Background(), Request{Image: ref, Secret: testKey, Settings: s})
	require.NoError(t, err)
	assert.Equal(t, "a dog", text)
}

type stubTranslator struct {
	out string
	err error
}

func (s stubTranslator) Translate(context.Context, string, settings.Translation) (string, error) {
	return s.out, s.err
}

func TestAzureTranslation(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"description": map[string]any{"captions": []any{map[string]any{"text": "a cat"}}},
		})
	}
	cases := []struct {
		name       string
		translator Translator
		active     bool
		want       string
	}{
		{"translated", stubTranslator{out: "eine Katze"}, true, "eine Katze"},
		{"inactive", stubTranslator{out: "eine Katze"}, false, "a cat"},
		{"failure keeps caption", stubTranslator{err: errors.New("quota")}, true, "a cat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, handler)
			f.env.Translator = tc.translator
			s := configured(IDAzure)
			s.Endpoint = f.url
			s.Translation = settings.Translation{Active: tc.active, Language: "de"}

			text, err := NewAzure(f.env).Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey, Settings: s})
			require.NoError(t, err)
			assert.Equal(t, tc.want, text)
			assert.Empty(t, f.msgs.warns)
		})
	}
}

func TestOpenAIDescribe(t *testing.T) {
	var body map[string]any
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "```\n\"A cat on a mat.\"\n```"},
				"finish_reason": "stop",
			}},
		})
	})
	s := configured(IDOpenAI)

	text, err := NewOpenAI(f.env).Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey, Settings: s})
	require.NoError(t, err)
	assert.Equal(t, "A cat on a mat.", text)
	assert.Equal(t, DefaultOpenAIModel, body["model"])

	raw, _ := json.Marshal(body["messages"])
	assert.Contains(t, string(raw), "data:image/jpeg;base64,")
	assert.Contains(t, string(raw), "WCAG")
}

func TestOpenAIAuthErrorIsRemote(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"message": "Incorrect API key provided", "type": "invalid_request_error"},
		})
	})

	_, err := NewOpenAI(f.env).Describe(context.Background(), Request{Image: f.localImage(t), Secret: "bad", Settings: configured(IDOpenAI)})
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindRemote, pe.Kind)
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
	assert.Contains(t, UserMessage(err), "Incorrect API key")
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestOpenAIAzureServiceSendsOrganization(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/openai/deployments/"), r.URL.Path)
		assert.Equal(t, testKey, r.Header.Get("api-key"))
		assert.Equal(t, "org-42", r.Header.Get("OpenAI-Organization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": "A cat."}}},
		})
	})
	s := configured(IDOpenAI)
	s.Service = ServiceAzureOpenAI
	s.APIBase = f.url
	s.Organization = "org-42"

	text, err := NewOpenAI(f.env).Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey, Settings: s})
	require.NoError(t, err)
	assert.Equal(t, "A cat.", text)

	form := NewOpenAI(f.env).BuildConfigurationForm(s)
	for _, field := range form.Fields {
		if field.Name == "organization" {
			assert.Empty(t, field.VisibleWhen)
			assert.Equal(t, "org-42", field.Default)
		}
	}
}

// unreachable returns the URL of a listener that is already closed.
func unreachable(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestNetworkFailureIsTransport(t *testing.T) {
	down := unreachable(t)
	cases := []struct {
		name     string
		build    func(Env) Provider
		settings func() settings.Settings
		env      func(*Env)
	}{
		{
			name:     "alttext_ai",
			build:    NewAlttextAI,
			settings: func() settings.Settings { return configured(IDAlttextAI) },
			env:      func(e *Env) { e.Endpoints.AlttextAI = down + "/api/v1/images" },
		},
		{
			name:  "azure",
			build: NewAzure,
			settings: func() settings.Settings {
				s := configured(IDAzure)
				s.Endpoint = down
				return s
			},
		},
		{
			name:     "openai",
			build:    NewOpenAI,
			settings: func() settings.Settings { return configured(IDOpenAI) },
			env:      func(e *Env) { e.Endpoints.OpenAI = down + "/v1" },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
			if tc.env != nil {
				tc.env(&f.env)
			}

			text, err := tc.build(f.env).Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey, Settings: tc.settings()})
			assert.Empty(t, text)
			assert.True(t, IsKind(err, KindTransport), "got %v", err)
			assert.Len(t, f.msgs.warns, 1)
			assert.Zero(t, f.calls.Load())
		})
	}
}

func TestAzureWithoutCaptionOrTagsIsMalformed(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"description": map[string]any{}})
	})
	s := configured(IDAzure)
	s.Endpoint = f.url

	_, err := NewAzure(f.env).Describe(context.Background(), Request{Image: f.localImage(t), Secret: testKey, Settings: s})
	assert.True(t, IsKind(err, KindMalformedResponse))
	assert.EqualValues(t, 1, f.calls.Load())
	assert.Len(t, f.msgs.warns, 1)
}

func TestCheckSetup(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()

	empty := settings.Defaults()
	for _, d := range Builtin() {
		assert.False(t, d.New(f.env).CheckSetup(ctx, empty), d.ID)
	}

	alt := NewAlttextAI(f.env)
	assert.True(t, alt.CheckSetup(ctx, configured(IDAlttextAI)))

	viaKey := settings.Defaults()
	viaKey.CredentialProvider = credentials.StrategyKeyStore
	viaKey.Credentials = map[string]map[string]string{credentials.StrategyKey: {credentials.FieldAPIKeyKey: "vision"}}
	assert.True(t, alt.CheckSetup(ctx, viaKey))

	azure := NewAzure(f.env)
	assert.False(t, azure.CheckSetup(ctx, configured(IDAzure)), "endpoint missing")

	oa := NewOpenAI(f.env)
	s := configured(IDOpenAI)
	assert.True(t, oa.CheckSetup(ctx, s))
	s.Service = ServiceAzureOpenAI
	assert.False(t, oa.CheckSetup(ctx, s), "api base missing")
	assert.EqualValues(t, 0, f.calls.Load())
}

func TestAlttextAIValidateRejectsShortKey(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	p := NewAlttextAI(f.env)
	values := FormValues{
		CredentialProvider: credentials.StrategyConfig,
		Credentials:        map[string]map[string]string{credentials.StrategyConfig: {credentials.FieldAPIKey: "short"}},
	}

	err := p.ValidateConfigurationForm(context.Background(), values)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "The API key is invalid.", ve.Fields["api_key"])

	values.Credentials[credentials.StrategyConfig][credentials.FieldAPIKey] = testKey
	assert.NoError(t, p.ValidateConfigurationForm(context.Background(), values))
}

func TestValidateRequiresSelectedBlob(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	p := NewAlttextAI(f.env)

	err := p.ValidateConfigurationForm(context.Background(), FormValues{CredentialProvider: credentials.StrategyKeyStore})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.NotEmpty(t, ve.Fields)

	err = p.ValidateConfigurationForm(context.Background(), FormValues{CredentialProvider: "vault"})
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "credential_provider")
}

func TestAzureValidateCallsRemote(t *testing.T) {
	var fail atomic.Bool
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"description": map[string]any{"captions": []any{map[string]any{"text": "a sunny meadow"}}},
		})
	})
	p := NewAzure(f.env)
	values := FormValues{
		Endpoint:           f.url,
		CredentialProvider: credentials.StrategyConfig,
		Credentials:        map[string]map[string]string{credentials.StrategyConfig: {credentials.FieldAPIKey: testKey}},
	}

	require.NoError(t, p.ValidateConfigurationForm(context.Background(), values))
	assert.Equal(t, []string{"Your settings have been successfully validated"}, f.msgs.status)

	fail.Store(true)
	err := p.ValidateConfigurationForm(context.Background(), values)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields["credentials"], "Azure Console")

	values.Endpoint = ""
	err = p.ValidateConfigurationForm(context.Background(), values)
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "endpoint")
}

func TestSubmitKeepsOnlySelectedBlob(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	repo := settings.NewMemoryStore(configured(IDOpenAI))
	p := NewAzure(f.env)

	err := p.SubmitConfigurationForm(FormValues{
		Status:             true,
		Suggestion:         true,
		Endpoint:           " https://westeurope.api.cognitive.microsoft.com/vision/v3.2/describe ",
		CredentialProvider: credentials.StrategyKeyStore,
		Credentials: map[string]map[string]string{
			credentials.StrategyConfig:   {credentials.FieldAPIKey: "stale"},
			credentials.StrategyKeyStore: {credentials.FieldAPIKeyKey: "vision"},
		},
	}, repo)
	require.NoError(t, err)

	s := repo.Current()
	assert.Equal(t, IDAzure, s.Engine)
	assert.True(t, s.Suggestion)
	assert.Equal(t, credentials.StrategyKey, s.CredentialProvider)
	assert.Equal(t, map[string]map[string]string{credentials.StrategyKey: {credentials.FieldAPIKeyKey: "vision"}}, s.Credentials)
	assert.Equal(t, "https://westeurope.api.cognitive.microsoft.com/vision/v3.2/describe", s.Endpoint)
	assert.True(t, p.CheckSetup(context.Background(), s))
}

func TestSubmitDefaultPromptIsNotStored(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	repo := settings.NewMemoryStore(settings.Defaults())
	p := NewOpenAI(f.env)

	form := p.BuildConfigurationForm(repo.Current())
	var prompt string
	for _, fld := range form.Fields {
		if fld.Name == "prompt" {
			prompt, _ = fld.Default.(string)
		}
	}
	require.Equal(t, settings.DefaultPrompt, prompt)

	require.NoError(t, p.SubmitConfigurationForm(FormValues{
		CredentialProvider: credentials.StrategyConfig,
		Credentials:        map[string]map[string]string{credentials.StrategyConfig: {credentials.FieldAPIKey: testKey}},
		Prompt:             prompt,
	}, repo))
	assert.Empty(t, repo.Current().Prompt)
	assert.Equal(t, IDOpenAI, repo.Current().Engine)
}

func TestFormHidesKeyStrategyWithoutStore(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	f.env.Resolver = credentials.NewResolver(nil, zerolog.Nop())
	form := NewAlttextAI(f.env).BuildConfigurationForm(settings.Defaults())

	var names []string
	for _, fld := range form.Fields {
		names = append(names, fld.Name)
		if fld.Name == "credential_provider" {
			assert.True(t, fld.Disabled)
			assert.Len(t, fld.Options, 1)
		}
	}
	assert.NotContains(t, strings.Join(names, ","), "api_key_key")
}

func TestRegistry(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	reg := NewRegistry(f.env)

	_, err := reg.Get("watson")
	assert.True(t, IsKind(err, KindUnknownProvider))

	a, err := reg.Get(IDAzure)
	require.NoError(t, err)
	b, err := reg.Get(IDAzure)
	require.NoError(t, err)
	assert.Same(t, a, b)

	var ids []string
	for _, d := range reg.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{IDAzure, IDOpenAI, IDAlttextAI}, ids)
}

func TestCleanCaption(t *testing.T) {
	cases := map[string]string{
		"A cat on a mat.":                    "A cat on a mat.",
		"```\nA cat\n```":                    "A cat",
		"Alt text: A red bicycle":            "A red bicycle",
		`"A dog in the snow"`:                "A dog in the snow",
		"“Two people at a desk”":             "Two people at a desk",
		"  \n":                               "",
		"```text\nalt text: \"A fox\"\n```": "A fox",
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanCaption(in), in)
	}
}

func TestUserMessage(t *testing.T) {
	err := &Error{Kind: KindRemote, Provider: IDAzure, Title: "Azure Cognitive Services", Status: 500, Reason: "Internal Server Error"}
	assert.Equal(t, "The Azure Cognitive Services service returned an error: Internal Server Error", UserMessage(err))
	assert.Contains(t, UserMessage(&Error{Kind: KindUnknownProvider, Provider: "watson"}), `"watson"`)
	assert.Empty(t, UserMessage(nil))
}
