package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate", r.URL.Path)
		assert.Equal(t, "3.0", r.URL.Query().Get("api-version"))
		assert.Equal(t, "de", r.URL.Query().Get("to"))
		assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.Equal(t, "westeurope", r.Header.Get("Ocp-Apim-Subscription-Region"))

		var body []map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body, 1)
		assert.Equal(t, "a cat on a mat", body[0]["Text"])

		_, _ = w.Write([]byte(`[{"detectedLanguage":{"language":"en","score":1.0},"translations":[{"text":"eine Katze auf einer Matte","to":"de"}]}]`))
	}))
	defer srv.Close()

	c := New(srv.Client(), zerolog.Nop())
	out, err := c.Translate(context.Background(), "a cat on a mat", settings.Translation{
		Active: true, Endpoint: srv.URL + "/", Region: "westeurope", Language: "de", APIKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "eine Katze auf einer Matte", out)
}

func TestTranslateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401000,"message":"credentials are missing"}}`))
	}))
	defer srv.Close()
	c := New(srv.Client(), zerolog.Nop())
	ctx := context.Background()

	_, err := c.Translate(ctx, "x", settings.Translation{Endpoint: srv.URL, Language: "de", APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials are missing")

	_, err = c.Translate(ctx, "x", settings.Translation{Endpoint: srv.URL, APIKey: "k"})
	assert.Error(t, err)
	_, err = c.Translate(ctx, "x", settings.Translation{Endpoint: srv.URL, Language: "de"})
	assert.Error(t, err)
}
