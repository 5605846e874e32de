package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/forge-ai/autoalter/internal/media"
	"github.com/forge-ai/autoalter/internal/provider"
	"github.com/forge-ai/autoalter/internal/settings"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/providers", s.handleProviders)
	mux.HandleFunc("GET /api/providers/{id}/form", s.handleForm)
	mux.HandleFunc("POST /api/providers/{id}/form", s.handleSubmit)
	mux.HandleFunc("POST /api/settings/prompt/restore", s.handleRestorePrompt)
	mux.HandleFunc("POST /api/describe", s.handleDescribe)
	mux.HandleFunc("POST /api/describe/batch", s.handleDescribeBatch)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", s.hub.ServeWS)

	return cors(mux)
}

func (s *Service) serveAPI(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + s.cfg.APIPort,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.cfg.HTTPTimeout + 15*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	current := s.store.Current()
	ready := false
	if p, err := s.registry.Get(current.Engine); err == nil {
		ready = p.CheckSetup(r.Context(), current)
	}
	jsonOK(w, map[string]any{
		"status":     "online",
		"engine":     current.Engine,
		"ready":      ready,
		"automatic":  current.Status,
		"ws_clients": s.hub.Clients(),
	}, 200)
}

func (s *Service) handleProviders(w http.ResponseWriter, r *http.Request) {
	engine := s.store.Current().Engine
	type item struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Active bool   `json:"active"`
	}
	var out []item
	for _, d := range s.registry.List() {
		out = append(out, item{ID: d.ID, Title: d.Title, Active: d.ID == engine})
	}
	jsonOK(w, map[string]any{
		"providers":  out,
		"strategies": s.resolver.Strategies(),
	}, 200)
}

func (s *Service) provider(w http.ResponseWriter, r *http.Request) (provider.Provider, bool) {
	p, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		jsonErr(w, provider.UserMessage(err), 404)
		return nil, false
	}
	return p, true
}

func (s *Service) handleForm(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	jsonOK(w, p.BuildConfigurationForm(s.store.Current()), 200)
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	var values provider.FormValues
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		jsonErr(w, "invalid body", 400)
		return
	}

	if err := p.ValidateConfigurationForm(r.Context(), values); err != nil {
		var ve *provider.ValidationError
		if errors.As(err, &ve) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(422)
			json.NewEncoder(w).Encode(map[string]any{"error": "invalid settings", "fields": ve.Fields})
			return
		}
		log.Error().Err(err).Str("provider", p.ID()).Msg("form validation failed")
		jsonErr(w, "validation error", 500)
		return
	}
	if err := p.SubmitConfigurationForm(values, s.store); err != nil {
		log.Error().Err(err).Str("provider", p.ID()).Msg("settings save failed")
		jsonErr(w, "settings could not be saved", 500)
		return
	}
	jsonOK(w, map[string]any{"saved": true, "engine": p.ID()}, 200)
}

func (s *Service) handleRestorePrompt(w http.ResponseWriter, r *http.Request) {
	if err := settings.Update(s.store, func(st *settings.Settings) { st.Prompt = "" }); err != nil {
		jsonErr(w, "settings could not be saved", 500)
		return
	}
	jsonOK(w, map[string]string{"prompt": settings.DefaultPrompt}, 200)
}

func (s *Service) handleDescribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI      string `json:"uri"`
		URL      string `json:"url"`
		Size     int64  `json:"size"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid body", 400)
		return
	}
	ref, err := s.reference(req.URI, req.URL, req.Size)
	if err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}

	current := s.store.Current()
	text, err := s.orch.DescribeWith(r.Context(), current, ref, req.Language)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(describeStatus(err))
		json.NewEncoder(w).Encode(map[string]string{
			"error": provider.UserMessage(err),
			"kind":  provider.KindOf(err).String(),
		})
		return
	}
	jsonOK(w, map[string]any{
		"text":       text,
		"provider":   current.Engine,
		"suggestion": current.Suggestion,
	}, 200)
}

func (s *Service) handleDescribeBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Images []struct {
			URI  string `json:"uri"`
			URL  string `json:"url"`
			Size int64  `json:"size"`
		} `json:"images"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Images) == 0 {
		jsonErr(w, "invalid body", 400)
		return
	}
	refs := make([]media.Reference, 0, len(req.Images))
	for _, img := range req.Images {
		ref, err := s.reference(img.URI, img.URL, img.Size)
		if err != nil {
			jsonErr(w, err.Error(), 400)
			return
		}
		refs = append(refs, ref)
	}

	type item struct {
		Text  string `json:"text,omitempty"`
		Error string `json:"error,omitempty"`
		Kind  string `json:"kind,omitempty"`
	}
	results := s.orch.DescribeAll(r.Context(), refs, req.Language, max(s.cfg.MaxParallel, 1))
	out := make([]item, len(results))
	for i, res := range results {
		if res.Err != nil {
			out[i] = item{Error: provider.UserMessage(res.Err), Kind: provider.KindOf(res.Err).String()}
			continue
		}
		out[i] = item{Text: res.Text}
	}
	jsonOK(w, map[string]any{"results": out}, 200)
}

func describeStatus(err error) int {
	switch provider.KindOf(err) {
	case provider.KindUnknownProvider, provider.KindSetupIncomplete:
		return 409
	case provider.KindImage:
		return 400
	}
	return 502
}

func jsonOK(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}
