package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Feddakalkun/comfyuifeddafront/internal/ollama"
)

func (a *App) ListModels(w http.ResponseWriter, r *http.Request) {
	if a.Models == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "language model runtime not configured")
		return
	}
	models, err := a.Models.Models(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if models == nil {
		models = []ollama.Model{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": models, "preferred": ollama.Preferred(models)})
}

type pullRequest struct {
	Name string `json:"name"`
}

type pullLine struct {
	ollama.PullProgress
	Percent int `json:"percent"`
}

// PullModel streams download progress as newline-delimited JSON. Failures
// after the first line are reported as a final line with status "error".
func (a *App) PullModel(w http.ResponseWriter, r *http.Request) {
	if a.Models == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "language model runtime not configured")
		return
	}
	var req pullRequest
	if !a.decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "model name is required")
		return
	}

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	started := false
	err := a.Models.Pull(r.Context(), name, func(p ollama.PullProgress) {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		_ = enc.Encode(pullLine{PullProgress: p, Percent: p.Percent()})
		_ = rc.Flush()
	})
	if err == nil && !started {
		a.json(w, http.StatusOK, pullLine{PullProgress: ollama.PullProgress{Status: "success"}, Percent: 100})
		return
	}
	if err != nil {
		if !started {
			a.fail(w, r, err)
			return
		}
		a.Logger.Warn().Err(err).Str("model", name).Msg("models: pull failed mid-stream")
		_, _, msg := classify(err)
		_ = enc.Encode(pullLine{PullProgress: ollama.PullProgress{Status: "error", Error: msg}, Percent: -1})
		_ = rc.Flush()
		return
	}
	a.Logger.Info().Str("model", name).Msg("models: pulled")
}

func (a *App) DeleteModel(w http.ResponseWriter, r *http.Request) {
	if a.Models == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "language model runtime not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if err := a.Models.Delete(r.Context(), name); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
