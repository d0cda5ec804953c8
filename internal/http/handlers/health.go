package handlers

import (
	"net/http"

	"github.com/Feddakalkun/comfyuifeddafront/internal/generation"
	"github.com/Feddakalkun/comfyuifeddafront/internal/health"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Backends health.Status               `json:"backends"`
	Pages    map[string]generation.State `json:"pages"`
}

// Status reports backend liveness and every page's generation state.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Pages: make(map[string]generation.State, len(a.Pages))}
	if a.Monitor != nil {
		resp.Backends = a.Monitor.Status()
	}
	for name, runner := range a.Pages {
		resp.Pages[name] = runner.Holder().Snapshot()
	}
	a.json(w, http.StatusOK, resp)
}
