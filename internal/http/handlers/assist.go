package handlers

import (
	"net/http"
)

type enhanceRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type describeRequest struct {
	Model string `json:"model"`
	// Image is base64 or a data URL.
	Image string `json:"image"`
}

// Enhance expands a short idea into a full image prompt.
func (a *App) Enhance(w http.ResponseWriter, r *http.Request) {
	if a.Assistant == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "assistant not configured")
		return
	}
	var req enhanceRequest
	if !a.decode(w, r, &req) {
		return
	}
	prompt, err := a.Assistant.Enhance(r.Context(), req.Model, req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"prompt": prompt})
}

// Describe captions an image.
func (a *App) Describe(w http.ResponseWriter, r *http.Request) {
	if a.Assistant == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "assistant not configured")
		return
	}
	var req describeRequest
	if !a.decode(w, r, &req) {
		return
	}
	caption, err := a.Assistant.Describe(r.Context(), req.Model, req.Image)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"description": caption})
}
