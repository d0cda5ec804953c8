package handlers

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

type optionSource struct {
	nodeType string
	input    string
}

// optionSources maps an option kind to the loader node input that lists it.
var optionSources = map[string]optionSource{
	"loras":  {nodeType: "LoraLoader", input: "lora_name"},
	"styles": {nodeType: "SDXLPromptStyler", input: "style"},
}

// Options lists the installed choices of one kind, read from the engine.
func (a *App) Options(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	src, ok := optionSources[kind]
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "unknown option kind "+kind)
		return
	}
	if a.Engine == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "engine not configured")
		return
	}
	items, err := a.Engine.InputOptions(r.Context(), src.nodeType, src.input)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []string{}
	}
	a.json(w, http.StatusOK, map[string]any{"kind": kind, "items": items})
}

// UploadImage stores a multipart "image" file on the engine host.
func (a *App) UploadImage(w http.ResponseWriter, r *http.Request) {
	if a.Engine == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "engine not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	f, hdr, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "image file is required")
		return
	}
	defer f.Close()

	name := path.Base(strings.ReplaceAll(hdr.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload.png"
	}
	res, err := a.Engine.UploadImage(r.Context(), name, f, r.FormValue("overwrite") == "true")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, res)
}
