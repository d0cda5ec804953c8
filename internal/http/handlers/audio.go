package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/Feddakalkun/comfyuifeddafront/internal/audio"
)

type speakRequest struct {
	Text       string `json:"text"`
	VoiceStyle string `json:"voice_style"`
}

func (a *App) mediaReady(w http.ResponseWriter) bool {
	if a.Media == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "audio service not configured")
		return false
	}
	return true
}

// formFile reads a required multipart file, answering the client itself when
// it is missing or too large.
func (a *App) formFile(w http.ResponseWriter, r *http.Request, field string) (multipart.File, *multipart.FileHeader, bool) {
	f, hdr, err := r.FormFile(field)
	if err == nil {
		return f, hdr, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit")
		return nil, nil, false
	}
	a.error(w, http.StatusBadRequest, "bad_request", field+" file is required")
	return nil, nil, false
}

// Transcribe turns a multipart "audio" recording into text.
func (a *App) Transcribe(w http.ResponseWriter, r *http.Request) {
	if !a.mediaReady(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	f, hdr, ok := a.formFile(w, r, "audio")
	if !ok {
		return
	}
	defer f.Close()

	text, err := a.Media.Transcribe(r.Context(), audio.File{Name: hdr.Filename, Reader: f})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"text": text})
}

// Speak answers with the rendered audio bytes.
func (a *App) Speak(w http.ResponseWriter, r *http.Request) {
	if !a.mediaReady(w) {
		return
	}
	var req speakRequest
	if !a.decode(w, r, &req) {
		return
	}
	media, err := a.Media.Speak(r.Context(), req.Text, req.VoiceStyle)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.media(w, media)
}

// LipSync animates a multipart "image" to a multipart "audio" track.
func (a *App) LipSync(w http.ResponseWriter, r *http.Request) {
	if !a.mediaReady(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	img, imgHdr, ok := a.formFile(w, r, "image")
	if !ok {
		return
	}
	defer img.Close()
	track, trackHdr, ok := a.formFile(w, r, "audio")
	if !ok {
		return
	}
	defer track.Close()

	seed := int64(-1)
	if raw := strings.TrimSpace(r.FormValue("seed")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "seed must be an integer")
			return
		}
		seed = v
	}
	media, err := a.Media.LipSync(r.Context(), audio.LipSyncRequest{
		Image:      audio.File{Name: imgHdr.Filename, Reader: img},
		Audio:      audio.File{Name: trackHdr.Filename, Reader: track},
		Prompt:     r.FormValue("prompt"),
		Resolution: r.FormValue("resolution"),
		Seed:       seed,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.media(w, media)
}

func (a *App) media(w http.ResponseWriter, m *audio.Media) {
	w.Header().Set("Content-Type", m.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(m.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(m.Data)
}
