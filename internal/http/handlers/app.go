package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/Feddakalkun/comfyuifeddafront/internal/assistant"
	"github.com/Feddakalkun/comfyuifeddafront/internal/audio"
	"github.com/Feddakalkun/comfyuifeddafront/internal/chat"
	"github.com/Feddakalkun/comfyuifeddafront/internal/comfy"
	"github.com/Feddakalkun/comfyuifeddafront/internal/generation"
	"github.com/Feddakalkun/comfyuifeddafront/internal/health"
	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
	"github.com/Feddakalkun/comfyuifeddafront/internal/ollama"
)

// Engine is the part of the engine client the panel calls directly.
type Engine interface {
	UploadImage(ctx context.Context, filename string, r io.Reader, overwrite bool) (*comfy.UploadResult, error)
	InputOptions(ctx context.Context, nodeType, input string) ([]string, error)
	Download(ctx context.Context, viewURL string) (*comfy.File, error)
}

// ModelStore manages the models installed in the language-model runtime.
type ModelStore interface {
	Models(ctx context.Context) ([]ollama.Model, error)
	Pull(ctx context.Context, model string, onProgress func(ollama.PullProgress)) error
	Delete(ctx context.Context, model string) error
}

// Media is the auxiliary speech and video service.
type Media interface {
	Transcribe(ctx context.Context, recording audio.File) (string, error)
	Speak(ctx context.Context, text, voiceStyle string) (*audio.Media, error)
	LipSync(ctx context.Context, req audio.LipSyncRequest) (*audio.Media, error)
}

// App holds the dependencies shared by every handler. Nil optional services
// answer 503.
type App struct {
	Logger    *infra.Logger
	Engine    Engine
	Pages     map[string]*generation.Runner
	Monitor   *health.Monitor
	Models    ModelStore
	Assistant *assistant.Service
	Chat      *chat.Agent
	Media     Media

	// BaseContext outlives requests; background generations run under it.
	BaseContext context.Context
	// MaxUploadBytes caps multipart bodies.
	MaxUploadBytes int64
	// AllowedOrigins gates websocket upgrades; "*" accepts any origin.
	AllowedOrigins []string
}

const defaultMaxUpload = 64 << 20

func NewApp(app App) *App {
	app.Logger = infra.OrDiscard(app.Logger)
	if app.Pages == nil {
		app.Pages = map[string]*generation.Runner{}
	}
	if app.BaseContext == nil {
		app.BaseContext = context.Background()
	}
	if app.MaxUploadBytes <= 0 {
		app.MaxUploadBytes = defaultMaxUpload
	}
	return &app
}

// PageNames lists the registered pages in a stable order.
func (a *App) PageNames() []string {
	names := make([]string, 0, len(a.Pages))
	for name := range a.Pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Code: code, Message: message})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
