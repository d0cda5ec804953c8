package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Feddakalkun/comfyuifeddafront/internal/http/handlers"
	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
	"github.com/Feddakalkun/comfyuifeddafront/internal/middleware"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	Logger         *infra.Logger
	AllowedOrigins []string
	// GeneratePerMinute caps job submissions per client; zero disables it.
	GeneratePerMinute int
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(*infra.OrDiscard(opts.Logger)),
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
	)
	limit := middleware.RateLimit(opts.GeneratePerMinute, time.Minute)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/status", app.Status)
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)

		r.Get("/options/{kind}", app.Options)
		r.Post("/uploads/image", app.UploadImage)

		r.Route("/pages/{page}/generation", func(r chi.Router) {
			r.Get("/", app.Generation)
			r.With(limit).Post("/", app.StartGeneration)
			r.Post("/dismiss", app.DismissGeneration)
			r.Post("/resume", app.ResumeGeneration)
			r.Get("/stream", app.StreamGeneration)
			r.Get("/artifacts.zip", app.ArtifactsZip)
		})

		r.Route("/assist", func(r chi.Router) {
			r.Post("/enhance", app.Enhance)
			r.Post("/describe", app.Describe)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", app.ListModels)
			r.Post("/pull", app.PullModel)
			r.Delete("/{name}", app.DeleteModel)
		})

		r.Route("/chat/messages", func(r chi.Router) {
			r.Get("/", app.ChatMessages)
			r.Post("/", app.SendChatMessage)
			r.With(limit).Post("/{id}/generate", app.GenerateChatImage)
		})

		r.Post("/audio/transcribe", app.Transcribe)
		r.Post("/audio/tts", app.Speak)
		r.With(limit).Post("/video/lipsync", app.LipSync)
	})

	return r
}
