package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Feddakalkun/comfyuifeddafront/internal/assistant"
	"github.com/Feddakalkun/comfyuifeddafront/internal/audio"
	"github.com/Feddakalkun/comfyuifeddafront/internal/chat"
	"github.com/Feddakalkun/comfyuifeddafront/internal/comfy"
	"github.com/Feddakalkun/comfyuifeddafront/internal/generation"
	"github.com/Feddakalkun/comfyuifeddafront/internal/ollama"
	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
)

// fail writes the JSON error matching err. Unknown errors are logged and
// reported as internal.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("handler failed")
	}
	a.error(w, status, code, message)
}

func classify(err error) (status int, code, message string) {
	var (
		invalid     *generation.InvalidRequestError
		notFound    *workflow.NotFoundError
		llmStatus   *ollama.StatusError
		mediaStatus *audio.StatusError
		engStatus   *comfy.StatusError
	)
	switch {
	case errors.Is(err, generation.ErrBusy):
		return http.StatusConflict, "busy", "a generation is already running on this page"
	case errors.Is(err, generation.ErrClosed):
		return http.StatusServiceUnavailable, "closed", "page is shutting down"
	case errors.Is(err, generation.ErrNothingToResume):
		return http.StatusNotFound, "nothing_to_resume", "no job to resume"
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "invalid_request", invalid.Err.Error()
	case errors.Is(err, workflow.ErrUnknownProfile):
		return http.StatusBadRequest, "unknown_profile", err.Error()
	case errors.As(err, &notFound):
		return http.StatusInternalServerError, "template_missing", "workflow template " + notFound.Name + " is unavailable"

	case errors.Is(err, assistant.ErrEmptyPrompt), errors.Is(err, assistant.ErrEmptyImage),
		errors.Is(err, assistant.ErrNoModel), errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrNoModel), errors.Is(err, chat.ErrNotGenerationRequest),
		errors.Is(err, audio.ErrEmptyText), errors.Is(err, audio.ErrMissingFile):
		return http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, chat.ErrMessageNotFound):
		return http.StatusNotFound, "not_found", "message not found"
	case errors.Is(err, ollama.ErrModelNotFound):
		return http.StatusNotFound, "model_not_found", "model not found"
	case errors.Is(err, audio.ErrNoSpeech):
		return http.StatusUnprocessableEntity, "no_speech", "no speech detected"

	case comfy.IsConnectivity(err), ollama.IsConnectivity(err):
		return http.StatusBadGateway, "backend_unreachable", err.Error()
	case errors.As(err, &llmStatus):
		return http.StatusBadGateway, "backend_error", llmStatus.Message
	case errors.As(err, &mediaStatus):
		return http.StatusBadGateway, "backend_error", mediaStatus.Body
	case errors.As(err, &engStatus):
		return http.StatusBadGateway, "backend_error", engStatus.Body
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "backend did not answer in time"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled", "request cancelled"
	}
	return http.StatusInternalServerError, "internal", "internal error"
}
