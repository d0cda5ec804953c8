package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Feddakalkun/comfyuifeddafront/internal/chat"
)

type chatSendRequest struct {
	Model   string   `json:"model"`
	Content string   `json:"content"`
	Images  []string `json:"images"`
}

type chatGenerateRequest struct {
	Model string `json:"model"`
	LoRA  string `json:"lora"`
}

func (a *App) ChatMessages(w http.ResponseWriter, r *http.Request) {
	if a.Chat == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "chat not configured")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": a.Chat.Log().List()})
}

// SendChatMessage appends the user's message and the agent's reply.
func (a *App) SendChatMessage(w http.ResponseWriter, r *http.Request) {
	if a.Chat == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "chat not configured")
		return
	}
	var req chatSendRequest
	if !a.decode(w, r, &req) {
		return
	}
	appended, err := a.Chat.Send(r.Context(), chat.SendRequest{Model: req.Model, Content: req.Content, Images: req.Images})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"items": appended})
}

// GenerateChatImage renders a generation card and waits for the result.
func (a *App) GenerateChatImage(w http.ResponseWriter, r *http.Request) {
	if a.Chat == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "chat not configured")
		return
	}
	var req chatGenerateRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	msg, err := a.Chat.Generate(r.Context(), chat.GenerateRequest{
		MessageID: chi.URLParam(r, "id"),
		Model:     req.Model,
		LoRA:      req.LoRA,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, msg)
}
