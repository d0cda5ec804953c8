package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Feddakalkun/comfyuifeddafront/internal/generation"
	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
	"github.com/Feddakalkun/comfyuifeddafront/internal/ollama"
	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
)

var (
	ErrEmptyMessage          = errors.New("chat: message is empty")
	ErrNoModel               = errors.New("chat: no model selected")
	ErrMessageNotFound       = errors.New("chat: message not found")
	ErrNotGenerationRequest  = errors.New("chat: message is not a generation request")
	errGenerationUnavailable = errors.New("chat: no image runner configured")
)

// Settings the chat page generates with.
const (
	chatProfile   = "z-image"
	chatNegative  = "text, watermark, blur, ugly"
	chatDimension = 1024
	chatSteps     = 9
	chatCFG       = 1
	chatLoRAScale = 1.0
)

// LLM is the language-model surface the agent uses.
type LLM interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, opts *ollama.ModelOptions) (ollama.Message, error)
	Unload(ctx context.Context, model string) error
}

// ImageRunner renders a prompt through the image pipeline.
type ImageRunner interface {
	Generate(ctx context.Context, profile string, req workflow.Request) (*generation.Result, error)
}

// AgentOptions wires an Agent.
type AgentOptions struct {
	Log          *Log
	LLM          LLM
	Images       ImageRunner
	DefaultModel string
	Logger       *infra.Logger
}

// Agent answers chat messages and turns generation requests into images.
type Agent struct {
	log          *Log
	llm          LLM
	images       ImageRunner
	defaultModel string
	logger       *infra.Logger
}

// NewAgent returns an Agent. A nil Log starts a fresh conversation.
func NewAgent(opts AgentOptions) (*Agent, error) {
	if opts.LLM == nil {
		return nil, errors.New("chat: language model is required")
	}
	log := opts.Log
	if log == nil {
		log = NewLog()
	}
	return &Agent{
		log:          log,
		llm:          opts.LLM,
		images:       opts.Images,
		defaultModel: strings.TrimSpace(opts.DefaultModel),
		logger:       infra.OrDiscard(opts.Logger),
	}, nil
}

// Log returns the conversation.
func (a *Agent) Log() *Log { return a.log }

// SendRequest is one user turn.
type SendRequest struct {
	Model   string
	Content string
	// Images are base64 payloads or data URLs.
	Images []string
}

// Send appends the user's message, asks the model and appends its reply. It
// returns every message it appended. A model that cannot be reached yields an
// apology message rather than an error.
func (a *Agent) Send(ctx context.Context, req SendRequest) ([]Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyMessage
	}
	model := a.model(req.Model)
	if model == "" {
		return nil, ErrNoModel
	}

	history := a.history()
	user := a.log.Append(Message{Role: RoleUser, Content: req.Content, Images: req.Images})
	history = append(history, ollama.Message{
		Role:    ollama.RoleUser,
		Content: user.Content,
		Images:  ollama.StripDataURLs(user.Images),
	})

	reply, err := a.llm.Chat(ctx, model, history, nil)
	if err != nil {
		a.logger.Warn().Err(err).Str("model", model).Msg("chat: model call failed")
		return []Message{user, a.log.Append(Message{Role: RoleAssistant, Content: apologyText})}, nil
	}
	return append([]Message{user}, a.record(req.Content, reply.Content)...), nil
}

// history renders the log for the model, system prompt first.
func (a *Agent) history() []ollama.Message {
	past := a.log.List()
	out := make([]ollama.Message, 0, len(past)+2)
	out = append(out, ollama.Message{Role: ollama.RoleSystem, Content: agentSystemPrompt})
	for _, m := range past {
		out = append(out, ollama.Message{
			Role:    m.Role,
			Content: HistoryContent(m.Content),
			Images:  ollama.StripDataURLs(m.Images),
		})
	}
	return out
}

// record appends the model's reply, splitting out a generation card when the
// user asked for a picture and the directive holds a usable prompt.
func (a *Agent) record(input, reply string) []Message {
	directive, found := ParseDirective(reply)
	if found && HasIntent(input) && ValidPrompt(directive.Prompt) {
		var out []Message
		if directive.Text != "" {
			out = append(out, a.log.Append(Message{Role: RoleAssistant, Content: directive.Text}))
		}
		return append(out, a.log.Append(Message{
			Role:    RoleAssistant,
			Content: directive.Prompt,
			Kind:    KindGenerationRequest,
		}))
	}
	text := directive.Text
	if text == "" {
		text = reply
	}
	return []Message{a.log.Append(Message{Role: RoleAssistant, Content: text})}
}

// GenerateRequest renders one generation card.
type GenerateRequest struct {
	MessageID string
	// Model is evicted from GPU memory before rendering.
	Model string
	LoRA  string
}

// Generate renders the prompt of a generation card and appends the result, or
// an error message when rendering fails. A busy image page is returned as
// generation.ErrBusy without touching the log.
func (a *Agent) Generate(ctx context.Context, req GenerateRequest) (Message, error) {
	card, ok := a.log.Get(req.MessageID)
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	if card.Kind != KindGenerationRequest {
		return Message{}, ErrNotGenerationRequest
	}
	if a.images == nil {
		return Message{}, errGenerationUnavailable
	}
	if model := a.model(req.Model); model != "" {
		if err := a.llm.Unload(ctx, model); err != nil {
			a.logger.Warn().Err(err).Str("model", model).Msg("chat: could not unload model")
		}
	}

	imgReq := workflow.Request{
		Prompt:         card.Content,
		NegativePrompt: chatNegative,
		Width:          chatDimension,
		Height:         chatDimension,
		Steps:          chatSteps,
		CFG:            chatCFG,
		Seed:           workflow.RandomSeed,
	}
	if lora := strings.TrimSpace(req.LoRA); lora != "" {
		imgReq.LoRAs = []workflow.LoRA{{Name: lora, Strength: chatLoRAScale}}
	}

	res, err := a.images.Generate(ctx, chatProfile, imgReq)
	if errors.Is(err, generation.ErrBusy) || errors.Is(err, generation.ErrClosed) {
		return Message{}, err
	}
	if err != nil || len(res.URLs) == 0 {
		detail := "no image produced"
		if err != nil {
			detail = generation.UserMessage(err)
		}
		a.logger.Warn().Err(err).Str("message_id", card.ID).Msg("chat: generation failed")
		return a.log.Append(Message{
			Role:     RoleAssistant,
			Content:  generationErrorText,
			Metadata: map[string]string{"error": detail, "request_id": card.ID},
		}), nil
	}
	return a.log.Append(Message{
		Role:    RoleAssistant,
		Content: card.Content,
		Kind:    KindGenerationResult,
		Metadata: map[string]string{
			"image_url":  res.URLs[0],
			"job_id":     res.JobID,
			"seed":       strconv.FormatInt(res.Seed, 10),
			"request_id": card.ID,
		},
	}), nil
}

func (a *Agent) model(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return a.defaultModel
}
