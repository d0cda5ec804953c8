// Package assistant turns short ideas into full image prompts and images into
// captions using the local language model.
package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
	"github.com/Feddakalkun/comfyuifeddafront/internal/ollama"
)

var (
	ErrEmptyPrompt = errors.New("assistant: prompt is required")
	ErrEmptyImage  = errors.New("assistant: image is required")
	ErrNoModel     = errors.New("assistant: no model selected")
)

const (
	enhanceTemperature  = 0.7
	describeTemperature = 0.2
)

// Generator is the single-turn completion the assistant needs.
type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (string, error)
}

// Service wraps a Generator with the assistant's system prompts.
type Service struct {
	llm          Generator
	defaultModel string
	logger       *infra.Logger
}

// New returns a Service. defaultModel is used when a call names no model.
func New(llm Generator, defaultModel string, logger *infra.Logger) *Service {
	return &Service{llm: llm, defaultModel: strings.TrimSpace(defaultModel), logger: infra.OrDiscard(logger)}
}

// Enhance expands a short idea into one detailed image prompt.
func (s *Service) Enhance(ctx context.Context, model, idea string) (string, error) {
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return "", ErrEmptyPrompt
	}
	model, err := s.model(model)
	if err != nil {
		return "", err
	}
	out, err := s.llm.Generate(ctx, ollama.GenerateRequest{
		Model:   model,
		Prompt:  idea,
		System:  enhanceSystemPrompt,
		Options: ollama.Temperature(enhanceTemperature),
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug().Str("model", model).Int("in", len(idea)).Int("out", len(out)).Msg("assistant: prompt enhanced")
	return strings.TrimSpace(out), nil
}

// Describe captions an image given as base64 or a data URL.
func (s *Service) Describe(ctx context.Context, model, image string) (string, error) {
	image = ollama.StripDataURL(strings.TrimSpace(image))
	if image == "" {
		return "", ErrEmptyImage
	}
	model, err := s.model(model)
	if err != nil {
		return "", err
	}
	out, err := s.llm.Generate(ctx, ollama.GenerateRequest{
		Model:   model,
		Prompt:  describeInstruction,
		System:  describeSystemPrompt,
		Images:  []string{image},
		Options: ollama.Temperature(describeTemperature),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *Service) model(name string) (string, error) {
	if name = strings.TrimSpace(name); name != "" {
		return name, nil
	}
	if s.defaultModel != "" {
		return s.defaultModel, nil
	}
	return "", ErrNoModel
}
