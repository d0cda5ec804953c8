package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// RandomSeed asks the patcher to draw a fresh seed.
	RandomSeed int64 = -1
	// SeedSpace bounds generated seeds to [0, SeedSpace).
	SeedSpace int64 = 1_000_000_000_000_000

	maxLoRAStrength = 2.0
)

// LoRA is one selected adapter with its blend strength.
type LoRA struct {
	Name     string  `json:"name"`
	Strength float64 `json:"strength"`
}

// Request carries the user-chosen parameters written into a template.
// Zero Steps or CFG leave the template's value in place.
type Request struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	CFG            float64 `json:"cfg,omitempty"`
	Seed           int64   `json:"seed"`
	LoRAs          []LoRA  `json:"loras,omitempty"`
	Style          string  `json:"style,omitempty"`
	Image          string  `json:"image,omitempty"`
	Audio          string  `json:"audio,omitempty"`
}

// Validate checks the request for values the engine would reject.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if r.Width < 0 || r.Height < 0 {
		return errors.New("dimensions must be positive")
	}
	if r.Steps < 0 {
		return errors.New("steps must be positive")
	}
	if r.CFG < 0 {
		return errors.New("cfg must be positive")
	}
	if r.Seed < RandomSeed || r.Seed >= SeedSpace {
		return fmt.Errorf("seed must be -1 or in [0, %d)", SeedSpace)
	}
	for _, l := range r.LoRAs {
		if strings.TrimSpace(l.Name) == "" {
			return errors.New("lora name is required")
		}
	}
	return nil
}

// ParseDimensions reads a "WxH" selector such as "1024x1024" or
// "832x1216 (2:3)". Anything after the first space is a label.
func ParseDimensions(selector string) (width, height int, err error) {
	s := strings.TrimSpace(selector)
	if i := strings.IndexAny(s, " \t("); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(strings.ToLower(s), "×", "x")
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("dimensions %q: expected WxH", selector)
	}
	width, err = strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("dimensions %q: width: %w", selector, err)
	}
	height, err = strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("dimensions %q: height: %w", selector, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("dimensions %q: must be positive", selector)
	}
	return width, height, nil
}

func clampStrength(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > maxLoRAStrength:
		return maxLoRAStrength
	default:
		return v
	}
}
