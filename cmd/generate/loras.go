package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
)

const defaultLoRAStrength = 1.0

// loraList collects repeated -lora flags.
type loraList []workflow.LoRA

func (l *loraList) String() string {
	parts := make([]string, 0, len(*l))
	for _, lora := range *l {
		parts = append(parts, lora.Name+":"+strconv.FormatFloat(lora.Strength, 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}

// Set parses name[:strength]. A colon followed by something that is not a
// number stays part of the name.
func (l *loraList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return fmt.Errorf("lora name is required")
	}
	lora := workflow.LoRA{Name: v, Strength: defaultLoRAStrength}
	if i := strings.LastIndex(v, ":"); i > 0 {
		if s, err := strconv.ParseFloat(v[i+1:], 64); err == nil {
			lora = workflow.LoRA{Name: v[:i], Strength: s}
		}
	}
	*l = append(*l, lora)
	return nil
}
