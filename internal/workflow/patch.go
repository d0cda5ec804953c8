package workflow

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
)

// Applied reports what a patch did.
type Applied struct {
	Seed    int64
	Touched []string
}

// SeedSource draws a seed in [0, SeedSpace).
type SeedSource func() int64

// Patcher writes request values into template copies.
type Patcher struct {
	seeds SeedSource
}

// NewPatcher returns a Patcher. A nil source draws from math/rand/v2.
func NewPatcher(seeds SeedSource) *Patcher {
	if seeds == nil {
		seeds = func() int64 { return rand.Int64N(SeedSpace) }
	}
	return &Patcher{seeds: seeds}
}

type fieldMapper func(inputs map[string]any, b Binding, v values)

type values struct {
	req     Request
	seed    int64
	profile Profile
}

var fieldMappers = map[string]fieldMapper{
	KindSampler:    mapSampler,
	KindPrompt:     mapText(func(r Request) string { return r.Prompt }),
	KindNegative:   mapText(func(r Request) string { return r.NegativePrompt }),
	KindDimensions: mapDimensions,
	KindStyle:      mapStyle,
	KindLoRA:       mapLoRA,
	KindImage:      mapFile("image", func(r Request) string { return r.Image }),
	KindAudio:      mapFile("audio", func(r Request) string { return r.Audio }),
}

// Patch returns a copy of t with the profile's bindings applied. t is not
// modified. Bindings naming nodes that t lacks are skipped.
func (p *Patcher) Patch(t Template, profile Profile, req Request) (Template, Applied) {
	req = withDefaults(req, profile.Defaults)
	seed := req.Seed
	if seed < 0 {
		seed = p.seeds()
	}

	out := t.Clone()
	v := values{req: req, seed: seed, profile: profile}
	applied := Applied{Seed: seed}
	seen := map[string]bool{}
	for _, b := range profile.Bindings {
		node, ok := out[b.Node]
		if !ok || node == nil {
			continue
		}
		mapper, ok := fieldMappers[b.Kind]
		if !ok {
			continue
		}
		if node.Inputs == nil {
			node.Inputs = map[string]any{}
		}
		mapper(node.Inputs, b, v)
		if !seen[b.Node] {
			seen[b.Node] = true
			applied.Touched = append(applied.Touched, b.Node)
		}
	}
	sort.Strings(applied.Touched)
	return out, applied
}

func withDefaults(r Request, d Defaults) Request {
	if strings.TrimSpace(r.Prompt) == "" {
		r.Prompt = d.Prompt
	}
	if r.NegativePrompt == "" {
		r.NegativePrompt = d.NegativePrompt
	}
	if r.Width == 0 && r.Height == 0 {
		r.Width, r.Height = d.Width, d.Height
	}
	if r.Steps == 0 {
		r.Steps = d.Steps
	}
	if r.CFG == 0 {
		r.CFG = d.CFG
	}
	return r
}

func mapSampler(inputs map[string]any, _ Binding, v values) {
	inputs["seed"] = v.seed
	if v.req.Steps > 0 {
		inputs["steps"] = v.req.Steps
	}
	if v.req.CFG > 0 {
		inputs["cfg"] = v.req.CFG
	}
}

func mapText(field func(Request) string) fieldMapper {
	return func(inputs map[string]any, b Binding, v values) {
		key := b.Key
		if key == "" {
			key = "string"
		}
		inputs[key] = field(v.req)
	}
}

func mapFile(defaultKey string, field func(Request) string) fieldMapper {
	return func(inputs map[string]any, b Binding, v values) {
		name := field(v.req)
		if name == "" {
			return
		}
		key := b.Key
		if key == "" {
			key = defaultKey
		}
		inputs[key] = name
	}
}

func mapDimensions(inputs map[string]any, _ Binding, v values) {
	if v.req.Width <= 0 || v.req.Height <= 0 {
		return
	}
	inputs["width"] = v.req.Width
	inputs["height"] = v.req.Height
}

func mapStyle(inputs map[string]any, b Binding, v values) {
	if v.req.Style == "" {
		return
	}
	key := b.Key
	if key == "" {
		key = "style"
	}
	inputs[key] = v.req.Style
	if v.profile.StyleFile != "" {
		inputs["style_file"] = v.profile.StyleFile
	}
}

// mapLoRA writes one enabled slot per selection. With no selection it writes a
// single disabled slot. Higher slots left over in the template are switched
// off so none stays enabled without a name.
func mapLoRA(inputs map[string]any, _ Binding, v values) {
	prefix := v.profile.loraPrefix()
	written := 0
	for _, l := range v.req.LoRAs {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			continue
		}
		written++
		inputs[prefix+strconv.Itoa(written)] = map[string]any{
			"on":       true,
			"lora":     name,
			"strength": clampStrength(l.Strength),
		}
	}
	if written == 0 {
		written = 1
		inputs[prefix+"1"] = disabledSlot()
	}
	for key := range inputs {
		idx, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(idx)
		if err != nil || n <= written {
			continue
		}
		inputs[key] = disabledSlot()
	}
}

func disabledSlot() map[string]any {
	return map[string]any{"on": false, "lora": "None", "strength": 0.0}
}
