package workflow

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml"
)

// Binding kinds. Each names one field-mapping function in the patcher.
const (
	KindSampler    = "sampler"
	KindPrompt     = "prompt"
	KindNegative   = "negative"
	KindDimensions = "dimensions"
	KindStyle      = "style"
	KindLoRA       = "lora"
	KindImage      = "image"
	KindAudio      = "audio"
)

// ErrUnknownProfile is returned for a profile name that is not registered.
var ErrUnknownProfile = errors.New("workflow: unknown profile")

// Binding ties one template node to a request field. Key overrides the input
// name the kind writes to, where the kind writes a single value.
type Binding struct {
	Node string `toml:"node"`
	Kind string `toml:"kind"`
	Key  string `toml:"key"`
}

// Defaults fill request fields the caller left at their zero value.
type Defaults struct {
	Prompt         string  `toml:"prompt"`
	NegativePrompt string  `toml:"negative_prompt"`
	Width          int     `toml:"width"`
	Height         int     `toml:"height"`
	Steps          int     `toml:"steps"`
	CFG            float64 `toml:"cfg"`
}

// Profile describes one template variant: which file to load, which nodes
// receive which request fields, where results appear and how executing nodes
// are labelled.
type Profile struct {
	Name       string            `toml:"name"`
	Template   string            `toml:"template"`
	OutputNode string            `toml:"output_node"`
	LoRAPrefix string            `toml:"lora_prefix"`
	StyleFile  string            `toml:"style_file"`
	Defaults   Defaults          `toml:"defaults"`
	Bindings   []Binding         `toml:"binding"`
	Stages     map[string]string `toml:"stages"`

	// PollAttempts overrides the runner's attempt budget for slow templates.
	PollAttempts int `toml:"poll_attempts"`
}

func (p Profile) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name is required")
	}
	if strings.TrimSpace(p.Template) == "" {
		return fmt.Errorf("profile %s: template is required", p.Name)
	}
	for _, b := range p.Bindings {
		if b.Node == "" {
			return fmt.Errorf("profile %s: binding without node", p.Name)
		}
		if _, ok := fieldMappers[b.Kind]; !ok {
			return fmt.Errorf("profile %s: node %s: unknown kind %q", p.Name, b.Node, b.Kind)
		}
	}
	return nil
}

// Complete fills the request fields left at their zero value from the
// profile defaults.
func (p Profile) Complete(r Request) Request {
	return withDefaults(r, p.Defaults)
}

func (p Profile) loraPrefix() string {
	if p.LoRAPrefix == "" {
		return "lora_"
	}
	return p.LoRAPrefix
}

// Profiles is a registry of template profiles, safe for concurrent use.
type Profiles struct {
	mu     sync.RWMutex
	byName map[string]Profile
}

// DefaultProfiles returns a registry holding the built-in profiles.
func DefaultProfiles() *Profiles {
	p := &Profiles{byName: map[string]Profile{}}
	for _, profile := range builtinProfiles() {
		p.byName[profile.Name] = profile
	}
	return p
}

// Get returns the named profile.
func (p *Profiles) Get(name string) (Profile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	profile, ok := p.byName[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return profile, nil
}

// Names lists registered profiles in sorted order.
func (p *Profiles) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.byName))
	for name := range p.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds or replaces profiles after validating them.
func (p *Profiles) Register(profiles ...Profile) error {
	for _, profile := range profiles {
		if err := profile.validate(); err != nil {
			return fmt.Errorf("workflow: %w", err)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, profile := range profiles {
		p.byName[profile.Name] = profile
	}
	return nil
}

type profileFile struct {
	Profiles []Profile `toml:"profile"`
}

// ParseProfiles decodes a TOML document of [[profile]] tables.
func ParseProfiles(data []byte) ([]Profile, error) {
	var doc profileFile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: decode profiles: %w", err)
	}
	for _, profile := range doc.Profiles {
		if err := profile.validate(); err != nil {
			return nil, fmt.Errorf("workflow: %w", err)
		}
	}
	return doc.Profiles, nil
}

// LoadProfileFile registers the profiles of a TOML file on top of the
// existing ones.
func (p *Profiles) LoadProfileFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("workflow: read profiles: %w", err)
	}
	profiles, err := ParseProfiles(data)
	if err != nil {
		return err
	}
	return p.Register(profiles...)
}

func builtinProfiles() []Profile {
	return []Profile{
		{
			Name:       "z-image",
			Template:   "z-image",
			OutputNode: "9",
			LoRAPrefix: "lora_",
			StyleFile:  "sdxl_styles.json",
			Defaults: Defaults{
				NegativePrompt: "text, watermark, blur, ugly",
				Width:          1024,
				Height:         1024,
				Steps:          9,
				CFG:            1,
			},
			Bindings: []Binding{
				{Node: "3", Kind: KindSampler},
				{Node: "33", Kind: KindPrompt, Key: "string"},
				{Node: "34", Kind: KindNegative, Key: "string"},
				{Node: "30", Kind: KindDimensions},
				{Node: "126", Kind: KindLoRA},
				{Node: "150", Kind: KindStyle},
			},
			Stages: map[string]string{
				"3":   "Generating Image (Sampling)...",
				"126": "Loading LoRAs...",
				"9":   "Saving Image...",
			},
		},
		{
			Name:         "lipsync",
			Template:     "lipsync-512",
			OutputNode:   "131",
			PollAttempts: 300,
			Defaults: Defaults{
				Prompt: "woman talking",
				Steps:  15,
			},
			Bindings: []Binding{
				{Node: "284", Kind: KindImage, Key: "image"},
				{Node: "125", Kind: KindAudio, Key: "audio"},
				{Node: "128", Kind: KindSampler},
				{Node: "241", Kind: KindPrompt, Key: "positive_prompt"},
			},
			Stages: map[string]string{
				"128": "Animating (Sampling)...",
				"131": "Encoding Video...",
			},
		},
	}
}
