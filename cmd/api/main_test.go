package main

import (
	"strings"
	"testing"

	"github.com/Feddakalkun/comfyuifeddafront/internal/comfy"
)

func TestPageEnginesUseDistinctClientIDs(t *testing.T) {
	engine := comfy.NewClient(comfy.Options{BaseURL: "http://127.0.0.1:8188", ClientPrefix: "comfyfront"})
	engines := pageEngines(engine, pages)
	if len(engines) != len(pages) {
		t.Fatalf("engines = %d, want %d", len(engines), len(pages))
	}
	seen := map[string]string{engine.ClientID(): "api"}
	for _, p := range pages {
		c := engines[p.name]
		if c == nil {
			t.Fatalf("no engine for page %s", p.name)
		}
		if !strings.HasPrefix(c.ClientID(), "comfyfront_"+p.name+"_") {
			t.Fatalf("page %s client id = %q", p.name, c.ClientID())
		}
		if other, dup := seen[c.ClientID()]; dup {
			t.Fatalf("page %s shares client id %q with %s", p.name, c.ClientID(), other)
		}
		seen[c.ClientID()] = p.name
	}
}
