package main

import "testing"

func TestLoRAListSet(t *testing.T) {
	var l loraList
	for _, v := range []string{"fedda_style.safetensors", "skin:0.6", "sub:dir/x.safetensors"} {
		if err := l.Set(v); err != nil {
			t.Fatalf("set %q: %v", v, err)
		}
	}
	if err := l.Set(" "); err == nil {
		t.Fatalf("empty lora accepted")
	}
	if len(l) != 3 {
		t.Fatalf("loras = %+v", l)
	}
	if l[0].Name != "fedda_style.safetensors" || l[0].Strength != 1 {
		t.Fatalf("plain = %+v", l[0])
	}
	if l[1].Name != "skin" || l[1].Strength != 0.6 {
		t.Fatalf("weighted = %+v", l[1])
	}
	if l[2].Name != "sub:dir/x.safetensors" || l[2].Strength != 1 {
		t.Fatalf("colon in name = %+v", l[2])
	}
	if got := l.String(); got != "fedda_style.safetensors:1,skin:0.6,sub:dir/x.safetensors:1" {
		t.Fatalf("string = %q", got)
	}
}
