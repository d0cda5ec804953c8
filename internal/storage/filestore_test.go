package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWrite(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	full, err := store.Write(context.Background(), "job-1/z-image_00001_.png", []byte("png"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if full != filepath.Join(store.Root(), "job-1", "z-image_00001_.png") {
		t.Fatalf("path = %s", full)
	}
	data, err := os.ReadFile(full)
	if err != nil || string(data) != "png" {
		t.Fatalf("read back = %q, %v", data, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(full))
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %v", entries)
	}
}

func TestWriteRejectsEscapes(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	for _, key := range []string{"", "/etc/passwd", "../x.png", `..\x.png`, "a/../../x.png", "."} {
		if _, err := store.Write(context.Background(), key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q error = %v", key, err)
		}
	}
}
