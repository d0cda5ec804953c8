package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssets(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "out.png", MIME: "image/png", Data: []byte("png-1")},
		{Filename: "sub/out.png", MIME: "image/png", Data: []byte("png-2")},
		{Filename: "notes.txt", MIME: "text/plain", Data: []byte("hello")},
	})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	want := []struct {
		name   string
		method uint16
		body   string
	}{
		{"out.png", zip.Store, "png-1"},
		{"out (2).png", zip.Store, "png-2"},
		{"notes.txt", zip.Deflate, "hello"},
	}
	if len(zr.File) != len(want) {
		t.Fatalf("entries = %d, want %d", len(zr.File), len(want))
	}
	for i, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if f.Name != want[i].name || f.Method != want[i].method || string(body) != want[i].body {
			t.Fatalf("entry %d = %s/%d/%q, want %+v", i, f.Name, f.Method, body, want[i])
		}
	}
}
