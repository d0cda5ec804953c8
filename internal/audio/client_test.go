package audio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/audio/transcribe" {
			t.Errorf("path = %s", r.URL.Path)
		}
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "recording.webm" || string(data) != "webm-bytes" {
			t.Errorf("file = %s %q", hdr.Filename, data)
		}
		w.Write([]byte(`{"text":" draw a cat ","success":true}`))
	}))
	defer srv.Close()

	text, err := NewClient(Options{BaseURL: srv.URL}).Transcribe(context.Background(), File{Reader: strings.NewReader("webm-bytes")})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "draw a cat" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeSilence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	_, err := NewClient(Options{BaseURL: srv.URL}).Transcribe(context.Background(), File{Reader: strings.NewReader("x")})
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("error = %v, want ErrNoSpeech", err)
	}
}

func TestSpeakDefaultsVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["voice_style"] != DefaultVoiceStyle || body["text"] != "hello there" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "audio/flac")
		w.Write([]byte("fLaC"))
	}))
	defer srv.Close()

	media, err := NewClient(Options{BaseURL: srv.URL}).Speak(context.Background(), "hello there", "")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if string(media.Data) != "fLaC" || media.ContentType != "audio/flac" {
		t.Fatalf("media = %q %s", media.Data, media.ContentType)
	}
	if _, err := NewClient(Options{BaseURL: srv.URL}).Speak(context.Background(), " ", ""); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("empty text error = %v", err)
	}
}

func TestLipSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse: %v", err)
			return
		}
		if r.FormValue("seed") != "-1" || r.FormValue("prompt") != "woman talking" {
			t.Errorf("fields = %v", r.MultipartForm.Value)
		}
		if len(r.MultipartForm.File["image"]) != 1 || len(r.MultipartForm.File["audio"]) != 1 {
			t.Errorf("files = %v", r.MultipartForm.File)
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4"))
	}))
	defer srv.Close()

	media, err := NewClient(Options{BaseURL: srv.URL}).LipSync(context.Background(), LipSyncRequest{
		Image:  File{Name: "face.png", Reader: strings.NewReader("png")},
		Audio:  File{Name: "voice.wav", Reader: strings.NewReader("wav")},
		Prompt: "woman talking",
		Seed:   -1,
	})
	if err != nil {
		t.Fatalf("lipsync: %v", err)
	}
	if string(media.Data) != "mp4" {
		t.Fatalf("data = %q", media.Data)
	}
}

func TestServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "whisper model missing", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(Options{BaseURL: srv.URL}).Speak(context.Background(), "hi", "")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusInternalServerError || se.Body != "whisper model missing" {
		t.Fatalf("error = %v", err)
	}
}
