// Package audio calls the local auxiliary service for speech transcription,
// text-to-speech and lip-sync video rendering.
package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
)

// DefaultVoiceStyle is used when a speech request names none.
const DefaultVoiceStyle = "female, clear voice"

const maxErrorBody = 2048

var (
	ErrEmptyText   = errors.New("audio: text is required")
	ErrNoSpeech    = errors.New("audio: no speech detected")
	ErrMissingFile = errors.New("audio: file is required")
)

// StatusError is a non-success answer from the auxiliary service.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("audio: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Options configures the client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to the auxiliary service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000"
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: infra.OrDiscard(opts.Logger)}
}

// File is an upload part.
type File struct {
	Name   string
	Reader io.Reader
}

// Media is a binary response body.
type Media struct {
	Data        []byte
	ContentType string
}

// Transcribe turns a recording into text.
func (c *Client) Transcribe(ctx context.Context, recording File) (string, error) {
	if recording.Reader == nil {
		return "", ErrMissingFile
	}
	if recording.Name == "" {
		recording.Name = "recording.webm"
	}
	body, contentType, err := multipartBody(map[string]File{"audio": recording}, nil)
	if err != nil {
		return "", err
	}
	raw, _, err := c.post(ctx, "transcribe", "/api/audio/transcribe", contentType, body)
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("audio: decode transcription: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// Speak renders text as speech in the given voice style.
func (c *Client) Speak(ctx context.Context, text, voiceStyle string) (*Media, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if strings.TrimSpace(voiceStyle) == "" {
		voiceStyle = DefaultVoiceStyle
	}
	payload, err := json.Marshal(map[string]string{"text": text, "voice_style": voiceStyle})
	if err != nil {
		return nil, fmt.Errorf("audio: encode speech request: %w", err)
	}
	raw, contentType, err := c.post(ctx, "tts", "/api/audio/tts", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "audio/flac"
	}
	return &Media{Data: raw, ContentType: contentType}, nil
}

// LipSyncRequest animates a still image to an audio track.
type LipSyncRequest struct {
	Image      File
	Audio      File
	Prompt     string
	Resolution string
	// Seed of -1 lets the service pick one.
	Seed int64
}

// LipSync renders a talking video.
func (c *Client) LipSync(ctx context.Context, req LipSyncRequest) (*Media, error) {
	if req.Image.Reader == nil || req.Audio.Reader == nil {
		return nil, ErrMissingFile
	}
	fields := map[string]string{"seed": strconv.FormatInt(req.Seed, 10)}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	if req.Resolution != "" {
		fields["resolution"] = req.Resolution
	}
	body, contentType, err := multipartBody(map[string]File{"image": req.Image, "audio": req.Audio}, fields)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	raw, mediaType, err := c.post(ctx, "lipsync", "/api/video/lipsync", contentType, body)
	if err != nil {
		return nil, err
	}
	if mediaType == "" {
		mediaType = "video/mp4"
	}
	c.logger.Info().Int("bytes", len(raw)).Dur("took", time.Since(started)).Msg("audio: lip-sync rendered")
	return &Media{Data: raw, ContentType: mediaType}, nil
}

func (c *Client) post(ctx context.Context, op, path, contentType string, body io.Reader) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, "", fmt.Errorf("audio: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("audio: %s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("audio: read %s: %w", op, err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, "", &StatusError{Op: op, Status: resp.StatusCode, Body: msg}
	}
	return raw, resp.Header.Get("Content-Type"), nil
}

func multipartBody(files map[string]File, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, f := range files {
		name := f.Name
		if name == "" {
			name = field
		}
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			return nil, "", fmt.Errorf("audio: create part %s: %w", field, err)
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, "", fmt.Errorf("audio: copy part %s: %w", field, err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("audio: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("audio: close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
