// Package ollama is a small client for the local language-model runtime.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
)

const maxErrorBody = 2048

// ErrModelNotFound is returned when the runtime does not know a model.
var ErrModelNotFound = errors.New("ollama: model not found")

// ConnectivityError reports a runtime that could not be reached.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("ollama: %s: runtime unreachable: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StatusError is a non-success answer from the runtime.
type StatusError struct {
	Op      string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama: %s: status %d: %s", e.Op, e.Status, e.Message)
}

// Options configures the runtime client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
	// RequestTimeout bounds non-streaming calls. Pull is bounded only by its
	// context.
	RequestTimeout time.Duration
}

// Client talks to the runtime's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     infra.OrDiscard(opts.Logger),
	}
}

// BaseURL returns the runtime root.
func (c *Client) BaseURL() string { return c.baseURL }

// Models lists installed models.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	var out tagsResponse
	if err := c.do(ctx, "tags", http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	if out.Models == nil {
		out.Models = []Model{}
	}
	return out.Models, nil
}

// Alive reports whether the runtime answers its tags endpoint.
func (c *Client) Alive(ctx context.Context) bool {
	_, err := c.Models(ctx)
	return err == nil
}

// Generate runs a non-streaming completion and returns the response text.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", errors.New("ollama: model is required")
	}
	req.Stream = false
	var out generateResponse
	if err := c.do(ctx, "generate", http.MethodPost, "/api/generate", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Chat sends a conversation and returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts *ModelOptions) (Message, error) {
	if strings.TrimSpace(model) == "" {
		return Message{}, errors.New("ollama: model is required")
	}
	var out chatResponse
	body := chatRequest{Model: model, Messages: messages, Options: opts}
	if err := c.do(ctx, "chat", http.MethodPost, "/api/chat", body, &out); err != nil {
		return Message{}, err
	}
	if out.Message.Role == "" {
		out.Message.Role = RoleAssistant
	}
	return out.Message, nil
}

// Unload asks the runtime to evict model from memory immediately.
func (c *Client) Unload(ctx context.Context, model string) error {
	zero := 0
	body := GenerateRequest{Model: model, KeepAlive: &zero}
	if err := c.do(ctx, "unload", http.MethodPost, "/api/generate", body, nil); err != nil {
		return err
	}
	c.logger.Debug().Str("model", model).Msg("ollama: model unloaded")
	return nil
}

// Delete removes an installed model.
func (c *Client) Delete(ctx context.Context, model string) error {
	if strings.TrimSpace(model) == "" {
		return errors.New("ollama: model is required")
	}
	return c.do(ctx, "delete", http.MethodDelete, "/api/delete", nameRequest{Name: model}, nil)
}

// Pull downloads a model, calling onProgress for every status line. Lines
// that are not valid JSON are logged and skipped.
func (c *Client) Pull(ctx context.Context, model string, onProgress func(PullProgress)) error {
	if strings.TrimSpace(model) == "" {
		return errors.New("ollama: model is required")
	}
	stream := true
	payload, err := json.Marshal(nameRequest{Name: model, Stream: &stream})
	if err != nil {
		return fmt.Errorf("ollama: encode pull: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, "pull", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError("pull", resp.StatusCode, raw)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			c.logger.Warn().Err(err).Str("line", string(line)).Msg("ollama: skipping malformed pull status")
			continue
		}
		if p.Error != "" {
			return &StatusError{Op: "pull", Status: resp.StatusCode, Message: p.Error}
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ollama: read pull stream: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ollama: encode %s: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("ollama: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ollama: read %s: %w", op, err)
	}
	if resp.StatusCode == http.StatusNotFound && op != "tags" {
		return fmt.Errorf("%w: %s", ErrModelNotFound, errorMessage(raw))
	}
	if resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ollama: decode %s: %w", op, err)
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		return ctxErr
	}
	c.logger.Debug().Err(err).Str("op", op).Msg("ollama: runtime unreachable")
	return &ConnectivityError{Op: op, Err: err}
}

// IsConnectivity reports whether err means the runtime could not be reached.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

func statusError(op string, status int, raw []byte) error {
	return &StatusError{Op: op, Status: status, Message: errorMessage(raw)}
}

func errorMessage(raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error != "" {
		return detail.Error
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
