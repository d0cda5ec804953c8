package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
)

const maxErrorBody = 2048

// Options configures the engine client.
type Options struct {
	BaseURL        string
	ClientID       string
	ClientPrefix   string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to the execution engine's HTTP API. The client id is fixed for
// the lifetime of the Client and shared with its progress channels. The
// engine routes push events to one socket per client id, so each concurrent
// tracker needs its own Client; see Session.
type Client struct {
	baseURL    string
	prefix     string
	clientID   string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8188"
	}
	prefix := strings.TrimSpace(opts.ClientPrefix)
	if prefix == "" {
		prefix = "comfyfront"
	}
	clientID := strings.TrimSpace(opts.ClientID)
	if clientID == "" {
		clientID = newClientID(prefix)
	}
	return &Client{
		baseURL:    baseURL,
		prefix:     prefix,
		clientID:   clientID,
		httpClient: httpClient,
		logger:     infra.OrDiscard(opts.Logger),
	}
}

// ClientID returns the id sent with every submission.
func (c *Client) ClientID() string { return c.clientID }

// Session returns a client on the same engine and transport under a fresh
// client id of the form <prefix>_<name>_<random>.
func (c *Client) Session(name string) *Client {
	s := *c
	s.clientID = newClientID(c.prefix + "_" + name)
	return &s
}

func newClientID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// BaseURL returns the engine root.
func (c *Client) BaseURL() string { return c.baseURL }

// WebSocketURL returns the push endpoint for this client's id.
func (c *Client) WebSocketURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientID}}.Encode()
	return u.String()
}

// SystemStats fetches host and device information.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	var stats SystemStats
	if err := c.getJSON(ctx, "system_stats", "/system_stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Alive reports whether the engine answers its stats endpoint.
func (c *Client) Alive(ctx context.Context) bool {
	_, err := c.SystemStats(ctx)
	return err == nil
}

// Submit queues a graph and returns the engine's job id.
func (c *Client) Submit(ctx context.Context, graph workflow.Template) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("comfy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.transportError(ctx, "submit", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("comfy: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", &SubmitError{Status: resp.StatusCode, Message: submitMessage(raw)}
	}

	var decoded promptResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("comfy: decode prompt response: %w", err)
	}
	if len(decoded.NodeErrors) > 0 {
		return "", &SubmitError{Status: resp.StatusCode, Message: nodeErrorsMessage(decoded.NodeErrors)}
	}
	if decoded.PromptID == "" {
		return "", &SubmitError{Status: resp.StatusCode, Message: "engine returned no job id"}
	}
	c.logger.Debug().
		Str("job_id", decoded.PromptID).
		Int("queue_number", decoded.Number).
		Int("nodes", len(graph)).
		Msg("comfy: job submitted")
	return decoded.PromptID, nil
}

// Queue returns the running and pending jobs.
func (c *Client) Queue(ctx context.Context) (*Queue, error) {
	var q Queue
	if err := c.getJSON(ctx, "queue", "/queue", &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// History returns the engine's records for one job, or for all recent jobs
// when jobID is empty.
func (c *Client) History(ctx context.Context, jobID string) (map[string]HistoryEntry, error) {
	path := "/history"
	if jobID != "" {
		path += "/" + url.PathEscape(jobID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("comfy: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, "history", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy: read history: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &ResultError{JobID: jobID, Status: resp.StatusCode, Body: truncate(raw)}
	}
	out := map[string]HistoryEntry{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("comfy: decode history: %w", err)
	}
	return out, nil
}

// UploadImage stores an input image on the engine host for use by image
// loader nodes.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader, overwrite bool) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("comfy: build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("comfy: copy upload: %w", err)
	}
	if overwrite {
		_ = mw.WriteField("overwrite", "true")
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("comfy: finish upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return nil, fmt.Errorf("comfy: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, "upload", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy: read upload response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Op: "upload", Status: resp.StatusCode, Body: truncate(raw)}
	}
	var out UploadResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("comfy: decode upload response: %w", err)
	}
	return &out, nil
}

// ObjectInfo returns the raw node definition for a node type.
func (c *Client) ObjectInfo(ctx context.Context, nodeType string) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	if err := c.getJSON(ctx, "object_info", "/object_info/"+url.PathEscape(nodeType), &out); err != nil {
		return nil, err
	}
	return out, nil
}

type nodeDefinition struct {
	Input struct {
		Required map[string]json.RawMessage `json:"required"`
		Optional map[string]json.RawMessage `json:"optional"`
	} `json:"input"`
}

// InputOptions lists the choices of a combo input, such as the installed
// LoRA files of a loader node.
func (c *Client) InputOptions(ctx context.Context, nodeType, input string) ([]string, error) {
	info, err := c.ObjectInfo(ctx, nodeType)
	if err != nil {
		return nil, err
	}
	raw, ok := info[nodeType]
	if !ok {
		return nil, fmt.Errorf("comfy: node type %s not installed", nodeType)
	}
	var def nodeDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("comfy: decode node definition: %w", err)
	}
	spec, ok := def.Input.Required[input]
	if !ok {
		spec, ok = def.Input.Optional[input]
	}
	if !ok {
		return nil, fmt.Errorf("comfy: node type %s has no input %s", nodeType, input)
	}
	options, err := comboOptions(spec)
	if err != nil {
		return nil, fmt.Errorf("comfy: %s.%s: %w", nodeType, input, err)
	}
	sort.Strings(options)
	return options, nil
}

// comboOptions reads both the legacy [[choices...], {...}] and the
// ["COMBO", {"options": [...]}] encodings.
func comboOptions(spec json.RawMessage) ([]string, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(spec, &parts); err != nil || len(parts) == 0 {
		return nil, errors.New("input is not a combo")
	}
	var legacy []string
	if err := json.Unmarshal(parts[0], &legacy); err == nil {
		return legacy, nil
	}
	var tag string
	if err := json.Unmarshal(parts[0], &tag); err == nil && tag == "COMBO" && len(parts) > 1 {
		var meta struct {
			Options []string `json:"options"`
		}
		if err := json.Unmarshal(parts[1], &meta); err == nil {
			return meta.Options, nil
		}
	}
	return nil, errors.New("input is not a combo")
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("comfy: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("comfy: read %s: %w", op, err)
	}
	if resp.StatusCode >= 300 {
		return &StatusError{Op: op, Status: resp.StatusCode, Body: truncate(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("comfy: decode %s: %w", op, err)
	}
	return nil
}

// transportError keeps caller cancellation distinguishable from an
// unreachable engine.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.Debug().Err(err).Str("op", op).Msg("comfy: engine unreachable")
	return &ConnectivityError{Op: op, Err: err}
}

func submitMessage(raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		msg := detail.Error.Message
		if nodes := nodeErrorsMessage(detail.NodeErrors); nodes != "" {
			if msg != "" {
				msg += ": "
			}
			msg += nodes
		}
		if msg != "" {
			return msg
		}
	}
	return truncate(raw)
}

func nodeErrorsMessage(errs map[string]NodeErrors) string {
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var parts []string
	for _, id := range ids {
		for _, e := range errs[id].Errors {
			text := e.Message
			if e.Details != "" {
				text += " (" + e.Details + ")"
			}
			parts = append(parts, fmt.Sprintf("node %s: %s", id, text))
		}
	}
	return strings.Join(parts, "; ")
}

func truncate(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
