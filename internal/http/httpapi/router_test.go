package httpapi

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Feddakalkun/comfyuifeddafront/internal/assistant"
	"github.com/Feddakalkun/comfyuifeddafront/internal/audio"
	"github.com/Feddakalkun/comfyuifeddafront/internal/chat"
	"github.com/Feddakalkun/comfyuifeddafront/internal/comfy"
	"github.com/Feddakalkun/comfyuifeddafront/internal/generation"
	"github.com/Feddakalkun/comfyuifeddafront/internal/http/handlers"
	"github.com/Feddakalkun/comfyuifeddafront/internal/ollama"
	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
)

type fakeEngine struct {
	mu       sync.Mutex
	done     bool
	options  map[string][]string
	uploaded string
}

func (e *fakeEngine) Submit(context.Context, workflow.Template) (string, error) {
	return "job-1", nil
}

func (e *fakeEngine) FetchResult(context.Context, string, ...string) ([]comfy.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.done {
		return nil, nil
	}
	return []comfy.Artifact{{NodeID: "9", Kind: comfy.KindImage, FileRef: comfy.FileRef{Filename: "out.png", Type: "output"}}}, nil
}

func (e *fakeEngine) ArtifactURL(a comfy.Artifact, _ time.Time) string {
	return "http://engine/view?filename=" + a.Filename
}

func (e *fakeEngine) UploadImage(_ context.Context, filename string, r io.Reader, _ bool) (*comfy.UploadResult, error) {
	data, _ := io.ReadAll(r)
	e.mu.Lock()
	e.uploaded = filename + ":" + string(data)
	e.mu.Unlock()
	return &comfy.UploadResult{Name: filename, Type: "input"}, nil
}

func (e *fakeEngine) InputOptions(_ context.Context, nodeType, input string) ([]string, error) {
	opts, ok := e.options[nodeType+"."+input]
	if !ok {
		return nil, &comfy.ConnectivityError{Op: "object_info", Err: errors.New("refused")}
	}
	return opts, nil
}

func (e *fakeEngine) Download(_ context.Context, viewURL string) (*comfy.File, error) {
	name := strings.TrimPrefix(viewURL, "http://engine/view?filename=")
	return &comfy.File{Name: name, ContentType: "image/png", Data: []byte("png:" + name)}, nil
}

func (e *fakeEngine) finish() {
	e.mu.Lock()
	e.done = true
	e.mu.Unlock()
}

type templates struct{}

func (templates) Load(context.Context, string) (workflow.Template, error) {
	return workflow.Template{
		"3":  {ClassType: "KSampler", Inputs: map[string]any{"seed": 0, "steps": 20, "cfg": 7}},
		"33": {ClassType: "PrimitiveString", Inputs: map[string]any{"string": ""}},
		"34": {ClassType: "PrimitiveString", Inputs: map[string]any{"string": ""}},
		"9":  {ClassType: "SaveImage", Inputs: map[string]any{"filename_prefix": "z-image"}},
	}, nil
}

type fakeModels struct {
	models  []ollama.Model
	pull    []ollama.PullProgress
	pullErr error
	deleted []string
}

func (m *fakeModels) Models(context.Context) ([]ollama.Model, error) { return m.models, nil }

func (m *fakeModels) Pull(_ context.Context, _ string, onProgress func(ollama.PullProgress)) error {
	for _, p := range m.pull {
		onProgress(p)
	}
	return m.pullErr
}

func (m *fakeModels) Delete(_ context.Context, model string) error {
	if model != "llama3" {
		return ollama.ErrModelNotFound
	}
	m.deleted = append(m.deleted, model)
	return nil
}

type fakeLLM struct{ reply string }

func (l fakeLLM) Generate(context.Context, ollama.GenerateRequest) (string, error) {
	return "  " + l.reply + "  ", nil
}

func (l fakeLLM) Chat(context.Context, string, []ollama.Message, *ollama.ModelOptions) (ollama.Message, error) {
	return ollama.Message{Role: ollama.RoleAssistant, Content: "Here you go!\n<<GENERATE>>" + l.reply + "<</GENERATE>>"}, nil
}

func (fakeLLM) Unload(context.Context, string) error { return nil }

type fakeMedia struct{}

func (fakeMedia) Transcribe(_ context.Context, f audio.File) (string, error) {
	data, _ := io.ReadAll(f.Reader)
	if len(data) == 0 {
		return "", audio.ErrNoSpeech
	}
	return "draw a cat", nil
}

func (fakeMedia) Speak(_ context.Context, text, _ string) (*audio.Media, error) {
	if strings.TrimSpace(text) == "" {
		return nil, audio.ErrEmptyText
	}
	return &audio.Media{Data: []byte("fLaC"), ContentType: "audio/flac"}, nil
}

func (fakeMedia) LipSync(_ context.Context, req audio.LipSyncRequest) (*audio.Media, error) {
	if req.Seed != 7 {
		return nil, &audio.StatusError{Op: "lipsync", Status: 500, Body: "unexpected seed"}
	}
	return &audio.Media{Data: []byte("mp4"), ContentType: "video/mp4"}, nil
}

type fixture struct {
	engine *fakeEngine
	models *fakeModels
	runner *generation.Runner
	server *httptest.Server
}

func newFixture(t *testing.T, perMinute int) *fixture {
	t.Helper()
	engine := &fakeEngine{options: map[string][]string{"LoraLoader.lora_name": {"a.safetensors", "b.safetensors"}}}
	runner, err := generation.NewRunner(generation.Options{
		Page:      "image",
		Engine:    engine,
		Templates: templates{},
		Poll:      generation.PollConfig{Interval: 5 * time.Millisecond, MaxAttempts: 1000},
	})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	llm := fakeLLM{reply: "A red fox in fresh snow, golden hour"}
	agent, err := chat.NewAgent(chat.AgentOptions{LLM: llm, Images: runner, DefaultModel: "qwen2.5:7b"})
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	models := &fakeModels{models: []ollama.Model{{Name: "llama3"}}}

	ctx, cancel := context.WithCancel(context.Background())
	app := handlers.NewApp(handlers.App{
		Engine:      engine,
		Pages:       map[string]*generation.Runner{"image": runner},
		Models:      models,
		Assistant:   assistant.New(llm, "qwen2.5:7b", nil),
		Chat:        agent,
		Media:       fakeMedia{},
		BaseContext: ctx,
	})
	srv := httptest.NewServer(NewRouter(app, RouterOptions{AllowedOrigins: []string{"*"}, GeneratePerMinute: perMinute}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
		runner.Close()
	})
	return &fixture{engine: engine, models: models, runner: runner, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	return f.do(t, http.MethodPost, path, "application/json", strings.NewReader(body))
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	body := decode[errorBody](t, resp)
	if resp.StatusCode != status || body.Code != code {
		t.Fatalf("response = %d %+v, want %d %s", resp.StatusCode, body, status, code)
	}
}

func waitPhase(t *testing.T, r *generation.Runner, phase generation.Phase) generation.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := r.Holder().Snapshot()
		if s.Phase == phase {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("phase = %s, want %s", s.Phase, phase)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, 0)

	if resp := f.do(t, http.MethodGet, "/v1/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	resp := f.do(t, http.MethodGet, "/v1/status", "", nil)
	status := decode[struct {
		Pages map[string]generation.State `json:"pages"`
	}](t, resp)
	if status.Pages["image"].Phase != generation.PhaseIdle {
		t.Fatalf("status = %+v", status)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestStartGenerationCompletes(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.postJSON(t, "/v1/pages/image/generation", `{"prompt":"a red fox","dimensions":"832x1216 (2:3)","seed":12}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	waitPhase(t, f.runner, generation.PhaseExecuting)
	expectError(t, f.postJSON(t, "/v1/pages/image/generation", `{"prompt":"again"}`), http.StatusConflict, "busy")

	f.engine.finish()
	state := waitPhase(t, f.runner, generation.PhaseCompleted)
	if state.JobID != "job-1" || state.Seed != 12 || len(state.Artifacts) != 1 {
		t.Fatalf("state = %+v", state)
	}

	snap := decode[generation.State](t, f.do(t, http.MethodGet, "/v1/pages/image/generation", "", nil))
	if snap.Phase != generation.PhaseCompleted || snap.Artifacts[0] != "http://engine/view?filename=out.png" {
		t.Fatalf("snapshot = %+v", snap)
	}

	resp = f.do(t, http.MethodGet, "/v1/pages/image/generation/artifacts.zip", "", nil)
	data, _ := io.ReadAll(resp.Body)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil || len(zr.File) != 1 || zr.File[0].Name != "out.png" {
		t.Fatalf("archive = %d %v", resp.StatusCode, err)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="image-job-1.zip"` {
		t.Fatalf("disposition = %s", cd)
	}
}

func TestStartGenerationRejectsBadInput(t *testing.T) {
	f := newFixture(t, 0)

	expectError(t, f.postJSON(t, "/v1/pages/image/generation", `{`), http.StatusBadRequest, "bad_request")
	expectError(t, f.postJSON(t, "/v1/pages/image/generation", `{"prompt":"x","seed":-5}`), http.StatusBadRequest, "invalid_request")
	expectError(t, f.postJSON(t, "/v1/pages/image/generation", `{"prompt":"x","dimensions":"wide"}`), http.StatusBadRequest, "invalid_request")
	expectError(t, f.postJSON(t, "/v1/pages/image/generation", `{"prompt":"x","profile":"nope"}`), http.StatusBadRequest, "unknown_profile")
	expectError(t, f.postJSON(t, "/v1/pages/audio/generation", `{"prompt":"x"}`), http.StatusNotFound, "unknown_page")

	if s := f.runner.Holder().Snapshot(); s.Phase != generation.PhaseIdle {
		t.Fatalf("rejected input changed the page: %+v", s)
	}
}

func TestResumeAndDismiss(t *testing.T) {
	f := newFixture(t, 0)

	expectError(t, f.postJSON(t, "/v1/pages/image/generation/resume", ``), http.StatusNotFound, "nothing_to_resume")
	expectError(t, f.do(t, http.MethodGet, "/v1/pages/image/generation/artifacts.zip", "", nil), http.StatusNotFound, "no_artifacts")
	resp := f.postJSON(t, "/v1/pages/image/generation/dismiss", ``)
	if snap := decode[generation.State](t, resp); resp.StatusCode != http.StatusOK || snap.Phase != generation.PhaseIdle {
		t.Fatalf("dismiss = %d %+v", resp.StatusCode, snap)
	}
}

func TestGenerationRateLimit(t *testing.T) {
	f := newFixture(t, 1)

	if resp := f.postJSON(t, "/v1/pages/image/generation", `{"prompt":"a red fox"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first start = %d", resp.StatusCode)
	}
	resp := f.postJSON(t, "/v1/pages/image/generation", `{"prompt":"a red fox"}`)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("second start = %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/v1/pages/image/generation", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot limited: %d", resp.StatusCode)
	}
}

func TestStreamGeneration(t *testing.T) {
	f := newFixture(t, 0)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/pages/image/generation/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first generation.State
	if err := conn.ReadJSON(&first); err != nil || first.Phase != generation.PhaseIdle {
		t.Fatalf("first frame = %+v, %v", first, err)
	}

	f.engine.finish()
	if resp := f.postJSON(t, "/v1/pages/image/generation", `{"prompt":"a red fox"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	for {
		var s generation.State
		if err := conn.ReadJSON(&s); err != nil {
			t.Fatalf("read: %v", err)
		}
		if s.Phase == generation.PhaseCompleted {
			if len(s.Artifacts) != 1 {
				t.Fatalf("completed frame = %+v", s)
			}
			return
		}
	}
}

func TestOptionsAndUpload(t *testing.T) {
	f := newFixture(t, 0)

	opts := decode[struct {
		Items []string `json:"items"`
	}](t, f.do(t, http.MethodGet, "/v1/options/loras", "", nil))
	if len(opts.Items) != 2 {
		t.Fatalf("loras = %v", opts.Items)
	}
	expectError(t, f.do(t, http.MethodGet, "/v1/options/styles", "", nil), http.StatusBadGateway, "backend_unreachable")
	expectError(t, f.do(t, http.MethodGet, "/v1/options/samplers", "", nil), http.StatusNotFound, "not_found")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("image", `C:\photos\face.png`)
	part.Write([]byte("png"))
	mw.Close()
	resp := f.do(t, http.MethodPost, "/v1/uploads/image", mw.FormDataContentType(), &buf)
	if resp.StatusCode != http.StatusCreated || f.engine.uploaded != "face.png:png" {
		t.Fatalf("upload = %d %q", resp.StatusCode, f.engine.uploaded)
	}
	expectError(t, f.do(t, http.MethodPost, "/v1/uploads/image", "text/plain", strings.NewReader("x")), http.StatusBadRequest, "bad_request")
}

func TestAssist(t *testing.T) {
	f := newFixture(t, 0)

	out := decode[map[string]string](t, f.postJSON(t, "/v1/assist/enhance", `{"prompt":"fox"}`))
	if out["prompt"] != "A red fox in fresh snow, golden hour" {
		t.Fatalf("enhance = %v", out)
	}
	out = decode[map[string]string](t, f.postJSON(t, "/v1/assist/describe", `{"image":"data:image/png;base64,AAAA"}`))
	if out["description"] == "" {
		t.Fatalf("describe = %v", out)
	}
	expectError(t, f.postJSON(t, "/v1/assist/enhance", `{"prompt":" "}`), http.StatusBadRequest, "bad_request")
}

func TestModels(t *testing.T) {
	f := newFixture(t, 0)

	list := decode[struct {
		Items     []ollama.Model `json:"items"`
		Preferred string         `json:"preferred"`
	}](t, f.do(t, http.MethodGet, "/v1/models", "", nil))
	if len(list.Items) != 1 || list.Items[0].Name != "llama3" || list.Preferred != "llama3" {
		t.Fatalf("models = %+v", list)
	}

	f.models.pull = []ollama.PullProgress{{Status: "pulling manifest"}, {Status: "downloading", Total: 200, Completed: 50}}
	f.models.pullErr = &ollama.StatusError{Op: "pull", Status: 200, Message: "disk full"}
	resp := f.postJSON(t, "/v1/models/pull", `{"name":"llama3"}`)
	if resp.Header.Get("Content-Type") != "application/x-ndjson" {
		t.Fatalf("content type = %s", resp.Header.Get("Content-Type"))
	}
	var lines []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var line map[string]any
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 3 || lines[1]["percent"] != float64(25) || lines[2]["status"] != "error" || lines[2]["error"] != "disk full" {
		t.Fatalf("lines = %v", lines)
	}

	if resp := f.do(t, http.MethodDelete, "/v1/models/llama3", "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	expectError(t, f.do(t, http.MethodDelete, "/v1/models/mistral", "", nil), http.StatusNotFound, "model_not_found")
}

func TestChat(t *testing.T) {
	f := newFixture(t, 0)
	f.engine.finish()

	sent := decode[struct {
		Items []chat.Message `json:"items"`
	}](t, f.postJSON(t, "/v1/chat/messages", `{"content":"tell me something"}`))
	if len(sent.Items) != 2 || sent.Items[1].Content != "Here you go!" {
		t.Fatalf("sent = %+v", sent.Items)
	}
	expectError(t, f.postJSON(t, "/v1/chat/messages", `{"content":""}`), http.StatusBadRequest, "bad_request")

	card := f.runnerCard(t)
	resp := f.postJSON(t, "/v1/chat/messages/"+card+"/generate", `{"lora":"a.safetensors"}`)
	msg := decode[chat.Message](t, resp)
	if resp.StatusCode != http.StatusCreated || msg.Kind != chat.KindGenerationResult || msg.Metadata["image_url"] == "" {
		t.Fatalf("generate = %d %+v", resp.StatusCode, msg)
	}
	expectError(t, f.postJSON(t, "/v1/chat/messages/missing/generate", ``), http.StatusNotFound, "not_found")

	list := decode[struct {
		Items []chat.Message `json:"items"`
	}](t, f.do(t, http.MethodGet, "/v1/chat/messages", "", nil))
	if len(list.Items) != 7 {
		t.Fatalf("log = %d messages", len(list.Items))
	}
}

// runnerCard asks the agent for a picture and returns the card id.
func (f *fixture) runnerCard(t *testing.T) string {
	t.Helper()
	sent := decode[struct {
		Items []chat.Message `json:"items"`
	}](t, f.postJSON(t, "/v1/chat/messages", `{"content":"please draw a red fox in the snow for me"}`))
	for _, m := range sent.Items {
		if m.Kind == chat.KindGenerationRequest {
			return m.ID
		}
	}
	t.Fatalf("no generation card in %+v", sent.Items)
	return ""
}

func TestAudio(t *testing.T) {
	f := newFixture(t, 0)

	upload := func(fields map[string]string, files ...string) (*bytes.Buffer, string) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for _, name := range files {
			part, _ := mw.CreateFormFile(name, name+".bin")
			part.Write([]byte(name))
		}
		for k, v := range fields {
			mw.WriteField(k, v)
		}
		mw.Close()
		return &buf, mw.FormDataContentType()
	}

	body, ct := upload(nil, "audio")
	out := decode[map[string]string](t, f.do(t, http.MethodPost, "/v1/audio/transcribe", ct, body))
	if out["text"] != "draw a cat" {
		t.Fatalf("transcribe = %v", out)
	}

	resp := f.postJSON(t, "/v1/audio/tts", `{"text":"hello"}`)
	data, _ := io.ReadAll(resp.Body)
	if resp.Header.Get("Content-Type") != "audio/flac" || string(data) != "fLaC" {
		t.Fatalf("tts = %s %q", resp.Header.Get("Content-Type"), data)
	}
	expectError(t, f.postJSON(t, "/v1/audio/tts", `{"text":""}`), http.StatusBadRequest, "bad_request")

	body, ct = upload(map[string]string{"seed": "7"}, "image", "audio")
	resp = f.do(t, http.MethodPost, "/v1/video/lipsync", ct, body)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "video/mp4" {
		t.Fatalf("lipsync = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	body, ct = upload(map[string]string{"seed": "8"}, "image", "audio")
	expectError(t, f.do(t, http.MethodPost, "/v1/video/lipsync", ct, body), http.StatusBadGateway, "backend_error")
	body, ct = upload(nil, "image")
	expectError(t, f.do(t, http.MethodPost, "/v1/video/lipsync", ct, body), http.StatusBadRequest, "bad_request")
}

func TestMetricsAndDocs(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.do(t, http.MethodGet, "/metrics", "", nil)
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "go_goroutines") {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/v1/openapi.json", "", nil)
	etag := resp.Header.Get("ETag")
	doc := decode[map[string]any](t, resp)
	if doc["openapi"] != "3.0.3" || etag == "" {
		t.Fatalf("openapi = %v, etag = %q", doc["openapi"], etag)
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	cached, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional get: %v", err)
	}
	cached.Body.Close()
	if cached.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional get status = %d, want 304", cached.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/v1/docs", "", nil)
	page, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(page), "<title>FEDDA Control Panel API 1.0.0</title>") || !strings.Contains(string(page), `spec-url="/v1/openapi.json"`) {
		t.Fatalf("docs page = %s", page)
	}
}
