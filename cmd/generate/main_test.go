package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type engineStub struct {
	mu       sync.Mutex
	paths    []string
	rejected bool
}

func (e *engineStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	e.paths = append(e.paths, r.URL.Path)
	e.mu.Unlock()
	switch {
	case r.URL.Path == "/prompt" && e.rejected:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error": {"type": "server_error", "message": "out of memory"}}`)
	case r.URL.Path == "/prompt":
		_, _ = io.WriteString(w, `{"prompt_id": "job-1", "number": 1, "node_errors": {}}`)
	case r.URL.Path == "/history/job-1":
		_, _ = io.WriteString(w, `{"job-1": {"outputs": {"9": {"images": [{"filename": "z-image_00001_.png", "subfolder": "", "type": "output"}]}},
			"status": {"status_str": "success", "completed": true}}}`)
	default:
		http.NotFound(w, r)
	}
}

func (e *engineStub) saw(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.paths {
		if p == path {
			return true
		}
	}
	return false
}

func setupEnv(t *testing.T, engineURL string) {
	t.Helper()
	t.Setenv("COMFY_URL", engineURL)
	t.Setenv("SLOT_PATH", t.TempDir())
	t.Setenv("WORKFLOW_DIR", "../../workflows")
	t.Setenv("POLL_INTERVAL_MS", "5")
	t.Setenv("POLL_MAX_ATTEMPTS", "20")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("PROFILES_FILE", "")
}

func TestRunPrintsArtifactURLs(t *testing.T) {
	stub := &engineStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()
	setupEnv(t, srv.URL)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-prompt", "a lighthouse at dusk", "-seed", "7"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), srv.URL+"/view?filename=z-image_00001_.png") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "job job-1 finished (seed 7)") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunReportsRejectedJob(t *testing.T) {
	stub := &engineStub{rejected: true}
	srv := httptest.NewServer(stub)
	defer srv.Close()
	setupEnv(t, srv.URL)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-prompt", "a lighthouse at dusk"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "error: Engine rejected the job") {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if stub.saw("/ws") {
		t.Fatalf("progress channel opened for a rejected job")
	}
}

func TestRunFlagErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-no-such-flag"}, &stdout, &stderr); code != 2 {
		t.Fatalf("unknown flag exit code = %d, want 2", code)
	}
	stderr.Reset()
	if code := run(context.Background(), []string{"-size", "huge"}, &stdout, &stderr); code != 1 {
		t.Fatalf("bad size exit code = %d, want 1", code)
	}
	if !strings.HasPrefix(stderr.String(), "error: ") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunNothingToResume(t *testing.T) {
	srv := httptest.NewServer(&engineStub{})
	defer srv.Close()
	setupEnv(t, srv.URL)

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-resume"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "error: no job to resume") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}
