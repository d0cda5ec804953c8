package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
)

// NotFoundError reports a template that is missing or does not have the
// node-map shape.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("workflow: template %q not found", e.Name)
	}
	return fmt.Sprintf("workflow: template %q not found: %v", e.Name, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Loader reads graph templates from static storage and caches the parsed
// result per name.
type Loader struct {
	fsys   fs.FS
	logger *infra.Logger

	mu    sync.RWMutex
	cache map[string]Template
}

// NewLoader returns a Loader over fsys.
func NewLoader(fsys fs.FS, logger *infra.Logger) *Loader {
	return &Loader{fsys: fsys, logger: infra.OrDiscard(logger), cache: map[string]Template{}}
}

// NewDirLoader returns a Loader rooted at a directory on disk.
func NewDirLoader(dir string, logger *infra.Logger) *Loader {
	return NewLoader(os.DirFS(dir), logger)
}

// Load returns a private copy of the named template. The name may omit the
// .json extension.
func (l *Loader) Load(ctx context.Context, name string) (Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := templateFile(name)
	if err != nil {
		return nil, &NotFoundError{Name: name, Err: err}
	}

	l.mu.RLock()
	cached, ok := l.cache[file]
	l.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	data, err := fs.ReadFile(l.fsys, file)
	if err != nil {
		return nil, &NotFoundError{Name: name, Err: err}
	}
	t, err := ParseTemplate(data)
	if err != nil {
		return nil, &NotFoundError{Name: name, Err: err}
	}

	l.mu.Lock()
	l.cache[file] = t
	l.mu.Unlock()
	l.logger.Debug().Str("template", file).Int("nodes", len(t)).Msg("workflow: template cached")
	return t.Clone(), nil
}

// Forget drops a cached template so the next Load re-reads it.
func (l *Loader) Forget(name string) {
	file, err := templateFile(name)
	if err != nil {
		return
	}
	l.mu.Lock()
	delete(l.cache, file)
	l.mu.Unlock()
}

// templateFile normalizes a template name and prevents escaping the root.
func templateFile(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name is required")
	}
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimLeft(name, "/")
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("invalid name")
	}
	if !strings.HasSuffix(cleaned, ".json") {
		cleaned += ".json"
	}
	return cleaned, nil
}
