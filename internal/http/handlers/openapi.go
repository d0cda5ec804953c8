package handlers

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
)

//go:embed openapi.json
var openAPISpec []byte

var (
	// openAPIETag changes whenever the embedded document does.
	openAPIETag = func() string {
		sum := sha256.Sum256(openAPISpec)
		return `"` + hex.EncodeToString(sum[:8]) + `"`
	}()
	docsPage = template.Must(template.New("docs").Parse(docsTemplate))
)

const docsTemplate = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}} {{.Version}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>body { margin: 0; } redoc { display: block; height: 100vh; }</style>
  </head>
  <body>
    <redoc spec-url="{{.SpecURL}}"></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
  </body>
</html>`

type docsInfo struct {
	Title   string
	Version string
	SpecURL string
}

func apiInfo() docsInfo {
	var doc struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
	}
	_ = json.Unmarshal(openAPISpec, &doc)
	info := docsInfo{Title: doc.Info.Title, Version: doc.Info.Version, SpecURL: "/v1/openapi.json"}
	if info.Title == "" {
		info.Title = "API"
	}
	return info
}

// OpenAPIJSON serves the embedded API description. Clients holding the
// current ETag get 304.
func (a *App) OpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", openAPIETag)
	w.Header().Set("Cache-Control", "no-cache")
	for _, tag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		if strings.TrimSpace(tag) == openAPIETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

func (a *App) OpenAPIDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := docsPage.Execute(w, apiInfo()); err != nil {
		a.Logger.Warn().Err(err).Msg("docs: render failed")
	}
}
