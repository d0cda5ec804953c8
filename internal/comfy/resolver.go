package comfy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Artifact kinds, named after the output lists they come from.
const (
	KindImage = "images"
	KindGif   = "gifs"
	KindVideo = "videos"
)

// Artifact is one output file of a finished job.
type Artifact struct {
	NodeID string `json:"node_id"`
	Kind   string `json:"kind"`
	FileRef
}

// FetchResult returns the artifacts of a job. An empty result means the job
// has not finished yet. When nodeIDs are given only those output nodes are
// read; otherwise every output node is, in node-id order. A job the history
// records as failed, or as completed with nothing to read, returns a
// *JobFailedError.
func (c *Client) FetchResult(ctx context.Context, jobID string, nodeIDs ...string) ([]Artifact, error) {
	history, err := c.History(ctx, jobID)
	if err != nil {
		return nil, err
	}
	entry, ok := history[jobID]
	if !ok {
		return nil, nil
	}
	if entry.Status.StatusStr == HistoryError {
		failed := &JobFailedError{JobID: jobID, Message: "execution failed"}
		if f, ok := entry.Status.Failure(); ok {
			failed.NodeID, failed.NodeType = f.NodeID, f.NodeType
			if f.ExceptionMessage != "" {
				failed.Message = f.ExceptionMessage
			}
		}
		return nil, failed
	}
	artifacts := CollectArtifacts(entry.Outputs, nodeIDs...)
	if len(artifacts) == 0 && entry.Status.Completed {
		return nil, &JobFailedError{JobID: jobID, Message: "finished without output"}
	}
	return artifacts, nil
}

// CollectArtifacts flattens node outputs into artifacts.
func CollectArtifacts(outputs map[string]NodeOutput, nodeIDs ...string) []Artifact {
	ids := nodeIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(outputs))
		for id := range outputs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	var out []Artifact
	for _, id := range ids {
		o, ok := outputs[id]
		if !ok {
			continue
		}
		out = appendRefs(out, id, KindImage, o.Images)
		out = appendRefs(out, id, KindGif, o.Gifs)
		out = appendRefs(out, id, KindVideo, o.Videos)
	}
	return out
}

func appendRefs(out []Artifact, nodeID, kind string, refs []FileRef) []Artifact {
	for _, ref := range refs {
		if ref.Filename == "" {
			continue
		}
		out = append(out, Artifact{NodeID: nodeID, Kind: kind, FileRef: ref})
	}
	return out
}

// ArtifactURL returns the view URL for an artifact. A non-zero bust adds a
// t=<unix millis> parameter so browsers do not reuse a cached file.
func (c *Client) ArtifactURL(a Artifact, bust time.Time) string {
	return c.ViewURL(a.FileRef, bust)
}

// ViewURL returns the view URL for a file reference.
func (c *Client) ViewURL(ref FileRef, bust time.Time) string {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	kind := ref.Type
	if kind == "" {
		kind = "output"
	}
	q.Set("type", kind)
	if !bust.IsZero() {
		q.Set("t", strconv.FormatInt(bust.UnixMilli(), 10))
	}
	return c.baseURL + "/view?" + q.Encode()
}

// File is a downloaded artifact.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Download reads an artifact through a view URL issued by this client.
func (c *Client) Download(ctx context.Context, viewURL string) (*File, error) {
	u, err := url.Parse(viewURL)
	if err != nil || !strings.HasPrefix(viewURL, c.baseURL+"/view?") {
		return nil, fmt.Errorf("comfy: %q is not a view url of %s", viewURL, c.baseURL)
	}
	name := path.Base(u.Query().Get("filename"))
	if name == "." || name == "/" {
		return nil, fmt.Errorf("comfy: view url %q names no file", viewURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, viewURL, nil)
	if err != nil {
		return nil, fmt.Errorf("comfy: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, "view", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy: read %s: %w", name, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Op: "view", Status: resp.StatusCode, Body: truncate(data)}
	}
	return &File{Name: name, ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}
