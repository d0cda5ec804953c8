package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Feddakalkun/comfyuifeddafront/internal/generation"
	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
	"github.com/Feddakalkun/comfyuifeddafront/pkg/zip"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

type generationRequest struct {
	workflow.Request
	Profile string `json:"profile"`
	// Dimensions is a "WxH" selector; explicit width and height win.
	Dimensions string `json:"dimensions"`
}

func (a *App) page(w http.ResponseWriter, r *http.Request) (*generation.Runner, bool) {
	name := chi.URLParam(r, "page")
	runner, ok := a.Pages[name]
	if !ok {
		a.error(w, http.StatusNotFound, "unknown_page", "unknown page "+name)
		return nil, false
	}
	return runner, true
}

// StartGeneration submits a job for the page and returns once the page has
// accepted it. Progress is read from the snapshot or the stream.
func (a *App) StartGeneration(w http.ResponseWriter, r *http.Request) {
	runner, ok := a.page(w, r)
	if !ok {
		return
	}
	// An omitted seed means a fresh one per job.
	req := generationRequest{Request: workflow.Request{Seed: workflow.RandomSeed}}
	if !a.decode(w, r, &req) {
		return
	}
	if req.Dimensions != "" && req.Width == 0 && req.Height == 0 {
		width, height, err := workflow.ParseDimensions(req.Dimensions)
		if err != nil {
			a.error(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		req.Width, req.Height = width, height
	}
	if err := runner.Start(a.BaseContext, req.Profile, req.Request); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, runner.Holder().Snapshot())
}

func (a *App) Generation(w http.ResponseWriter, r *http.Request) {
	runner, ok := a.page(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, runner.Holder().Snapshot())
}

// DismissGeneration acknowledges a failure so the page accepts new jobs.
func (a *App) DismissGeneration(w http.ResponseWriter, r *http.Request) {
	runner, ok := a.page(w, r)
	if !ok {
		return
	}
	runner.Holder().Dismiss()
	a.json(w, http.StatusOK, runner.Holder().Snapshot())
}

// ResumeGeneration re-attaches the page to the job it last submitted.
func (a *App) ResumeGeneration(w http.ResponseWriter, r *http.Request) {
	runner, ok := a.page(w, r)
	if !ok {
		return
	}
	if err := runner.StartResume(a.BaseContext); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, runner.Holder().Snapshot())
}

// ArtifactsZip bundles the artifacts of the page's last completed job.
func (a *App) ArtifactsZip(w http.ResponseWriter, r *http.Request) {
	runner, ok := a.page(w, r)
	if !ok {
		return
	}
	if a.Engine == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "engine not configured")
		return
	}
	snap := runner.Holder().Snapshot()
	if snap.Phase != generation.PhaseCompleted || len(snap.Artifacts) == 0 {
		a.error(w, http.StatusNotFound, "no_artifacts", "no completed generation on this page")
		return
	}
	assets := make([]zip.Asset, 0, len(snap.Artifacts))
	for _, u := range snap.Artifacts {
		f, err := a.Engine.Download(r.Context(), u)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		assets = append(assets, zip.Asset{Filename: f.Name, MIME: f.ContentType, Data: f.Data, Modified: snap.UpdatedAt})
	}
	data, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runner.Page()+"-"+snap.JobID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
}

func (a *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// StreamGeneration pushes every state change of the page over a websocket,
// starting with the current state.
func (a *App) StreamGeneration(w http.ResponseWriter, r *http.Request) {
	runner, ok := a.page(w, r)
	if !ok {
		return
	}
	conn, err := a.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		a.Logger.Debug().Err(err).Msg("stream: upgrade failed")
		return
	}
	defer conn.Close()

	states, unsubscribe := runner.Holder().Subscribe()
	defer unsubscribe()

	// The client never sends data; reading surfaces its close and pongs.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case state, ok := <-states:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "page closed"),
					time.Now().Add(streamWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(state); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-a.BaseContext.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		}
	}
}
