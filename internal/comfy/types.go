package comfy

import (
	"encoding/json"

	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
)

type promptRequest struct {
	Prompt   workflow.Template `json:"prompt"`
	ClientID string            `json:"client_id"`
}

type promptResponse struct {
	PromptID   string                `json:"prompt_id"`
	Number     int                   `json:"number"`
	NodeErrors map[string]NodeErrors `json:"node_errors,omitempty"`
}

// NodeErrors lists validation failures the engine reported for one node.
type NodeErrors struct {
	Errors    []NodeError `json:"errors"`
	ClassType string      `json:"class_type"`
}

// NodeError is one validation failure.
type NodeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
	NodeErrors map[string]NodeErrors `json:"node_errors"`
}

// HistoryEntry is the engine's record of one finished or running job.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// History status strings.
const (
	HistorySuccess = "success"
	HistoryError   = "error"
)

// HistoryStatus reports how a job ended. Messages is the engine's event log
// for the job, each entry a [type, data] pair.
type HistoryStatus struct {
	StatusStr string              `json:"status_str"`
	Completed bool                `json:"completed"`
	Messages  [][]json.RawMessage `json:"messages,omitempty"`
}

// Failure returns the execution_error recorded for the job, if any.
func (s HistoryStatus) Failure() (ExecutionErrorData, bool) {
	for _, msg := range s.Messages {
		if len(msg) != 2 {
			continue
		}
		var kind EventType
		if err := json.Unmarshal(msg[0], &kind); err != nil || kind != EventExecutionError {
			continue
		}
		var data ExecutionErrorData
		if err := json.Unmarshal(msg[1], &data); err != nil {
			continue
		}
		return data, true
	}
	return ExecutionErrorData{}, false
}

// NodeOutput holds the files one output node produced.
type NodeOutput struct {
	Images []FileRef `json:"images,omitempty"`
	Gifs   []FileRef `json:"gifs,omitempty"`
	Videos []FileRef `json:"videos,omitempty"`
}

// FileRef addresses a file in the engine's output, input or temp folders.
type FileRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// SystemStats is returned from GET /system_stats.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		ComfyUIVersion string `json:"comfyui_version"`
		PythonVersion  string `json:"python_version"`
	} `json:"system"`
	Devices []Device `json:"devices"`
}

// Device describes one compute device of the engine host.
type Device struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Index     int    `json:"index"`
	VRAMTotal int64  `json:"vram_total"`
	VRAMFree  int64  `json:"vram_free"`
}

// QueueItem is one entry in the running or pending queue. The engine encodes
// it as [number, prompt_id, graph, extra, outputs].
type QueueItem []any

// PromptID returns the job id of the queue item.
func (q QueueItem) PromptID() string {
	if len(q) < 2 {
		return ""
	}
	id, _ := q[1].(string)
	return id
}

// Queue is returned from GET /queue.
type Queue struct {
	Running []QueueItem `json:"queue_running"`
	Pending []QueueItem `json:"queue_pending"`
}

// UploadResult names a file stored by POST /upload/image.
type UploadResult struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}
