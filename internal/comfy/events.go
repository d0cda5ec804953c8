package comfy

import (
	"encoding/json"
	"errors"
)

// EventType tags a push frame.
type EventType string

const (
	EventStatus           EventType = "status"
	EventProgress         EventType = "progress"
	EventExecuting        EventType = "executing"
	EventExecuted         EventType = "executed"
	EventExecutionStart   EventType = "execution_start"
	EventExecutionCached  EventType = "execution_cached"
	EventExecutionSuccess EventType = "execution_success"
	EventExecutionError   EventType = "execution_error"
)

// StatusData reports the engine's queue depth.
type StatusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
	SID string `json:"sid,omitempty"`
}

// QueueRemaining returns the number of jobs still queued.
func (s StatusData) QueueRemaining() int { return s.Status.ExecInfo.QueueRemaining }

// ProgressData reports sampler steps within one node.
type ProgressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id,omitempty"`
	Node     string `json:"node,omitempty"`
}

// Percent returns round(value/max*100), clamped to [0, 100].
func (p ProgressData) Percent() int {
	if p.Max <= 0 {
		return 0
	}
	pct := (p.Value*100 + p.Max/2) / p.Max
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// ExecutingData names the node now running. A nil Node means the job is done.
type ExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id,omitempty"`
}

// Done reports whether this is the end-of-job signal.
func (e ExecutingData) Done() bool { return e.Node == nil }

// ExecutedData carries the outputs one node produced.
type ExecutedData struct {
	Node     string     `json:"node"`
	PromptID string     `json:"prompt_id"`
	Output   NodeOutput `json:"output"`
}

// ExecutionErrorData describes a job that failed inside the engine.
type ExecutionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionMessage string `json:"exception_message"`
}

// Event is one decoded push frame. Exactly one payload field is set for the
// known types; unknown types carry only Type.
type Event struct {
	Type      EventType
	Status    *StatusData
	Progress  *ProgressData
	Executing *ExecutingData
	Executed  *ExecutedData
	Failure   *ExecutionErrorData
}

type frame struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEvent parses one text frame. Unknown types decode without error.
func DecodeEvent(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, &ParseError{Frame: string(raw), Err: err}
	}
	if f.Type == "" {
		return Event{}, &ParseError{Frame: string(raw), Err: errors.New("missing type")}
	}
	ev := Event{Type: f.Type}
	var target any
	switch f.Type {
	case EventStatus:
		ev.Status = &StatusData{}
		target = ev.Status
	case EventProgress:
		ev.Progress = &ProgressData{}
		target = ev.Progress
	case EventExecuting:
		ev.Executing = &ExecutingData{}
		target = ev.Executing
	case EventExecuted:
		ev.Executed = &ExecutedData{}
		target = ev.Executed
	case EventExecutionError:
		ev.Failure = &ExecutionErrorData{}
		target = ev.Failure
	default:
		return ev, nil
	}
	if len(f.Data) == 0 {
		return Event{}, &ParseError{Frame: string(raw), Err: errors.New("missing data")}
	}
	if err := json.Unmarshal(f.Data, target); err != nil {
		return Event{}, &ParseError{Frame: string(raw), Err: err}
	}
	return ev, nil
}
