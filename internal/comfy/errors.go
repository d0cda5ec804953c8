package comfy

import "fmt"

// ConnectivityError reports that the engine could not be reached at all.
// Callers treat it as transient.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("comfy: %s: engine unreachable: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// SubmitError reports that the engine rejected a job.
type SubmitError struct {
	Status  int
	Message string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("comfy: submit rejected (status %d): %s", e.Status, e.Message)
}

// ResultError reports a non-success answer from the history endpoint.
type ResultError struct {
	JobID  string
	Status int
	Body   string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("comfy: history %s: status %d: %s", e.JobID, e.Status, e.Body)
}

// JobFailedError reports a job the engine's history records as failed, or
// as finished without output on the nodes asked for. The job will not
// produce a result.
type JobFailedError struct {
	JobID    string
	NodeID   string
	NodeType string
	Message  string
}

func (e *JobFailedError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("comfy: job %s failed: %s", e.JobID, e.Message)
	}
	return fmt.Sprintf("comfy: job %s failed at node %s (%s): %s", e.JobID, e.NodeID, e.NodeType, e.Message)
}

// ParseError reports a push frame that could not be decoded.
type ParseError struct {
	Frame string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("comfy: malformed frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StatusError reports a non-success answer from any other engine endpoint.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("comfy: %s: status %d: %s", e.Op, e.Status, e.Body)
}
